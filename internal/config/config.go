package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Agent         AgentConfig         `toml:"agent"`
	Janitor       JanitorConfig       `toml:"janitor"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Repositories  []RepositoryConfig  `toml:"repositories"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath      string `toml:"database_path"`
	TemplateDir       string `toml:"template_dir"`
	MaxParallelOrders int    `toml:"max_parallel_orders"`
	StepTimeoutMin    int    `toml:"step_timeout_minutes"`
}

// AgentConfig holds agent CLI settings
type AgentConfig struct {
	Executable string `toml:"executable"`
	Model      string `toml:"model"`
}

// JanitorConfig holds sandbox audit settings
type JanitorConfig struct {
	Schedule      string `toml:"schedule"`
	StaleReviewHr int    `toml:"stale_review_hours"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// RepositoryConfig registers a git repository orders may target
type RepositoryConfig struct {
	ID            string `toml:"id"`
	GitDir        string `toml:"git_dir"`
	DefaultBranch string `toml:"default_branch"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:      filepath.Join(home, ".workorder-orchestrator", "orders.db"),
			MaxParallelOrders: 3,
			StepTimeoutMin:    30,
		},
		Agent: AgentConfig{
			Executable: "claude",
			Model:      "claude-sonnet-4-20250514",
		},
		Janitor: JanitorConfig{
			Schedule:      "*/10 * * * *",
			StaleReviewHr: 24,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.TemplateDir = ExpandPath(cfg.General.TemplateDir)
	for i := range cfg.Repositories {
		cfg.Repositories[i].GitDir = ExpandPath(cfg.Repositories[i].GitDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field consistency
func (c *Config) Validate() error {
	if c.General.MaxParallelOrders < 1 {
		return fmt.Errorf("max_parallel_orders must be at least 1, got %d", c.General.MaxParallelOrders)
	}
	if c.General.StepTimeoutMin < 1 {
		return fmt.Errorf("step_timeout_minutes must be at least 1, got %d", c.General.StepTimeoutMin)
	}
	seen := make(map[string]bool)
	for _, repo := range c.Repositories {
		if repo.ID == "" {
			return fmt.Errorf("repository entry is missing an id")
		}
		if repo.GitDir == "" {
			return fmt.Errorf("repository %s is missing git_dir", repo.ID)
		}
		if seen[repo.ID] {
			return fmt.Errorf("duplicate repository id %s", repo.ID)
		}
		seen[repo.ID] = true
	}
	return nil
}

// StepTimeout returns the per-step timeout as a duration
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.General.StepTimeoutMin) * time.Minute
}

// StaleReviewAge returns how long a review may hold a sandbox before
// the janitor flags it. Zero disables the check.
func (c *Config) StaleReviewAge() time.Duration {
	return time.Duration(c.Janitor.StaleReviewHr) * time.Hour
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "workorder-orchestrator", "config.toml")
}
