package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.General.MaxParallelOrders != 3 {
		t.Errorf("MaxParallelOrders = %d, want 3", cfg.General.MaxParallelOrders)
	}
	if cfg.StepTimeout() != 30*time.Minute {
		t.Errorf("StepTimeout = %v, want 30m", cfg.StepTimeout())
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q, want 127.0.0.1", cfg.Web.Host)
	}
	if cfg.Agent.Executable != "claude" {
		t.Errorf("Agent.Executable = %q, want claude", cfg.Agent.Executable)
	}
}

func TestLoad_FromFile(t *testing.T) {
	content := `
[general]
database_path = "/test/orders.db"
max_parallel_orders = 5
step_timeout_minutes = 10

[web]
port = 9000

[[repositories]]
id = "billing"
git_dir = "/srv/repos/billing"
default_branch = "main"

[[repositories]]
id = "shop"
git_dir = "/srv/repos/shop"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.DatabasePath != "/test/orders.db" {
		t.Errorf("DatabasePath = %q, want /test/orders.db", cfg.General.DatabasePath)
	}
	if cfg.General.MaxParallelOrders != 5 {
		t.Errorf("MaxParallelOrders = %d, want 5", cfg.General.MaxParallelOrders)
	}
	if cfg.StepTimeout() != 10*time.Minute {
		t.Errorf("StepTimeout = %v, want 10m", cfg.StepTimeout())
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	if len(cfg.Repositories) != 2 {
		t.Fatalf("Repositories = %d entries, want 2", len(cfg.Repositories))
	}
	if cfg.Repositories[0].ID != "billing" || cfg.Repositories[0].DefaultBranch != "main" {
		t.Errorf("Repositories[0] = %+v, want billing on main", cfg.Repositories[0])
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.MaxParallelOrders != 3 {
		t.Errorf("MaxParallelOrders = %d, want default 3", cfg.General.MaxParallelOrders)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero parallel orders", "[general]\nmax_parallel_orders = 0\n"},
		{"repo without id", "[[repositories]]\ngit_dir = \"/srv/x\"\n"},
		{"repo without git_dir", "[[repositories]]\nid = \"x\"\n"},
		{"duplicate repo id", "[[repositories]]\nid = \"x\"\ngit_dir = \"/a\"\n[[repositories]]\nid = \"x\"\ngit_dir = \"/b\"\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, tc.content)); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
