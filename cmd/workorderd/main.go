package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "workorderd",
		Short: "Agent work order orchestrator",
		Long: `workorderd accepts work orders against registered git repositories and
drives each one through its configured workflow steps with coding agents.
Orders pause at human review gates and survive restarts in SQLite.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
