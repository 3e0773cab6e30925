package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskbridge",
	Short: "Turn Slack mentions and commands into tasks",
	Long:  "TaskBridge receives signed Slack webhooks, gathers the surrounding conversation and files a task in the configured record store.",
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
