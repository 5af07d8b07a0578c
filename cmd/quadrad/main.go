// Package main implements the quadrad CLI, the front door to the
// four-phase orchestration kernel.
//
// Configuration is loaded from ~/.config/quadra/config.yaml (or
// /etc/quadra/config.yaml) with environment variable overrides. See
// internal/config for details.
//
// Usage:
//
//	# Run a task with the default budget
//	quadrad run "summarize the quarterly report"
//
//	# Read the task from stdin with a larger budget
//	cat task.txt | quadrad run --ttl 5 -
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quadrad",
	Short: "Orchestration kernel for budgeted multi-pass reasoning",
	Long: `quadrad drives a task through a fixed four-phase cycle: profiling,
plan refinement, execution, and adaptive depth. Each full cycle consumes
one unit of the TTL budget; the run ends on convergence, budget
expiration, or a structured failure.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (default ~/.config/quadra/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("quadrad %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}
