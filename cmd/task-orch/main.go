package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "task-orch",
		Short: "Claude Task Orchestrator - file-driven agent task runner",
		Long: `Claude Task Orchestrator watches a directory for task request files,
queues them durably, and executes them through the Claude Code CLI with
bounded concurrency, retries, and result validation.`,
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
