package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "saturn",
	Short: "Saturn - configurable rules and workflow engine",
	Long: `Saturn is a configurable rules and workflow engine for insurance
decisioning.

Institutions describe their decision logic as versioned rule sets and
workflow definitions; Saturn evaluates rules against immutable fact
contexts, drives workflow instances through their states, and dispatches
actions to agents, delegated rule sets, and AI analysis tasks. Every
decision is retained as an append-only instance history.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
