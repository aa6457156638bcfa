package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"cobalt-hq/saturn/pkg/dsl/source"
	"cobalt-hq/saturn/pkg/store"
)

var validateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Validate definition files",
	Long: `Validate every rule set and workflow definition file in a directory
without touching the configured stores. Exit status is non-zero when any
file is rejected.

Examples:
  saturn validate ./definitions`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load into a throwaway store; only validation output matters.
	loader := source.NewLoader(store.NewMemory(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	report, err := loader.LoadDir(context.Background(), args[0])
	if err != nil {
		return err
	}

	for _, ferr := range report.Errors {
		fmt.Fprintln(cmd.ErrOrStderr(), ferr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rule set(s), %d workflow(s) valid\n", report.RuleSets, report.Workflows)

	if len(report.Errors) > 0 {
		return fmt.Errorf("%d definition file(s) rejected", len(report.Errors))
	}
	return nil
}
