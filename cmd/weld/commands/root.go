package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "weld",
		Short: "Weld - Sandbox Mutation Control Plane",
		Long: `Weld coordinates safe mutation of remote workspace sandboxes for
automated code generation.

Features:
  - Reconnect-or-recreate sandbox resolution with snapshot restore
  - Policy-gated file mutations (OPA/Rego)
  - Line-precise patches with compile validation loops
  - Schema provisioning with dry-run validation and verification
  - Local dev sync via filesystem watching`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newSessionCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newMutateCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
