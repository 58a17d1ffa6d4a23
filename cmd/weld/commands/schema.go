package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weldcode/weld/pkg/schema"
	"github.com/weldcode/weld/pkg/stores"
)

func newSchemaCommand() *cobra.Command {
	var (
		sqlFile  string
		specFile string
	)

	cmd := &cobra.Command{
		Use:   "schema <session-id>",
		Short: "Provision the session's database schema",
		Long: `Run the schema provisioning pipeline for a session.

The input is either raw SQL DDL or a declarative CUE storage spec that
is validated and rendered to DDL. The pipeline dry-runs the statements,
executes them under the retry budget, and verifies that tables exist.`,
		Example: `  # Provision from raw DDL
  weld schema SESSION --sql schema.sql

  # Provision from a CUE storage spec
  weld schema SESSION --spec storage.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (sqlFile == "") == (specFile == "") {
				return fmt.Errorf("exactly one of --sql or --spec is required")
			}

			var input schema.Input
			if sqlFile != "" {
				data, err := os.ReadFile(sqlFile)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", sqlFile, err)
				}
				input.SQL = string(data)
			} else {
				data, err := os.ReadFile(specFile)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", specFile, err)
				}
				input.Spec = string(data)
			}

			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			result, err := app.engine.RunSchema(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			return emit(result, func() {
				if result.State == stores.SchemaStateError {
					fmt.Printf("Provisioning failed: %s\n", result.Error)
					return
				}
				fmt.Printf("Schema provisioned (%d table(s))\n", len(result.Tables))
				for _, table := range result.Tables {
					fmt.Printf("  %s\n", table)
				}
			})
		},
	}

	cmd.Flags().StringVar(&sqlFile, "sql", "", "SQL DDL file")
	cmd.Flags().StringVar(&specFile, "spec", "", "CUE storage spec file")

	return cmd
}
