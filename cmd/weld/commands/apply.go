package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weldcode/weld/pkg/patch"
)

func newApplyCommand() *cobra.Command {
	var (
		diffFile   string
		maxRetries int
		verify     bool
		fuzzy      bool
	)

	cmd := &cobra.Command{
		Use:   "apply <session-id>",
		Short: "Apply a patch batch",
		Long: `Apply a batch of line-precise diffs to the session's sandbox.

The batch is all-or-nothing: a stale or out-of-bounds hunk rejects the
whole batch with expected-vs-actual diagnostics and nothing is written.

The diff file is a JSON array of file diffs:
  [{"path": "app/page.tsx",
    "hunks": [{"start_line": 4, "end_line": 4, "op": "replace",
               "old_content": "...", "new_content": "..."}]}]`,
		Example: `  # Apply a diff batch
  weld apply SESSION --diff changes.json

  # Apply with content verification against the current file state
  weld apply SESSION --diff changes.json --verify --fuzzy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(diffFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", diffFile, err)
			}
			var diffs []*patch.FileDiff
			if err := json.Unmarshal(data, &diffs); err != nil {
				return fmt.Errorf("failed to parse %s: %w", diffFile, err)
			}
			if len(diffs) == 0 {
				return fmt.Errorf("%s contains no diffs", diffFile)
			}

			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			opts := patch.LoopOptions{
				MaxRetries: maxRetries,
				Apply:      patch.Options{Verify: verify, Fuzzy: fuzzy},
			}
			result, err := app.engine.ApplyPatch(cmd.Context(), args[0], diffs, nil, nil, opts)
			if err != nil {
				return err
			}
			return emit(result, func() {
				if !result.Applied {
					fmt.Printf("Blocked by policy:\n")
					for _, v := range result.Violations {
						fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
					}
					return
				}
				fmt.Printf("Applied %d diff(s) in %d iteration(s)\n", len(diffs), result.Iterations)
				for _, w := range result.Warnings {
					fmt.Printf("Warning: %s\n", w)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&diffFile, "diff", "d", "", "JSON diff batch to apply")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "fix rounds after a failed compile check")
	cmd.Flags().BoolVar(&verify, "verify", true, "verify old content before replacing")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "tolerate whitespace drift during verification")
	cmd.MarkFlagRequired("diff")

	return cmd
}
