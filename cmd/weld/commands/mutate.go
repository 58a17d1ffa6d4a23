package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weldcode/weld/pkg/engine"
)

func newMutateCommand() *cobra.Command {
	var (
		fromFile string
		content  string
		remove   bool
	)

	cmd := &cobra.Command{
		Use:   "mutate <session-id> <path>",
		Short: "Write or delete a single file in the sandbox",
		Long: `Write or delete one file in the session's sandbox.

The mutation is policy-gated, applied to the live sandbox, and recorded
in the session's durable snapshot so it survives sandbox loss.`,
		Example: `  # Write a file from a local source
  weld mutate SESSION app/page.tsx --file ./page.tsx

  # Write inline content
  weld mutate SESSION lib/flags.ts --content 'export const beta = true;'

  # Delete a file
  weld mutate SESSION app/old.tsx --delete`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, path := args[0], args[1]

			req := engine.MutationRequest{Path: path}
			switch {
			case remove:
				req.Op = engine.OpDelete
			case fromFile != "":
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", fromFile, err)
				}
				req.Op = engine.OpWrite
				req.Content = string(data)
			case content != "":
				req.Op = engine.OpWrite
				req.Content = content
			default:
				return fmt.Errorf("one of --file, --content or --delete is required")
			}

			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			result, err := app.engine.MutateFile(cmd.Context(), sessionID, req)
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
				fmt.Printf("Applied %s to %s\n", req.Op, result.Path)
				if result.PreviewURL != "" {
					fmt.Printf("Preview: %s\n", result.PreviewURL)
				}
			})
		},
	}

	cmd.Flags().StringVar(&fromFile, "file", "", "local file to write")
	cmd.Flags().StringVar(&content, "content", "", "inline content to write")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the file")

	return cmd
}
