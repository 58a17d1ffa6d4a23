package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <session-id>",
		Short: "Resolve a session to a live sandbox",
		Long: `Resolve a session to a live sandbox.

Reconnects to the session's existing sandbox when it still responds;
otherwise creates a fresh one from the template and replays the file
snapshot into it.`,
		Example: `  # Resolve (reconnect or recreate) the session's sandbox
  weld resolve 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			res, err := app.engine.ResolveSandbox(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(res, func() {
				fmt.Printf("Sandbox:   %s\n", res.SandboxID)
				fmt.Printf("Preview:   %s\n", res.PreviewURL)
				fmt.Printf("Recreated: %v\n", res.Recreated)
				if res.Recreated && res.RestoreFailures > 0 {
					fmt.Printf("Restore:   %d entries failed (degraded: %v)\n",
						res.RestoreFailures, res.Degraded)
				}
			})
		},
	}

	return cmd
}
