package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect mutation policies",
	}

	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Long: `List the mutation policies the engine enforces: the builtin
editable-scope and package-allowlist policies plus any configured
overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			policies := app.policies.ListPolicies()
			return emit(policies, func() {
				for _, p := range policies {
					state := "enabled"
					if !p.Enabled {
						state = "disabled"
					}
					fmt.Printf("%-20s %-8s %-8s %s\n", p.Name, p.Severity, state, p.Description)
				}
			})
		},
	}

	return cmd
}
