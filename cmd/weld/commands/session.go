package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage generation sessions",
		Long: `Create and inspect generation sessions.

A session owns one sandbox, a durable file snapshot, and the schema
provisioning state.`,
	}

	cmd.AddCommand(newSessionNewCommand())
	cmd.AddCommand(newSessionShowCommand())

	return cmd
}

func newSessionNewCommand() *cobra.Command {
	var appName string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new session",
		Example: `  # Create a session for an app
  weld session new --app my-notes-app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			session, err := app.engine.CreateSession(cmd.Context(), appName)
			if err != nil {
				return err
			}
			return emit(session, func() {
				fmt.Printf("Session created: %s\n", session.ID)
			})
		},
	}

	cmd.Flags().StringVar(&appName, "app", "", "application name")
	cmd.MarkFlagRequired("app")

	return cmd
}

func newSessionShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			session, err := app.engine.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(session, func() {
				fmt.Printf("Session:      %s\n", session.ID)
				fmt.Printf("App:          %s\n", session.AppName)
				if session.SandboxID != nil {
					fmt.Printf("Sandbox:      %s\n", *session.SandboxID)
				}
				if session.PreviewURL != "" {
					fmt.Printf("Preview:      %s\n", session.PreviewURL)
				}
				if session.SchemaState != "" {
					fmt.Printf("Schema state: %s\n", session.SchemaState)
				}
				if session.SchemaError != nil {
					fmt.Printf("Schema error: %s\n", *session.SchemaError)
				}
			})
		},
	}

	return cmd
}
