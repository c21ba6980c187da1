package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cirkelline-ai/loom/pkg/client"
	"github.com/cirkelline-ai/loom/pkg/session"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsRenameCommand())
	cmd.AddCommand(newSessionsDeleteCommand())
	return cmd
}

func backendFromFlags() *client.Client {
	return client.NewClient(
		viper.GetString("server"),
		client.WithTeamID(viper.GetString("team-id")),
		client.WithUserID(viper.GetString("user-id")),
	)
}

func newSessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := backendFromFlags()
			fetched, err := backend.FetchSessions(cmd.Context())
			if err != nil {
				return err
			}

			reconciler := session.NewReconciler()
			reconciler.MergeFetched(fetched)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tCREATED\tTITLE")
			for _, rec := range reconciler.Sessions() {
				created := ""
				if !rec.CreatedAt.IsZero() {
					created = rec.CreatedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", rec.SessionID, created, rec.Title)
			}
			return w.Flush()
		},
	}
}

func newSessionsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <new-name>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backendFromFlags().RenameSession(cmd.Context(), args[0], args[1])
		},
	}
}

func newSessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backendFromFlags().DeleteSession(cmd.Context(), args[0])
		},
	}
}
