package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session and print its ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().CreateSession(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, s.Greeting)
		fmt.Fprintf(out, "Session: %s (authenticated: %t)\n", s.ID, s.Authenticated)
		fmt.Fprintf(out, "export RAGCOMPARE_SESSION=%s\n", s.ID)
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the session and its document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := requireSession()
		if err != nil {
			return err
		}
		s, err := newClient().Session(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session: %s (authenticated: %t)\n", s.ID, s.Authenticated)
		if s.Document == nil {
			fmt.Fprintln(out, "No document uploaded.")
			return nil
		}
		fmt.Fprintf(out, "Document: index %s, %d pages, %d chunks\n", s.Document.Index, s.Document.Pages, s.Document.Chunks)
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the session and drop its index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := requireSession()
		if err != nil {
			return err
		}
		if err := newClient().EndSession(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s ended.\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionNewCmd, sessionShowCmd, sessionEndCmd)
}
