package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	uploadMime  string
	askStream   bool
	showSources bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file-path]",
	Short: "Upload a PDF, text or Word document to the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := requireSession()
		if err != nil {
			return err
		}
		doc, err := newClient().Upload(cmd.Context(), id, args[0], uploadMime)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d pages, %d chunks (index %s)\n", args[0], doc.Pages, doc.Chunks, doc.Index)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the uploaded document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := requireSession()
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")
		out := cmd.OutOrStdout()

		var ans *Answer
		if askStream {
			ans, err = newClient().AskStream(cmd.Context(), id, query, func(frag string) {
				fmt.Fprint(out, frag)
			})
			fmt.Fprintln(out)
		} else {
			ans, err = newClient().Ask(cmd.Context(), id, query)
			if err == nil {
				fmt.Fprintln(out, ans.Answer)
			}
		}
		if err != nil {
			return err
		}
		if showSources {
			for _, s := range ans.Sources {
				fmt.Fprintf(out, "  [page %d, score %.3f] %s\n", s.Page, s.Score, s.Text)
			}
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the session's conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := requireSession()
		if err != nil {
			return err
		}
		turns, err := newClient().History(cmd.Context(), id)
		if err != nil {
			return err
		}
		printTurns(cmd, turns)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the session's conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := requireSession()
		if err != nil {
			return err
		}
		if err := newClient().Reset(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Conversation cleared.")
		return nil
	},
}

func printTurns(cmd *cobra.Command, turns []Turn) {
	out := cmd.OutOrStdout()
	for _, t := range turns {
		role := "User"
		if t.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(out, "%s: %s\n", role, t.Text)
	}
}

func init() {
	uploadCmd.Flags().StringVar(&uploadMime, "mime", "", "content type of the file (detected by the server when empty)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	askCmd.Flags().BoolVar(&showSources, "sources", false, "print the chunks the answer was grounded on")
	rootCmd.AddCommand(uploadCmd, askCmd, historyCmd, resetCmd)
}
