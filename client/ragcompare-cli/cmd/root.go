package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	sessionID string
)

var rootCmd = &cobra.Command{
	Use:   "ragcompare-cli",
	Short: "A CLI client to chat with a document and compare models",
	Long: `A command-line interface for the RAG service: upload a document, ask questions about it,
and compare how several model configurations answer the same question.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RAGCOMPARE_SERVER", "http://localhost:8080"), "RAG service base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("RAGCOMPARE_TOKEN"), "bearer token for authenticated sessions")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", os.Getenv("RAGCOMPARE_SESSION"), "session ID (see 'session new')")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *Client {
	return NewClient(serverURL, token)
}

func requireSession() (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("no session: pass --session or set RAGCOMPARE_SESSION (create one with 'session new')")
	}
	return sessionID, nil
}
