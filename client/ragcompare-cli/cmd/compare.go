package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var compareModels []string

var compareCmd = &cobra.Command{
	Use:   "compare [question]",
	Short: "Ask several model configurations the same question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := requireSession()
		if err != nil {
			return err
		}
		client := newClient()
		catalog, err := client.Models(cmd.Context())
		if err != nil {
			return err
		}
		results, err := client.Compare(cmd.Context(), id, strings.Join(args, " "), compareModels)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		// Catalog order, not map order.
		for _, mc := range catalog {
			res, ok := results[mc.Name]
			if !ok {
				continue
			}
			fmt.Fprintf(out, "== %s (%d ms)\n", mc.Name, res.LatencyMS)
			if res.Error != "" {
				fmt.Fprintf(out, "error [%s]: %s\n", res.ErrorKind, res.Error)
				continue
			}
			fmt.Fprintln(out, res.Answer)
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model configurations available for comparison",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := newClient().Models(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, mc := range catalog {
			rag := ""
			if mc.UsesRAG {
				rag = " [RAG]"
			}
			fmt.Fprintf(out, "%s%s: %s (%s)\n", mc.Name, rag, mc.Description, mc.ModelName)
		}
		return nil
	},
}

func init() {
	compareCmd.Flags().StringSliceVar(&compareModels, "models", nil, "configurations to compare (default all)")
	rootCmd.AddCommand(compareCmd, modelsCmd)
}
