package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gburachas/arxrag"
)

var (
	askTopK    int
	askShowCtx bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question over the ingested corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 5, "number of chunks to retrieve")
	askCmd.Flags().BoolVar(&askShowCtx, "show-context", false, "print the retrieved chunks")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	question := strings.Join(args, " ")
	ans, err := eng.Ask(cmd.Context(), question, arxrag.WithTopK(askTopK))
	if err != nil {
		return err
	}

	fmt.Println(ans.Text)
	fmt.Println()
	fmt.Println("Sources:")
	for _, s := range ans.Meta.Sources {
		fmt.Printf("  [%d] %s (%s, p.%d)\n", s.Index, s.Title, s.ArxivID, s.Page)
	}
	fmt.Printf("\nmodel=%s tokens=%d latency=%dms chunks=%d/%d\n",
		ans.Meta.ModelUsed, ans.Meta.TotalTokens, ans.Meta.LatencyMs,
		ans.Meta.DedupedChunks, ans.Meta.OriginalChunks)

	if askShowCtx {
		fmt.Println("\nContext:")
		for i, c := range ans.Chunks {
			fmt.Printf("--- chunk %d (score %.3f, %s %s) ---\n%s\n",
				i, c.Score, c.DocArxivID, c.Kind, c.Content)
		}
	}
	return nil
}
