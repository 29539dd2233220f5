package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gburachas/arxrag"
)

var (
	ingestReset    bool
	ingestSkipRefs bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <arxiv-id> [arxiv-id...]",
	Short: "Fetch, chunk, embed, and index arXiv papers",
	Long: `Ingest downloads each paper's PDF (skipping already cached files),
extracts its text, chunks and embeds it, and appends the vectors to the
chunk index. Bibliography entries are extracted and indexed as well unless
--skip-references is given.

A failing paper is reported and the batch continues with the next one.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "wipe the corpus and indexes before ingesting")
	ingestCmd.Flags().BoolVar(&ingestSkipRefs, "skip-references", false, "skip the reference-extraction pass")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	ctx := cmd.Context()

	if ingestReset {
		fmt.Println("Resetting corpus and indexes...")
		if err := eng.Reset(ctx); err != nil {
			return err
		}
	}

	var opts []arxrag.IngestOption
	if ingestSkipRefs {
		opts = append(opts, arxrag.WithoutReferences())
	}

	bar := progressbar.NewOptions(len(args),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)

	// One id per call so the bar advances per paper and a crash loses at
	// most one paper's index vectors.
	failed := 0
	for _, id := range args {
		results, err := eng.Ingest(ctx, []string{id}, opts...)
		if err != nil {
			return err
		}
		for _, res := range results {
			if res.Err != nil {
				failed++
				fmt.Printf("  %s: %v\n", res.ArxivID, res.Err)
				continue
			}
			fmt.Printf("  %s: document %d, %d chunks, %d references\n",
				res.ArxivID, res.DocumentID, res.Chunks, res.References)
		}
		bar.Add(1)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d papers failed", failed, len(args))
	}
	return nil
}
