package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [chunks|references]",
	Short: "Rewrite a vector index from its database table",
	Long: `Rebuild regenerates an index file from the vectors stored in the
database, in stable id order, dropping rows whose vector bytes do not
match the configured dimension. This is the recovery path after a crash
mid-ingest or a document deletion.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"chunks", "references"},
	RunE:      runRebuild,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Compare index row counts against the database",
	RunE:  runHealth,
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List ingested documents",
	RunE:  runDocs,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and its chunks and references",
	Long: `Delete removes a document row; its chunks and references cascade.
The vector indexes keep the deleted vectors until the next rebuild, so run
"arxrag rebuild" afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(rebuildCmd, healthCmd, docsCmd, deleteCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	ctx := cmd.Context()

	target := "both"
	if len(args) > 0 {
		target = args[0]
	}

	if target == "chunks" || target == "both" {
		report, err := eng.RebuildChunkIndex(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("chunk index: %d rows, %d skipped\n", report.Rows, report.Skipped)
	}
	if target == "references" || target == "both" {
		report, err := eng.RebuildReferenceIndex(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("reference index: %d rows, %d skipped\n", report.Rows, report.Skipped)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	h, err := eng.IndexHealth(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("chunks:     index=%d table=%d mismatch=%v\n",
		h.ChunkIndexCount, h.ChunkTableCount, h.ChunkMismatch)
	fmt.Printf("references: index=%d table=%d mismatch=%v\n",
		h.ReferenceIndexCount, h.ReferenceTableCount, h.ReferenceMismatch)
	if !h.Healthy() {
		return fmt.Errorf("index drift detected, run \"arxrag rebuild\"")
	}
	fmt.Println("ok")
	return nil
}

func runDocs(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	docs, err := eng.ListDocuments(cmd.Context())
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents ingested.")
		return nil
	}
	for _, d := range docs {
		fmt.Printf("%4d  %-14s  %s\n", d.ID, d.ArxivID, d.Title)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	var id int64
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return fmt.Errorf("invalid document id %q", args[0])
	}
	if err := eng.DeleteDocument(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("deleted document %d (indexes stale until rebuild)\n", id)
	return nil
}
