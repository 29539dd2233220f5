package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	refsTopN int
	refsDoc  int64
)

var refsCmd = &cobra.Command{
	Use:   "refs <query>",
	Short: "Search bibliography entries semantically",
	Long: `Refs embeds the query and returns the nearest indexed references.
With --doc the search is restricted to one document's bibliography; when
that yields nothing, the restriction is relaxed and the nearest references
from the whole corpus are returned instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRefs,
}

func init() {
	refsCmd.Flags().IntVarP(&refsTopN, "top-n", "n", 5, "number of references to return")
	refsCmd.Flags().Int64Var(&refsDoc, "doc", 0, "restrict to a document id")
	rootCmd.AddCommand(refsCmd)
}

func runRefs(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	refs, err := eng.SearchReferences(cmd.Context(), strings.Join(args, " "), refsTopN, refsDoc)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Println("No references found.")
		return nil
	}
	for _, r := range refs {
		fmt.Printf("doc=%d pos=%d %s\n", r.DocumentID, r.Position, r.RawText)
		if r.ArxivID != "" || r.Authors != "" {
			fmt.Printf("    arxiv=%s authors=%s\n", r.ArxivID, r.Authors)
		}
	}
	return nil
}
