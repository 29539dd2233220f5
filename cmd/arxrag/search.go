package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gburachas/arxrag/arxiv"
)

var searchMax int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the arXiv catalog for papers to ingest",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchMax, "max", "m", 10, "maximum results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	client := arxiv.NewClient(cfg.PDFCacheDir())
	papers, err := client.Search(cmd.Context(), strings.Join(args, " "), searchMax)
	if err != nil {
		return err
	}
	if len(papers) == 0 {
		fmt.Println("No papers found.")
		return nil
	}
	for _, p := range papers {
		fmt.Printf("%-14s  %s\n", p.ID, p.Title)
		if len(p.Authors) > 0 {
			fmt.Printf("                %s\n", strings.Join(p.Authors, ", "))
		}
	}
	return nil
}
