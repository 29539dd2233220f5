// Command arxrag is the CLI for the arxrag engine: ingest arXiv papers,
// ask questions over them, search references, and maintain the indexes.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gburachas/arxrag"
)

var (
	cfgFile string
	verbose bool
	cfg     arxrag.Config
)

var rootCmd = &cobra.Command{
	Use:   "arxrag",
	Short: "Retrieval-augmented question answering over arXiv papers",
	Long: `arxrag ingests arXiv papers into a chunked, embedded corpus and answers
questions over it with grounded, citation-bearing generation.

Example usage:
  arxrag ingest 1706.03762 2005.14165   # Ingest papers by arXiv id
  arxrag ask "how does attention work"  # Ask a question over the corpus
  arxrag refs "residual connections"    # Search bibliography entries
  arxrag health                         # Check index/table consistency`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Env first, so the config file can reference fewer secrets.
		if err := godotenv.Load(); err == nil {
			slog.Debug("loaded .env file")
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if cfgFile != "" {
			var err error
			cfg, err = arxrag.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		} else {
			cfg = arxrag.DefaultConfig()
		}
		applyEnv(&cfg)
		return nil
	},
}

// applyEnv fills API keys from the environment when the config leaves them
// empty.
func applyEnv(c *arxrag.Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Chat.APIKey == "" {
			c.Chat.APIKey = key
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if dir := os.Getenv("ARXRAG_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
}

func newEngine() (arxrag.Engine, error) {
	return arxrag.New(cfg)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
