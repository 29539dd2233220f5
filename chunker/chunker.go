// Package chunker splits per-page document text into bounded, overlapping,
// deduplicated retrieval windows.
package chunker

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens    int // Maximum whitespace tokens per chunk.
	Overlap      int // Tokens carried over into the next window.
	DedupEditMin int // Keep a chunk only if its edit distance to the previous kept chunk exceeds this.
}

// Chunker converts per-page text into store-ready chunk strings.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with the production defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 350
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 60
	}
	if cfg.DedupEditMin == 0 {
		cfg.DedupEditMin = 50
	}
	return &Chunker{cfg: cfg}
}

// Chunk tokenizes pages by whitespace and accumulates tokens into a sliding
// window that crosses page boundaries with no marker. Each time the window
// reaches MaxTokens the joined text is emitted and the window resets to its
// last Overlap tokens. A trailing partial window is emitted as a final chunk,
// so every chunk except possibly the last holds exactly MaxTokens tokens.
//
// Consecutive near-duplicates are then collapsed: a chunk survives only if
// its Levenshtein distance to the immediately preceding kept chunk exceeds
// DedupEditMin. The comparison is local and order-sensitive: overlap
// windows produce runs of near-identical chunks, not scattered ones.
func (c *Chunker) Chunk(pages []string) []string {
	var chunks []string
	var window []string

	for _, page := range pages {
		for _, tok := range strings.Fields(page) {
			window = append(window, tok)
			if len(window) >= c.cfg.MaxTokens {
				chunks = append(chunks, strings.Join(window, " "))
				if c.cfg.Overlap > 0 {
					window = append([]string(nil), window[len(window)-c.cfg.Overlap:]...)
				} else {
					window = nil
				}
			}
		}
	}
	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, " "))
	}

	return c.dedup(chunks)
}

// dedup drops chunks whose edit distance to the previous kept chunk is at or
// below the threshold, keeping first occurrences.
func (c *Chunker) dedup(chunks []string) []string {
	var kept []string
	for _, ch := range chunks {
		if len(kept) == 0 || levenshtein.ComputeDistance(ch, kept[len(kept)-1]) > c.cfg.DedupEditMin {
			kept = append(kept, ch)
		}
	}
	return kept
}
