package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// Embedding-batch limits. text-embedding-3-large has an 8192-token context
// window per item; whitespace words are treated as tokens (fast, slightly
// conservative) and batches are kept under a combined budget so a single
// request never trips the provider's hard limit.
const (
	defaultPerItemTokenLimit = 8190
	defaultBatchTokenBudget  = 6000
)

// Gateway wraps a Provider's Embed with the batching policy and the
// dimension contract. Exactly one Gateway is constructed per engine and
// passed to every component that embeds (no process-wide singleton).
type Gateway struct {
	provider Provider
	dim      int

	// Tunable for tests; zero values fall back to the defaults above.
	PerItemTokenLimit int
	BatchTokenBudget  int
}

// NewGateway returns a Gateway enforcing vectors of dimension dim.
func NewGateway(p Provider, dim int) *Gateway {
	return &Gateway{provider: p, dim: dim}
}

// Dim returns the enforced embedding dimension.
func (g *Gateway) Dim() int { return g.dim }

// Embed returns one vector per input text, in input order. Each text is
// truncated to the per-item token limit; texts are grouped into batches
// that stay under the batch token budget, flushing whenever the next item
// would overflow. Any batch returning a vector of the wrong dimension
// fails with ErrDimensionMismatch.
//
// Outputs are returned as the provider produced them: callers normalize.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	perItem := g.PerItemTokenLimit
	if perItem == 0 {
		perItem = defaultPerItemTokenLimit
	}
	budget := g.BatchTokenBudget
	if budget == 0 {
		budget = defaultBatchTokenBudget
	}

	var all [][]float32
	var batch []string
	batchTokens := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vecs, err := g.provider.Embed(ctx, batch)
		if err != nil {
			return err
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embedding call returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for i, v := range vecs {
			if len(v) != g.dim {
				return fmt.Errorf("%w: got %d, want %d (batch item %d)", ErrDimensionMismatch, len(v), g.dim, i)
			}
		}
		all = append(all, vecs...)
		batch = batch[:0]
		batchTokens = 0
		return nil
	}

	for _, raw := range texts {
		t := truncateTokens(raw, perItem)
		n := len(strings.Fields(t))
		if len(batch) > 0 && batchTokens+n > budget {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, t)
		batchTokens += n
	}
	if err := flush(); err != nil {
		return nil, err
	}

	slog.Debug("llm: embedded texts", "count", len(texts), "dim", g.dim)
	return all, nil
}

// truncateTokens cuts text to at most limit whitespace tokens.
func truncateTokens(text string, limit int) string {
	toks := strings.Fields(text)
	if len(toks) <= limit {
		// Preserve the original text (including its whitespace) when no
		// truncation is needed.
		return text
	}
	return strings.Join(toks[:limit], " ")
}

// Normalize scales v to unit length in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// NormalizeAll unit-normalizes every vector in place and returns the slice.
func NormalizeAll(vecs [][]float32) [][]float32 {
	for _, v := range vecs {
		Normalize(v)
	}
	return vecs
}
