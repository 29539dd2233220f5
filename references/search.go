package references

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gburachas/arxrag/llm"
	"github.com/gburachas/arxrag/store"
	"github.com/gburachas/arxrag/vecindex"
)

// poolFactor widens the candidate pool over top_n so that post-filtering
// by document still has material to work with.
const poolFactor = 3

// Embedder is the slice of the embedding gateway the searcher needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher answers semantic lookups over the reference index.
type Searcher struct {
	store     *store.Store
	embedder  Embedder
	indexPath string
	dim       int
}

// NewSearcher creates a reference searcher backed by the given store and
// index file.
func NewSearcher(st *store.Store, embedder Embedder, indexPath string, dim int) *Searcher {
	return &Searcher{store: st, embedder: embedder, indexPath: indexPath, dim: dim}
}

// Search embeds the query and returns up to topN references nearest to it.
// A non-zero restrictDoc keeps only references belonging to that document;
// when the restriction filters out every candidate, the same pool is
// re-scanned unrestricted so an over-narrow restriction does not produce
// an empty answer where a wider one exists.
//
// The reference index is loaded strictly: a missing or corrupt index file
// is an error, not an empty result.
func (s *Searcher) Search(ctx context.Context, query string, topN int, restrictDoc int64) ([]store.Reference, error) {
	if topN <= 0 {
		topN = 5
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	qvec := llm.Normalize(vecs[0])

	idx, err := vecindex.Load(s.indexPath, s.dim)
	if err != nil {
		return nil, fmt.Errorf("loading reference index: %w", err)
	}

	hits, err := idx.Search(qvec, topN*poolFactor)
	if err != nil {
		return nil, fmt.Errorf("searching reference index: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	refs, err := s.store.ReferencesInIDOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading references: %w", err)
	}

	out := collect(hits, refs, topN, restrictDoc)
	if len(out) == 0 && restrictDoc != 0 {
		slog.Debug("reference restriction yielded nothing, relaxing",
			"document_id", restrictDoc, "pool", len(hits))
		out = collect(hits, refs, topN, 0)
	}
	return out, nil
}

// collect maps index positions back to reference rows in stable id order,
// dropping out-of-range positions, and applies the optional document
// restriction.
func collect(hits []vecindex.Hit, refs []store.Reference, topN int, restrictDoc int64) []store.Reference {
	var out []store.Reference
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(refs) {
			continue
		}
		ref := refs[h.Position]
		if restrictDoc != 0 && ref.DocumentID != restrictDoc {
			continue
		}
		out = append(out, ref)
		if len(out) >= topN {
			break
		}
	}
	return out
}
