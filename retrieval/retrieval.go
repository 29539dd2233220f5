// Package retrieval answers questions over the ingested corpus: semantic
// search against the chunk index, distillation of the retrieved chunks into
// a compact grounding context, and answer generation with a fallback model.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gburachas/arxrag/llm"
	"github.com/gburachas/arxrag/store"
	"github.com/gburachas/arxrag/vecindex"
)

// Embedder is the slice of the embedding gateway the engine needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces chat completions.
type Generator interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Config holds the retrieval and distillation policy.
type Config struct {
	PrimaryModel  string
	FallbackModel string

	NumericHeavyRatio    float64 // digit-dominant token fraction above which text is suppressed
	WordBudget           int     // total words of extracted sentences
	PerChunkSentenceCap  int     // max sentences accepted per source chunk
	SentencePoolFactor   int     // scan top k*factor scored chunks for sentences
	AnswerWordCap        int     // hard cap on generated answer length
	ContextTruncateChars int     // per-chunk display truncation
}

// ContextChunk is a retrieved chunk with its similarity score and document
// metadata, as returned to callers.
type ContextChunk struct {
	store.ChunkWithDoc
	Score      float32 `json:"score"`
	TokenCount int     `json:"token_count"`
}

// Source identifies one cited chunk in the grounding context.
type Source struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	ArxivID string `json:"arxiv_id"`
	Kind    string `json:"kind"`
	Page    int    `json:"page"` // page for image chunks, ordinal for text
}

// Snippet is one distilled sentence tagged with its source index.
type Snippet struct {
	SourceIndex int    `json:"source_index"`
	Text        string `json:"text"`
}

// Meta records how an answer was produced.
type Meta struct {
	Sources          []Source  `json:"sources"`
	Snippets         []Snippet `json:"snippets"`
	ModelUsed        string    `json:"model_used"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	ChunkTokens      []int     `json:"chunk_tokens"`
	OriginalChunks   int       `json:"original_chunks"`
	DedupedChunks    int       `json:"deduped_chunks"`
}

// Engine runs search and answer distillation over the chunk index.
type Engine struct {
	store     *store.Store
	embedder  Embedder
	generator Generator
	indexPath string
	dim       int
	cfg       Config
}

// New creates a retrieval engine. generator may be nil, in which case
// Answer returns the distilled context without a generated answer text.
func New(st *store.Store, embedder Embedder, generator Generator, indexPath string, dim int, cfg Config) *Engine {
	if cfg.NumericHeavyRatio == 0 {
		cfg.NumericHeavyRatio = 0.45
	}
	if cfg.WordBudget == 0 {
		cfg.WordBudget = 800
	}
	if cfg.PerChunkSentenceCap == 0 {
		cfg.PerChunkSentenceCap = 3
	}
	if cfg.SentencePoolFactor == 0 {
		cfg.SentencePoolFactor = 4
	}
	if cfg.AnswerWordCap == 0 {
		cfg.AnswerWordCap = 160
	}
	if cfg.ContextTruncateChars == 0 {
		cfg.ContextTruncateChars = 1200
	}
	return &Engine{store: st, embedder: embedder, generator: generator, indexPath: indexPath, dim: dim, cfg: cfg}
}

// Search embeds the query and returns the k nearest chunks with document
// metadata, deduplicated by index position. A missing chunk index yields
// an empty result, not an error.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]ContextChunk, error) {
	if k <= 0 {
		k = 5
	}

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	qvec := llm.Normalize(vecs[0])

	idx := vecindex.CreateOrLoad(e.indexPath, e.dim)
	hits, err := idx.Search(qvec, k)
	if err != nil {
		return nil, fmt.Errorf("searching chunk index: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	rows, err := e.store.ChunksInIDOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}

	var out []ContextChunk
	seen := make(map[int]bool)
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(rows) {
			slog.Debug("index position out of range, skipping",
				"position", h.Position, "rows", len(rows))
			continue
		}
		if seen[h.Position] {
			continue
		}
		seen[h.Position] = true
		out = append(out, ContextChunk{
			ChunkWithDoc: rows[h.Position],
			Score:        h.Score,
			TokenCount:   len(strings.Fields(rows[h.Position].Content)),
		})
	}
	return out, nil
}

// Answer retrieves the top k chunks for a question, distills them into a
// grounding context, and generates an answer. The returned chunks are
// content-truncated for display.
func (e *Engine) Answer(ctx context.Context, question string, k int) (string, *Meta, []ContextChunk, error) {
	if k <= 0 {
		k = 5
	}

	chunks, err := e.Search(ctx, question, k)
	if err != nil {
		return "", nil, nil, err
	}
	if len(chunks) == 0 {
		return "", nil, nil, nil
	}

	deduped, _ := dedupeByContent(chunks)
	d := e.distill(question, deduped, k)

	meta := &Meta{
		Sources:        d.sources,
		Snippets:       d.snippets,
		OriginalChunks: len(chunks),
		DedupedChunks:  len(deduped),
	}
	for i := range deduped {
		meta.ChunkTokens = append(meta.ChunkTokens, deduped[i].TokenCount)
	}

	var answer string
	if e.generator != nil {
		answer, err = e.generate(ctx, question, d, meta)
		if err != nil {
			return "", meta, truncateChunks(deduped, e.cfg.ContextTruncateChars), err
		}
	}

	return answer, meta, truncateChunks(deduped, e.cfg.ContextTruncateChars), nil
}

const systemPrompt = `You are a research assistant answering questions about scientific papers.
Ground every claim in the provided snippets and cite them with their bracketed
source index, e.g. [0]. Answer in concise prose. Do not produce tables.`

// generate calls the primary model, retrying once against the fallback on
// any failure, and records usage and latency in meta.
func (e *Engine) generate(ctx context.Context, question string, d distilled, meta *Meta) (string, error) {
	prompt := buildPrompt(question, d)
	started := time.Now()

	resp, err := e.chatOnce(ctx, e.cfg.PrimaryModel, prompt)
	if err != nil && e.cfg.FallbackModel != "" {
		slog.Warn("primary model failed, retrying with fallback",
			"primary", e.cfg.PrimaryModel, "fallback", e.cfg.FallbackModel, "error", err)
		resp, err = e.chatOnce(ctx, e.cfg.FallbackModel, prompt)
	}
	meta.LatencyMs = time.Since(started).Milliseconds()
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	meta.ModelUsed = resp.Model
	meta.PromptTokens = resp.PromptTokens
	meta.CompletionTokens = resp.CompletionTokens
	meta.TotalTokens = resp.TotalTokens

	return capWords(resp.Content, e.cfg.AnswerWordCap), nil
}

func (e *Engine) chatOnce(ctx context.Context, model, userPrompt string) (*llm.ChatResponse, error) {
	resp, err := e.generator.Chat(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.2,
		MaxTokens:   700,
	})
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

// buildPrompt assembles the Sources and Snippets blocks with the question.
func buildPrompt(question string, d distilled) string {
	var sb strings.Builder
	sb.WriteString("Sources:\n")
	for _, s := range d.sources {
		fmt.Fprintf(&sb, "[%d] %s (%s, %s, p.%d)\n", s.Index, s.Title, s.ArxivID, s.Kind, s.Page)
	}
	sb.WriteString("\nSnippets:\n")
	for _, sn := range d.snippets {
		fmt.Fprintf(&sb, "[%d] %s\n", sn.SourceIndex, sn.Text)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

// capWords truncates text to at most n words, appending an ellipsis marker
// when truncation happened.
func capWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ") + "…"
}

func truncateChunks(chunks []ContextChunk, maxChars int) []ContextChunk {
	out := make([]ContextChunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		if len(out[i].Content) > maxChars {
			out[i].Content = out[i].Content[:maxChars] + "…"
		}
	}
	return out
}
