// Package arxrag ingests arXiv papers into a chunked, embedded corpus and
// answers questions over it with grounded, citation-bearing generation.
package arxrag

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/gburachas/arxrag/arxiv"
	"github.com/gburachas/arxrag/chunker"
	"github.com/gburachas/arxrag/llm"
	"github.com/gburachas/arxrag/parser"
	"github.com/gburachas/arxrag/references"
	"github.com/gburachas/arxrag/retrieval"
	"github.com/gburachas/arxrag/store"
	"github.com/gburachas/arxrag/vecindex"
)

// Engine is the main entry point for the arxrag engine.
type Engine interface {
	// Ingest fetches, parses, chunks, embeds, and indexes the given arXiv
	// ids. Items are processed in order; a failing item is reported in its
	// result and does not abort the batch. Indexes are persisted once,
	// after the whole batch.
	Ingest(ctx context.Context, ids []string, opts ...IngestOption) ([]IngestResult, error)

	// Ask runs a question through retrieval, context distillation, and
	// answer generation.
	Ask(ctx context.Context, question string, opts ...AskOption) (*Answer, error)

	// SearchReferences finds the references nearest to the query text.
	// restrictDoc limits results to one document's bibliography; pass 0
	// for no restriction.
	SearchReferences(ctx context.Context, query string, topN int, restrictDoc int64) ([]store.Reference, error)

	// RebuildChunkIndex rewrites the chunk index from the chunks table.
	RebuildChunkIndex(ctx context.Context) (*RebuildReport, error)

	// RebuildReferenceIndex rewrites the reference index from the
	// doc_references table.
	RebuildReferenceIndex(ctx context.Context) (*RebuildReport, error)

	// IndexHealth compares index row counts against dimension-valid table
	// rows and flags drift large enough to warrant a rebuild.
	IndexHealth(ctx context.Context) (*HealthReport, error)

	// ListDocuments returns all ingested documents.
	ListDocuments(ctx context.Context) ([]store.Document, error)

	// DeleteDocument removes a document and its chunks and references.
	// The indexes become stale until rebuilt.
	DeleteDocument(ctx context.Context, id int64) error

	// FirstReference returns a document's first parsed bibliography
	// entry, or nil when it has none.
	FirstReference(ctx context.Context, docID int64) (*store.Reference, error)

	// Reset deletes the whole corpus and the persisted index files.
	Reset(ctx context.Context) error

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// SourceItem is a fetched source artifact with its catalog metadata.
type SourceItem struct {
	ArxivID string `json:"arxiv_id"`
	Title   string `json:"title"`
	Authors string `json:"authors"`
	PDFPath string `json:"pdf_path"`
}

// Fetcher resolves an external catalog id to a locally cached artifact.
// Fetches must be idempotent with respect to already cached artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (*SourceItem, error)
}

// IngestResult reports the outcome of one batch item.
type IngestResult struct {
	ArxivID    string `json:"arxiv_id"`
	DocumentID int64  `json:"document_id,omitempty"`
	Chunks     int    `json:"chunks"`
	References int    `json:"references"`
	Err        error  `json:"-"`
}

// Answer is the result of an Ask call.
type Answer struct {
	Text   string                   `json:"text"`
	Meta   *retrieval.Meta          `json:"meta"`
	Chunks []retrieval.ContextChunk `json:"chunks"`
}

// RebuildReport summarizes an index rebuild.
type RebuildReport struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"` // malformed vector rows left out
}

// HealthReport compares persisted index sizes with table row counts.
type HealthReport struct {
	ChunkIndexCount     int  `json:"chunk_index_count"`
	ChunkTableCount     int  `json:"chunk_table_count"`
	ChunkMismatch       bool `json:"chunk_mismatch"`
	ReferenceIndexCount int  `json:"reference_index_count"`
	ReferenceTableCount int  `json:"reference_table_count"`
	ReferenceMismatch   bool `json:"reference_mismatch"`
}

// Healthy reports whether neither index has drifted.
func (h *HealthReport) Healthy() bool {
	return !h.ChunkMismatch && !h.ReferenceMismatch
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	skipReferences bool
}

// WithoutReferences disables the reference-extraction pass for this call.
func WithoutReferences() IngestOption {
	return func(o *ingestOptions) { o.skipReferences = true }
}

// AskOption configures query behavior.
type AskOption func(*askOptions)

type askOptions struct {
	topK int
}

// WithTopK sets the number of chunks retrieved for the question.
func WithTopK(k int) AskOption {
	return func(o *askOptions) { o.topK = k }
}

// Option configures engine construction, mainly for injecting test
// collaborators in place of network-backed ones.
type Option func(*engine)

// WithFetcher replaces the arXiv source fetcher.
func WithFetcher(f Fetcher) Option {
	return func(e *engine) { e.fetcher = f }
}

// WithEmbeddingProvider replaces the embedding provider.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(e *engine) { e.embedLLM = p }
}

// WithGenerator replaces the answer generator.
func WithGenerator(g retrieval.Generator) Option {
	return func(e *engine) { e.generator = g }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	fetcher   Fetcher
	embedLLM  llm.Provider
	generator retrieval.Generator
	gateway   *llm.Gateway
	chunkr    *chunker.Chunker
	retriever *retrieval.Engine
	refSearch *references.Searcher

	// extractPages is swappable so tests can feed synthetic page text
	// without crafting PDF files.
	extractPages func(path string) ([]string, error)
}

// New creates an arxrag engine from configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{cfg: cfg, store: s, extractPages: parser.ExtractPages}
	for _, o := range opts {
		o(e)
	}

	if e.embedLLM == nil {
		embedCfg := llm.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			BaseURL:  cfg.Embedding.BaseURL,
			APIKey:   cfg.Embedding.APIKey,
		}
		if cfg.OfflineEmbedding {
			embedCfg = llm.Config{Provider: "offline", Dim: cfg.EmbeddingDim}
		}
		e.embedLLM, err = llm.NewProvider(embedCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	if e.generator == nil && cfg.Chat.Provider != "" {
		chatLLM, err := llm.NewProvider(llm.Config{
			Provider: cfg.Chat.Provider,
			Model:    cfg.Chat.Model,
			BaseURL:  cfg.Chat.BaseURL,
			APIKey:   cfg.Chat.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		e.generator = chatLLM
	}

	if e.fetcher == nil {
		e.fetcher = &arxivFetcher{client: arxiv.NewClient(cfg.PDFCacheDir())}
	}

	e.gateway = llm.NewGateway(e.embedLLM, cfg.EmbeddingDim)
	e.chunkr = chunker.New(chunker.Config{
		MaxTokens:    cfg.MaxChunkTokens,
		Overlap:      cfg.ChunkOverlap,
		DedupEditMin: cfg.ChunkDedupEditMin,
	})
	e.retriever = retrieval.New(s, e.gateway, e.generator, cfg.ChunkIndexPath(), cfg.EmbeddingDim, retrieval.Config{
		PrimaryModel:         cfg.Chat.Model,
		FallbackModel:        cfg.FallbackChatModel,
		NumericHeavyRatio:    cfg.Distill.NumericHeavyRatio,
		WordBudget:           cfg.Distill.WordBudget,
		PerChunkSentenceCap:  cfg.Distill.PerChunkSentenceCap,
		SentencePoolFactor:   cfg.Distill.SentencePoolFactor,
		AnswerWordCap:        cfg.Distill.AnswerWordCap,
		ContextTruncateChars: cfg.Distill.ContextTruncateChars,
	})
	e.refSearch = references.NewSearcher(s, e.gateway, cfg.ReferenceIndexPath(), cfg.EmbeddingDim)

	return e, nil
}

// arxivFetcher adapts the arXiv API client to the Fetcher interface.
type arxivFetcher struct {
	client *arxiv.Client
}

func (f *arxivFetcher) Fetch(ctx context.Context, id string) (*SourceItem, error) {
	paper, err := f.client.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	path, err := f.client.FetchPDF(ctx, paper)
	if err != nil {
		return nil, err
	}
	return &SourceItem{
		ArxivID: paper.ID,
		Title:   paper.Title,
		Authors: strings.Join(paper.Authors, ", "),
		PDFPath: path,
	}, nil
}

// Ingest runs the batch ingestion pipeline.
func (e *engine) Ingest(ctx context.Context, ids []string, opts ...IngestOption) ([]IngestResult, error) {
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}
	withRefs := e.cfg.EmbedReferences && !options.skipReferences

	chunkIdx := vecindex.CreateOrLoad(e.cfg.ChunkIndexPath(), e.cfg.EmbeddingDim)
	var refIdx *vecindex.Index
	if withRefs {
		refIdx = vecindex.CreateOrLoad(e.cfg.ReferenceIndexPath(), e.cfg.EmbeddingDim)
	}

	results := make([]IngestResult, 0, len(ids))
	for _, id := range ids {
		res := e.ingestOne(ctx, id, chunkIdx, refIdx)
		if res.Err != nil {
			slog.Error("ingest item failed", "arxiv_id", id, "error", res.Err)
		}
		results = append(results, res)
	}

	// Batch-level flush. A crash before this point leaves committed rows
	// without index vectors; the rebuild operations repair that.
	if err := chunkIdx.Persist(e.cfg.ChunkIndexPath()); err != nil {
		return results, fmt.Errorf("%w: persisting chunk index: %v", ErrIndexUnavailable, err)
	}
	if refIdx != nil {
		if err := refIdx.Persist(e.cfg.ReferenceIndexPath()); err != nil {
			return results, fmt.Errorf("%w: persisting reference index: %v", ErrIndexUnavailable, err)
		}
	}
	return results, nil
}

// ingestOne processes a single source item. The Document row, once
// created, is kept on later-stage failure; partial ingestion is visible
// rather than rolled back.
func (e *engine) ingestOne(ctx context.Context, id string, chunkIdx, refIdx *vecindex.Index) IngestResult {
	res := IngestResult{ArxivID: id}

	item, err := e.fetcher.Fetch(ctx, id)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %v", ErrFetchFailed, id, err)
		return res
	}
	res.ArxivID = item.ArxivID

	docID, err := e.store.InsertDocument(ctx, store.Document{
		ArxivID: item.ArxivID,
		Title:   item.Title,
		Authors: item.Authors,
		PDFPath: item.PDFPath,
	})
	if err != nil {
		res.Err = fmt.Errorf("inserting document: %w", err)
		return res
	}
	res.DocumentID = docID

	pages, err := e.extractPages(item.PDFPath)
	if err != nil {
		res.Err = fmt.Errorf("extracting text: %w", err)
		return res
	}

	texts := e.chunkr.Chunk(pages)
	if len(texts) == 0 {
		slog.Warn("no chunks extracted, skipping item", "arxiv_id", item.ArxivID)
		return res
	}

	vecs, err := e.gateway.Embed(ctx, texts)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return res
	}
	llm.NormalizeAll(vecs)

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			DocumentID: docID,
			Kind:       "text",
			Content:    text,
			Ord:        i,
			Embedding:  vecToBytes(vecs[i]),
		}
	}
	if _, err := e.store.InsertChunks(ctx, chunks); err != nil {
		res.Err = fmt.Errorf("inserting chunks: %w", err)
		return res
	}
	if err := chunkIdx.Add(vecs); err != nil {
		res.Err = fmt.Errorf("indexing chunks: %w", err)
		return res
	}
	res.Chunks = len(chunks)

	if refIdx != nil {
		n, err := e.ingestReferences(ctx, docID, pages, refIdx)
		if err != nil {
			res.Err = err
			return res
		}
		res.References = n
	}
	return res
}

func (e *engine) ingestReferences(ctx context.Context, docID int64, pages []string, refIdx *vecindex.Index) (int, error) {
	raw := references.Extract(pages)
	if len(raw) == 0 {
		return 0, nil
	}

	vecs, err := e.gateway.Embed(ctx, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: references: %v", ErrEmbeddingFailed, err)
	}
	llm.NormalizeAll(vecs)

	rows := make([]store.Reference, len(raw))
	for i, text := range raw {
		rows[i] = store.Reference{
			DocumentID: docID,
			RawText:    text,
			ArxivID:    references.ExtractArxivID(text),
			Authors:    strings.Join(references.ExtractAuthors(text), ", "),
			Position:   i,
			Embedding:  vecToBytes(vecs[i]),
		}
	}
	if err := e.store.InsertReferences(ctx, rows); err != nil {
		return 0, fmt.Errorf("inserting references: %w", err)
	}
	if err := refIdx.Add(vecs); err != nil {
		return 0, fmt.Errorf("indexing references: %w", err)
	}
	return len(rows), nil
}

// Ask answers a question over the ingested corpus and records the exchange
// in the query log.
func (e *engine) Ask(ctx context.Context, question string, opts ...AskOption) (*Answer, error) {
	options := &askOptions{topK: 5}
	for _, o := range opts {
		o(options)
	}

	started := time.Now()
	text, meta, chunks, err := e.retriever.Answer(ctx, question, options.topK)
	if err != nil {
		if meta != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		return nil, err
	}
	if meta == nil {
		return nil, ErrNoResults
	}

	logEntry := store.QueryLog{
		Query:            question,
		TopK:             options.topK,
		Answer:           text,
		ModelUsed:        meta.ModelUsed,
		PromptTokens:     meta.PromptTokens,
		CompletionTokens: meta.CompletionTokens,
		TotalTokens:      meta.TotalTokens,
		LatencyMs:        time.Since(started).Milliseconds(),
	}
	if err := e.store.LogQuery(ctx, logEntry); err != nil {
		slog.Warn("query log write failed", "error", err)
	}

	return &Answer{Text: text, Meta: meta, Chunks: chunks}, nil
}

// SearchReferences runs a semantic lookup over the reference index.
func (e *engine) SearchReferences(ctx context.Context, query string, topN int, restrictDoc int64) ([]store.Reference, error) {
	refs, err := e.refSearch.Search(ctx, query, topN, restrictDoc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return refs, nil
}

// RebuildChunkIndex rewrites the chunk index from the table, in id order,
// skipping rows whose vector byte length does not match the dimension.
func (e *engine) RebuildChunkIndex(ctx context.Context) (*RebuildReport, error) {
	rows, err := e.store.ChunkVectorsInIDOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chunk vectors: %w", err)
	}
	return e.rebuild(rows, e.cfg.ChunkIndexPath())
}

// RebuildReferenceIndex rewrites the reference index from the table.
func (e *engine) RebuildReferenceIndex(ctx context.Context) (*RebuildReport, error) {
	rows, err := e.store.ReferenceVectorsInIDOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading reference vectors: %w", err)
	}
	return e.rebuild(rows, e.cfg.ReferenceIndexPath())
}

func (e *engine) rebuild(rows [][]byte, path string) (*RebuildReport, error) {
	idx, skipped := vecindex.Rebuild(e.cfg.EmbeddingDim, rows)
	if skipped > 0 {
		slog.Warn("rebuild skipped malformed vector rows", "skipped", skipped, "path", path)
	}
	if err := idx.Persist(path); err != nil {
		return nil, fmt.Errorf("%w: persisting rebuilt index: %v", ErrIndexUnavailable, err)
	}
	return &RebuildReport{Rows: idx.Count(), Skipped: skipped}, nil
}

// healthMismatch flags drift of at least 10 rows or over 5% of the table.
func healthMismatch(indexCount, tableCount int) bool {
	diff := indexCount - tableCount
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return false
	}
	if diff >= 10 {
		return true
	}
	if tableCount == 0 {
		return true
	}
	return float64(diff)/float64(tableCount) > 0.05
}

// IndexHealth compares persisted index row counts with dimension-valid
// table rows.
func (e *engine) IndexHealth(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{}

	chunkIdx := vecindex.CreateOrLoad(e.cfg.ChunkIndexPath(), e.cfg.EmbeddingDim)
	report.ChunkIndexCount = chunkIdx.Count()
	n, err := e.store.CountChunksWithDim(ctx, e.cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	report.ChunkTableCount = n
	report.ChunkMismatch = healthMismatch(report.ChunkIndexCount, report.ChunkTableCount)

	refIdx := vecindex.CreateOrLoad(e.cfg.ReferenceIndexPath(), e.cfg.EmbeddingDim)
	report.ReferenceIndexCount = refIdx.Count()
	refs, err := e.store.CountReferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting references: %w", err)
	}
	report.ReferenceTableCount = refs
	report.ReferenceMismatch = healthMismatch(report.ReferenceIndexCount, report.ReferenceTableCount)

	return report, nil
}

// ListDocuments returns all ingested documents.
func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

// DeleteDocument removes a document; chunks and references cascade.
func (e *engine) DeleteDocument(ctx context.Context, id int64) error {
	deleted, err := e.store.DeleteDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: id %d", ErrDocumentNotFound, id)
	}
	slog.Info("document deleted, indexes stale until rebuild", "document_id", id)
	return nil
}

// FirstReference returns a document's first bibliography entry.
func (e *engine) FirstReference(ctx context.Context, docID int64) (*store.Reference, error) {
	if _, err := e.store.GetDocument(ctx, docID); err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrDocumentNotFound, docID)
	}
	return e.store.FirstReference(ctx, docID)
}

// Reset wipes the corpus and the persisted indexes.
func (e *engine) Reset(ctx context.Context) error {
	if err := e.store.ClearCorpus(ctx); err != nil {
		return fmt.Errorf("clearing corpus: %w", err)
	}
	for _, path := range []string{e.cfg.ChunkIndexPath(), e.cfg.ReferenceIndexPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing index %s: %w", path, err)
		}
	}
	return nil
}

// Store returns the underlying store.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}

// vecToBytes encodes a vector as raw little-endian float32 bytes, the
// storage format shared by the chunk and reference tables.
func vecToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}
