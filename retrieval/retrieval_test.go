//go:build cgo

package retrieval

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gburachas/arxrag/llm"
	"github.com/gburachas/arxrag/store"
	"github.com/gburachas/arxrag/vecindex"
)

const testDim = 4

type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), f.vec...)
	}
	return out, nil
}

// scriptedGenerator fails for models in failFor and answers otherwise.
type scriptedGenerator struct {
	failFor map[string]bool
	calls   []string
	answer  string
}

func (g *scriptedGenerator) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.calls = append(g.calls, req.Model)
	if g.failFor[req.Model] {
		return nil, errors.New("model unavailable")
	}
	return &llm.ChatResponse{
		Content:          g.answer,
		Model:            req.Model,
		PromptTokens:     100,
		CompletionTokens: 30,
		TotalTokens:      130,
	}, nil
}

func vecBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// engineFixture builds a store with one document and three chunks plus a
// persisted chunk index aligned with chunk id order.
func engineFixture(t *testing.T) (*store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	docID, err := st.InsertDocument(ctx, store.Document{
		ArxivID: "1706.03762", Title: "Attention Is All You Need", PDFPath: "a.pdf",
	})
	if err != nil {
		t.Fatalf("inserting document: %v", err)
	}

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	chunks := []store.Chunk{
		{DocumentID: docID, Kind: "text", Content: "The attention mechanism computes weighted sums over representations.", Ord: 0, Embedding: vecBytes(vectors[0])},
		{DocumentID: docID, Kind: "text", Content: "Positional encodings inject order information into the model.", Ord: 1, Embedding: vecBytes(vectors[1])},
		{DocumentID: docID, Kind: "text", Content: "Training used the WMT translation benchmark for evaluation purposes.", Ord: 2, Embedding: vecBytes(vectors[2])},
	}
	if _, err := st.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	idx := vecindex.New(testDim)
	if err := idx.Add(vectors); err != nil {
		t.Fatalf("building index: %v", err)
	}
	indexPath := filepath.Join(dir, "chunks.index")
	if err := idx.Persist(indexPath); err != nil {
		t.Fatalf("persisting index: %v", err)
	}
	return st, indexPath
}

func TestSearchMapsPositionsToChunks(t *testing.T) {
	st, indexPath := engineFixture(t)
	e := New(st, &fixedEmbedder{vec: []float32{0, 1, 0, 0}}, nil, indexPath, testDim, Config{})

	chunks, err := e.Search(context.Background(), "positional encodings", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "Positional encodings") {
		t.Errorf("expected nearest chunk first, got %q", chunks[0].Content)
	}
	if chunks[0].DocTitle != "Attention Is All You Need" {
		t.Errorf("document metadata not joined: %q", chunks[0].DocTitle)
	}
	if chunks[0].TokenCount == 0 {
		t.Error("expected token count")
	}
}

func TestSearchMissingIndexReturnsEmpty(t *testing.T) {
	st, _ := engineFixture(t)
	e := New(st, &fixedEmbedder{vec: []float32{1, 0, 0, 0}}, nil,
		filepath.Join(t.TempDir(), "missing.index"), testDim, Config{})

	chunks, err := e.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("search against missing index must not fail: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected empty result, got %d chunks", len(chunks))
	}
}

func TestAnswerGeneratesWithPrimaryModel(t *testing.T) {
	st, indexPath := engineFixture(t)
	gen := &scriptedGenerator{answer: "Attention weighs token representations [0]."}
	e := New(st, &fixedEmbedder{vec: []float32{1, 0, 0, 0}}, gen, indexPath, testDim, Config{
		PrimaryModel:  "gpt-4o",
		FallbackModel: "gpt-4o-mini",
	})

	answer, meta, chunks, err := e.Answer(context.Background(), "how does attention work", 2)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer == "" {
		t.Fatal("expected an answer")
	}
	if meta.ModelUsed != "gpt-4o" {
		t.Errorf("model used = %q", meta.ModelUsed)
	}
	if meta.TotalTokens != 130 {
		t.Errorf("total tokens = %d", meta.TotalTokens)
	}
	if meta.OriginalChunks != 2 || meta.DedupedChunks != 2 {
		t.Errorf("chunk counts = %d/%d", meta.OriginalChunks, meta.DedupedChunks)
	}
	if len(meta.Sources) == 0 || len(meta.Snippets) == 0 {
		t.Error("expected sources and snippets in metadata")
	}
	if len(chunks) == 0 {
		t.Fatal("expected context chunks")
	}
	if len(gen.calls) != 1 {
		t.Errorf("expected a single generation call, got %v", gen.calls)
	}
}

func TestAnswerFallsBackOnPrimaryFailure(t *testing.T) {
	st, indexPath := engineFixture(t)
	gen := &scriptedGenerator{
		failFor: map[string]bool{"gpt-4o": true},
		answer:  "Fallback answer [0].",
	}
	e := New(st, &fixedEmbedder{vec: []float32{1, 0, 0, 0}}, gen, indexPath, testDim, Config{
		PrimaryModel:  "gpt-4o",
		FallbackModel: "gpt-4o-mini",
	})

	answer, meta, _, err := e.Answer(context.Background(), "how does attention work", 2)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer != "Fallback answer [0]." {
		t.Errorf("answer = %q", answer)
	}
	if meta.ModelUsed != "gpt-4o-mini" {
		t.Errorf("model used = %q", meta.ModelUsed)
	}
	if len(gen.calls) != 2 {
		t.Errorf("expected primary then fallback calls, got %v", gen.calls)
	}
}

func TestAnswerBothModelsFail(t *testing.T) {
	st, indexPath := engineFixture(t)
	gen := &scriptedGenerator{
		failFor: map[string]bool{"gpt-4o": true, "gpt-4o-mini": true},
	}
	e := New(st, &fixedEmbedder{vec: []float32{1, 0, 0, 0}}, gen, indexPath, testDim, Config{
		PrimaryModel:  "gpt-4o",
		FallbackModel: "gpt-4o-mini",
	})

	_, meta, chunks, err := e.Answer(context.Background(), "how does attention work", 2)
	if err == nil {
		t.Fatal("expected error when both models fail")
	}
	if meta == nil || len(chunks) == 0 {
		t.Error("context should still be returned alongside the error")
	}
}

func TestAnswerWithoutGenerator(t *testing.T) {
	st, indexPath := engineFixture(t)
	e := New(st, &fixedEmbedder{vec: []float32{1, 0, 0, 0}}, nil, indexPath, testDim, Config{})

	answer, meta, chunks, err := e.Answer(context.Background(), "how does attention work", 2)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer != "" {
		t.Errorf("expected no generated text, got %q", answer)
	}
	if meta == nil || len(chunks) == 0 {
		t.Error("expected distilled context without a generator")
	}
}

func TestAnswerTruncatesChunkContent(t *testing.T) {
	st, indexPath := engineFixture(t)
	e := New(st, &fixedEmbedder{vec: []float32{1, 0, 0, 0}}, nil, indexPath, testDim, Config{
		ContextTruncateChars: 30,
	})

	_, _, chunks, err := e.Answer(context.Background(), "attention", 2)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	for _, c := range chunks {
		if !strings.HasSuffix(c.Content, "…") {
			t.Errorf("truncated chunk missing ellipsis marker: %q", c.Content)
		}
		if len(c.Content) > 30+len("…") {
			t.Errorf("chunk content not truncated: %d chars", len(c.Content))
		}
	}
}

func TestTruncateChunksLeavesShortContentAlone(t *testing.T) {
	in := []ContextChunk{{ChunkWithDoc: store.ChunkWithDoc{Chunk: store.Chunk{Content: "short"}}}}
	out := truncateChunks(in, 30)
	if out[0].Content != "short" {
		t.Errorf("short content changed: %q", out[0].Content)
	}
}

func TestBuildPrompt(t *testing.T) {
	d := distilled{
		sources: []Source{
			{Index: 0, Title: "Paper A", ArxivID: "1111.11111", Kind: "text", Page: 2},
		},
		snippets: []Snippet{
			{SourceIndex: 0, Text: "A grounding sentence."},
		},
	}
	prompt := buildPrompt("what is attention", d)
	for _, want := range []string{"Sources:", "Snippets:", "[0] Paper A", "[0] A grounding sentence.", "Question: what is attention"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
