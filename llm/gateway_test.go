package llm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

// recordingProvider captures every Embed batch it receives and returns
// fixed-dimension vectors.
type recordingProvider struct {
	dim     int
	batches [][]string
}

func (p *recordingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *recordingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	batch := append([]string(nil), texts...)
	p.batches = append(p.batches, batch)
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = make([]float32, p.dim)
		vecs[i][0] = 1
	}
	return vecs, nil
}

func repeatWords(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func TestGatewayBatchFlushBeforeOverflow(t *testing.T) {
	p := &recordingProvider{dim: 4}
	g := NewGateway(p, 4)
	g.BatchTokenBudget = 10

	// 6 + 6 tokens: the second text would overflow the 10-token budget,
	// so the gateway must flush after the first.
	vecs, err := g.Embed(context.Background(), []string{
		repeatWords("a", 6),
		repeatWords("b", 6),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	if len(p.batches) != 2 {
		t.Fatalf("got %d batches, want 2: %v", len(p.batches), p.batches)
	}
	for i, b := range p.batches {
		if len(b) != 1 {
			t.Errorf("batch %d has %d items, want 1", i, len(b))
		}
	}
}

func TestGatewayGroupsUnderBudget(t *testing.T) {
	p := &recordingProvider{dim: 4}
	g := NewGateway(p, 4)
	g.BatchTokenBudget = 10

	if _, err := g.Embed(context.Background(), []string{
		repeatWords("a", 3),
		repeatWords("b", 3),
		repeatWords("c", 3),
	}); err != nil {
		t.Fatal(err)
	}
	if len(p.batches) != 1 {
		t.Fatalf("got %d batches, want 1 (9 tokens fit a 10-token budget)", len(p.batches))
	}
}

func TestGatewayTruncatesPerItem(t *testing.T) {
	p := &recordingProvider{dim: 4}
	g := NewGateway(p, 4)
	g.PerItemTokenLimit = 5
	g.BatchTokenBudget = 100

	if _, err := g.Embed(context.Background(), []string{repeatWords("x", 20)}); err != nil {
		t.Fatal(err)
	}
	sent := p.batches[0][0]
	if n := len(strings.Fields(sent)); n != 5 {
		t.Errorf("sent %d tokens, want 5 after truncation", n)
	}
}

func TestGatewayRejectsWrongDimension(t *testing.T) {
	p := &recordingProvider{dim: 3}
	g := NewGateway(p, 4) // expects 4, provider yields 3

	_, err := g.Embed(context.Background(), []string{"hello world"})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestOfflineDeterministicUnitVectors(t *testing.T) {
	o := NewOffline(64)
	ctx := context.Background()

	a1, err := o.Embed(ctx, []string{"retrieval augmented generation"})
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := o.Embed(ctx, []string{"retrieval augmented generation"})
	b, _ := o.Embed(ctx, []string{"a different text"})

	for i := range a1[0] {
		if a1[0][i] != a2[0][i] {
			t.Fatal("same text embedded differently across calls")
		}
	}

	same := true
	for i := range a1[0] {
		if a1[0][i] != b[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}

	var norm float64
	for _, v := range a1[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("offline vector norm = %f, want 1", math.Sqrt(norm))
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", v)
	}

	z := Normalize([]float32{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("Normalize zero vector = %v, want unchanged", z)
	}
}
