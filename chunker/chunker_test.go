package chunker

import (
	"fmt"
	"strings"
	"testing"
)

// words returns "w0 w1 ... wN-1".
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunkEmptyInput(t *testing.T) {
	c := New(Config{MaxTokens: 10, Overlap: 2})

	cases := []struct {
		name  string
		pages []string
	}{
		{"no pages", nil},
		{"empty pages", []string{"", ""}},
		{"whitespace pages", []string{"   \n\t ", "  "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Chunk(tc.pages); len(got) != 0 {
				t.Errorf("Chunk(%v) = %d chunks, want 0", tc.pages, len(got))
			}
		})
	}
}

func TestChunkSizeBound(t *testing.T) {
	c := New(Config{MaxTokens: 50, Overlap: 10, DedupEditMin: 1})
	chunks := c.Chunk([]string{words(175)})

	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i, ch := range chunks {
		n := len(strings.Fields(ch))
		if i < len(chunks)-1 && n != 50 {
			t.Errorf("chunk %d has %d tokens, want exactly 50", i, n)
		}
		if n > 50 {
			t.Errorf("chunk %d has %d tokens, exceeds max 50", i, n)
		}
	}
}

func TestChunkOverlap(t *testing.T) {
	c := New(Config{MaxTokens: 10, Overlap: 3, DedupEditMin: 1})
	chunks := c.Chunk([]string{words(20)})

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	// The second window starts with the last 3 tokens of the first.
	for i, tok := range first[len(first)-3:] {
		if second[i] != tok {
			t.Errorf("overlap token %d = %q, want %q", i, second[i], tok)
		}
	}
}

func TestChunkCrossesPageBoundaries(t *testing.T) {
	c := New(Config{MaxTokens: 10, Overlap: 0, DedupEditMin: 1})
	// 6 + 6 tokens across two pages: the first chunk must span the boundary.
	chunks := c.Chunk([]string{"a b c d e f", "g h i j k l"})

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if want := "a b c d e f g h i j"; chunks[0] != want {
		t.Errorf("chunks[0] = %q, want %q", chunks[0], want)
	}
	if want := "k l"; chunks[1] != want {
		t.Errorf("chunks[1] = %q, want %q", chunks[1], want)
	}
}

func TestChunkFinalPartialWindow(t *testing.T) {
	c := New(Config{MaxTokens: 10, Overlap: 0, DedupEditMin: 1})
	chunks := c.Chunk([]string{words(13)})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if n := len(strings.Fields(chunks[1])); n != 3 {
		t.Errorf("final chunk has %d tokens, want 3", n)
	}
}

func TestDedupAdjacentNearDuplicates(t *testing.T) {
	c := New(Config{MaxTokens: 350, Overlap: 60, DedupEditMin: 50})

	base := words(40)
	// Within distance 50 of base: a tiny suffix change.
	near := base + " x"
	// Far from base: a completely different token stream.
	far := strings.Repeat("completely different content here ", 10)

	got := c.dedup([]string{base, near, far, far + " y"})
	if len(got) != 2 {
		t.Fatalf("dedup kept %d chunks, want 2: %q", len(got), got)
	}
	if got[0] != base {
		t.Errorf("first kept chunk should be the first occurrence")
	}
	if got[1] != far {
		t.Errorf("second kept chunk = %q, want the distant chunk", got[1])
	}
}

func TestDedupOnlyComparesPreviousKept(t *testing.T) {
	c := New(Config{DedupEditMin: 5})
	a := "aaaaaaaaaaaaaaaaaaaa"
	b := "bbbbbbbbbbbbbbbbbbbb"
	// a-variant reappears after b: it is distant from b (the previous kept
	// chunk), so it survives even though it is near-identical to a.
	got := c.dedup([]string{a, b, a + "a"})
	if len(got) != 3 {
		t.Errorf("dedup kept %d chunks, want 3 (local comparison only)", len(got))
	}
}

func TestChunkIdempotentOnDedupedOutput(t *testing.T) {
	c := New(Config{MaxTokens: 350, Overlap: 0, DedupEditMin: 50})
	pages := []string{words(300)}
	first := c.Chunk(pages)
	second := c.Chunk(first)
	if len(first) != len(second) {
		t.Fatalf("re-chunk changed count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("re-chunk changed chunk %d", i)
		}
	}
}
