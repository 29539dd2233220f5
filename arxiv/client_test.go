package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"abs url with version", "http://arxiv.org/abs/1706.03762v5", "1706.03762"},
		{"abs url no version", "http://arxiv.org/abs/1706.03762", "1706.03762"},
		{"bare id with version", "2106.09685v2", "2106.09685"},
		{"bare id", "2106.09685", "2106.09685"},
		{"old style id", "http://arxiv.org/abs/cs/0112017", "cs/0112017"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalID(tt.raw); got != tt.want {
				t.Errorf("CanonicalID(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v5</id>
    <title>Attention Is All
      You Need</title>
    <summary>The dominant sequence transduction models.</summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <link href="http://arxiv.org/abs/1706.03762v5" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v5" rel="related" type="application/pdf"/>
  </entry>
</feed>`

func TestSearchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search_query"); got != "all:attention" {
			t.Errorf("search_query = %q", got)
		}
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	c := NewClient(t.TempDir())
	c.baseURL = srv.URL

	papers, err := c.Search(context.Background(), "attention", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(papers) != 1 {
		t.Fatalf("expected 1 paper, got %d", len(papers))
	}
	p := papers[0]
	if p.ID != "1706.03762" {
		t.Errorf("id = %q", p.ID)
	}
	if p.Title != "Attention Is All You Need" {
		t.Errorf("title not whitespace-normalized: %q", p.Title)
	}
	if len(p.Authors) != 2 || p.Authors[0] != "Ashish Vaswani" {
		t.Errorf("authors = %v", p.Authors)
	}
	if p.PDFURL != "http://arxiv.org/pdf/1706.03762v5" {
		t.Errorf("pdf url = %q", p.PDFURL)
	}
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer srv.Close()

	c := NewClient(t.TempDir())
	c.baseURL = srv.URL

	if _, err := c.Lookup(context.Background(), "9999.99999"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestFetchPDFCachesDownload(t *testing.T) {
	downloads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads++
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	c := NewClient(t.TempDir())
	paper := &Paper{ID: "1706.03762", PDFURL: srv.URL + "/pdf"}

	path1, err := c.FetchPDF(context.Background(), paper)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	path2, err := c.FetchPDF(context.Background(), paper)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if path1 != path2 {
		t.Errorf("cache paths differ: %q vs %q", path1, path2)
	}
	if downloads != 1 {
		t.Errorf("expected 1 download, got %d", downloads)
	}
	data, err := os.ReadFile(path1)
	if err != nil {
		t.Fatalf("reading cached pdf: %v", err)
	}
	if string(data) != "%PDF-1.4 fake" {
		t.Errorf("cached content mismatch: %q", data)
	}
}

func TestFetchPDFDownloadFailureLeavesNoArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(t.TempDir())
	paper := &Paper{ID: "1706.03762", PDFURL: srv.URL + "/pdf"}

	if _, err := c.FetchPDF(context.Background(), paper); err == nil {
		t.Fatal("expected error for failed download")
	}
	if _, err := os.Stat(c.CachedPath(paper.ID)); !os.IsNotExist(err) {
		t.Error("failed download must not leave a cached artifact")
	}
	entries, err := os.ReadDir(filepath.Dir(c.CachedPath(paper.ID)))
	if err == nil && len(entries) != 0 {
		t.Errorf("expected empty cache dir, found %d entries", len(entries))
	}
}
