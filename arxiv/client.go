// Package arxiv talks to the arXiv Atom API and caches PDF artifacts
// locally. Fetches are idempotent: an artifact already present in the cache
// is never re-downloaded.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultBaseURL = "https://export.arxiv.org/api/query"

// Paper is the metadata of one arXiv entry.
type Paper struct {
	ID      string   `json:"id"` // canonical id, version suffix stripped
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Summary string   `json:"summary"`
	PDFURL  string   `json:"pdf_url"`
}

// Client queries the arXiv API and downloads PDFs into a cache directory.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cacheDir   string
}

// NewClient creates an arXiv client caching PDFs under cacheDir.
func NewClient(cacheDir string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultBaseURL,
		cacheDir:   cacheDir,
	}
}

// atom feed subset we care about.
type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID      string   `xml:"id"`
	Title   string   `xml:"title"`
	Summary string   `xml:"summary"`
	Authors []author `xml:"author"`
	Links   []link   `xml:"link"`
}

type author struct {
	Name string `xml:"name"`
}

type link struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// Search runs a full-text query against the API and returns up to
// maxResults papers in relevance order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Paper, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	params := url.Values{
		"search_query": {"all:" + query},
		"start":        {"0"},
		"max_results":  {fmt.Sprint(maxResults)},
	}
	return c.query(ctx, params)
}

// Lookup resolves a single arXiv identifier to its metadata.
func (c *Client) Lookup(ctx context.Context, id string) (*Paper, error) {
	params := url.Values{
		"id_list":     {id},
		"max_results": {"1"},
	}
	papers, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		return nil, fmt.Errorf("arxiv id %q not found", id)
	}
	return &papers[0], nil
}

func (c *Client) query(ctx context.Context, params url.Values) ([]Paper, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying arxiv api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading arxiv response: %w", err)
	}

	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parsing arxiv feed: %w", err)
	}

	papers := make([]Paper, 0, len(f.Entries))
	for _, e := range f.Entries {
		papers = append(papers, paperFromEntry(e))
	}
	return papers, nil
}

func paperFromEntry(e entry) Paper {
	p := Paper{
		ID:      CanonicalID(e.ID),
		Title:   normalizeSpace(e.Title),
		Summary: normalizeSpace(e.Summary),
	}
	for _, a := range e.Authors {
		p.Authors = append(p.Authors, a.Name)
	}
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			p.PDFURL = l.Href
			break
		}
	}
	// The API usually serves the abs URL; derive the pdf URL when no pdf
	// link is present.
	if p.PDFURL == "" && p.ID != "" {
		p.PDFURL = "https://arxiv.org/pdf/" + p.ID
	}
	return p
}

// CanonicalID strips the URL prefix and version suffix from an arXiv
// entry id: "http://arxiv.org/abs/1706.03762v5" becomes "1706.03762".
func CanonicalID(raw string) string {
	id := raw
	if i := strings.LastIndex(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	if i := strings.LastIndexByte(id, 'v'); i > 0 {
		allDigits := i+1 < len(id)
		for _, r := range id[i+1:] {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			id = id[:i]
		}
	}
	return id
}

// CachedPath returns the cache location for a paper's PDF.
func (c *Client) CachedPath(id string) string {
	safe := strings.ReplaceAll(id, "/", "_")
	return filepath.Join(c.cacheDir, safe+".pdf")
}

// FetchPDF downloads a paper's PDF into the cache and returns the local
// path. An already cached artifact is returned without a network call.
func (c *Client) FetchPDF(ctx context.Context, p *Paper) (string, error) {
	path := c.CachedPath(p.ID)
	if _, err := os.Stat(path); err == nil {
		slog.Debug("pdf cache hit", "arxiv_id", p.ID, "path", path)
		return path, nil
	}

	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating pdf cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.PDFURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pdf download returned status %d", resp.StatusCode)
	}

	// Download to a temp file, rename into place once complete.
	tmp, err := os.CreateTemp(c.cacheDir, "download-*.pdf")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing pdf: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("moving pdf into cache: %w", err)
	}

	slog.Info("downloaded pdf", "arxiv_id", p.ID, "path", path)
	return path, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
