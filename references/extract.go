// Package references parses bibliography sections out of page text and
// answers semantic lookups over the indexed reference corpus.
//
// The extractor is a best-effort heuristic, not a citation grammar: it aims
// for plausible, deduplicated, ordered reference strings and accepts both
// false positives and false negatives.
package references

import (
	"regexp"
	"strings"
)

const (
	// tailPages is how many trailing pages are scanned for a bibliography
	// heading. Bibliographies sit at the end of a paper.
	tailPages = 6

	// minWords rejects fragments too short to be a citation.
	minWords = 4

	// dedupPrefixLen is the normalized-text prefix used for duplicate
	// detection across entries.
	dedupPrefixLen = 120

	// authorSegmentFallback bounds the author segment when no year token
	// anchors it.
	authorSegmentFallback = 180

	// maxAuthors caps the extracted author list per reference.
	maxAuthors = 6
)

var (
	headingRe = regexp.MustCompile(`(?i)\b(references|bibliography)\b`)

	// markerRe matches a citation marker at the start of a line:
	// [12], (12), 12., or 12).
	markerRe = regexp.MustCompile(`(?m)^\s*(?:\[\d+\]|\(\d+\)|\d+[.)])\s*`)

	yearRe  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	spaceRe = regexp.MustCompile(`\s+`)

	arxivIDRe = regexp.MustCompile(`(?i)arxiv[:\s]*(\d{4}\.\d{4,5}(?:v\d+)?)`)

	// authorRe matches proper-name-like tokens: capitalized words with
	// optional leading initials ("A. Smith", "J. B. Jones", "Vaswani").
	authorRe = regexp.MustCompile(`(?:[A-Z]\.\s*)*[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`)
)

var authorStopWords = map[string]bool{
	"and":         true,
	"et":          true,
	"al":          true,
	"in":          true,
	"proceedings": true,
	"journal":     true,
	"ieee":        true,
	"acm":         true,
}

// Extract segments the trailing pages of a document into individual
// bibliography entries. Returned entries are whitespace-normalized,
// deduplicated, and in document order. An empty slice means no
// bibliography was found.
func Extract(pages []string) []string {
	tail := pages
	if len(tail) > tailPages {
		tail = tail[len(tail)-tailPages:]
	}

	// Find the heading and drop everything before it on that page.
	start := -1
	var firstPage string
	for i, page := range tail {
		loc := headingRe.FindStringIndex(page)
		if loc != nil {
			start = i
			firstPage = page[loc[0]:]
			break
		}
	}
	if start < 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(firstPage)
	for _, page := range tail[start+1:] {
		sb.WriteString("\n")
		sb.WriteString(page)
	}
	text := sb.String()

	// Strip the heading token itself if it leads the block.
	if loc := headingRe.FindStringIndex(text); loc != nil && loc[0] == 0 {
		text = text[loc[1]:]
	}

	return splitEntries(text)
}

// splitEntries cuts the bibliography block at citation markers and applies
// the plausibility filter and prefix dedup.
func splitEntries(text string) []string {
	starts := markerRe.FindAllStringIndex(text, -1)
	if len(starts) == 0 {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		entry := normalizeSpace(text[loc[0]:end])
		if !plausibleCitation(entry) {
			continue
		}
		key := entry
		if len(key) > dedupPrefixLen {
			key = key[:dedupPrefixLen]
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, entry)
	}
	return out
}

// plausibleCitation is a weak gate: at least minWords words, and either a
// year-like token or a period somewhere in the entry.
func plausibleCitation(entry string) bool {
	if len(strings.Fields(entry)) < minWords {
		return false
	}
	return yearRe.MatchString(entry) || strings.Contains(entry, ".")
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// ExtractArxivID returns the first arXiv identifier mentioned in a
// reference string, or "" when none is found.
func ExtractArxivID(ref string) string {
	m := arxivIDRe.FindStringSubmatch(ref)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractAuthors pulls proper-name-like tokens from the author segment of
// a reference string. The segment ends at the first year token, falling
// back to a fixed offset when the entry carries no year. Names are
// deduplicated case-insensitively in order of appearance.
func ExtractAuthors(ref string) []string {
	end := authorSegmentFallback
	if loc := yearRe.FindStringIndex(ref); loc != nil {
		end = loc[0]
	}
	if end > len(ref) {
		end = len(ref)
	}
	segment := ref[:end]

	var out []string
	seen := make(map[string]bool)
	for _, cand := range authorRe.FindAllString(segment, -1) {
		if !plausibleAuthor(cand) {
			continue
		}
		key := strings.ToLower(cand)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cand)
		if len(out) >= maxAuthors {
			break
		}
	}
	return out
}

func plausibleAuthor(cand string) bool {
	letters := 0
	for _, r := range cand {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			letters++
		}
	}
	if letters < 3 {
		return false
	}
	for _, word := range strings.Fields(cand) {
		if authorStopWords[strings.ToLower(strings.Trim(word, "."))] {
			return false
		}
	}
	return true
}
