package retrieval

import (
	"crypto/sha256"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/gburachas/arxrag/store"
)

// fallbackSentenceChars bounds the first-sentence fallback when budgeted
// assembly yields nothing.
const fallbackSentenceChars = 400

// minSentenceChars drops fragments too short to carry information.
const minSentenceChars = 20

// titleTruncateChars bounds paper titles in source records.
const titleTruncateChars = 80

type distilled struct {
	sources  []Source
	snippets []Snippet
}

// dedupeByContent collapses chunks with identical content, keeping the
// first occurrence, and returns the remapping from original to deduplicated
// indices.
func dedupeByContent(chunks []ContextChunk) ([]ContextChunk, []int) {
	var out []ContextChunk
	remap := make([]int, len(chunks))
	byHash := make(map[[32]byte]int)
	for i, c := range chunks {
		h := sha256.Sum256([]byte(c.Content))
		if j, ok := byHash[h]; ok {
			remap[i] = j
			continue
		}
		byHash[h] = len(out)
		remap[i] = len(out)
		out = append(out, c)
	}
	return out, remap
}

// numericHeavy reports whether the fraction of whitespace tokens that are
// digit-dominant (at least half their characters are digits) exceeds ratio.
// Used to suppress tables and metrics dumps.
func numericHeavy(text string, ratio float64) bool {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return false
	}
	heavy := 0
	for _, tok := range tokens {
		digits := 0
		for _, r := range tok {
			if unicode.IsDigit(r) {
				digits++
			}
		}
		if digits*2 >= len([]rune(tok)) {
			heavy++
		}
	}
	return float64(heavy)/float64(len(tokens)) > ratio
}

// questionWords returns the lowercased question tokens longer than two
// characters, deduplicated.
func questionWords(question string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) <= 2 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// keywordScore counts how many distinct question words occur in the text
// as whole tokens, case-insensitively. Membership, not substring: "art"
// must not match "particular".
func keywordScore(words []string, text string) int {
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(text)) {
		tokens[strings.Trim(t, ".,;:!?\"'()")] = true
	}
	score := 0
	for _, w := range words {
		if tokens[w] {
			score++
		}
	}
	return score
}

type scoredChunk struct {
	idx   int    // deduplicated chunk index
	text  string // scoring text; the salvaged sentence for numeric-heavy chunks
	score int
}

type scoredSentence struct {
	chunkIdx int
	text     string
	score    int
}

// distill turns the deduplicated retrieval chunks into the sources and
// snippets blocks of the grounding context.
func (e *Engine) distill(question string, chunks []ContextChunk, k int) distilled {
	words := questionWords(question)

	// Only text chunks with content contribute snippets; image captions
	// and empty rows are skipped. Numeric-heavy chunks get a first-sentence
	// salvage attempt.
	var scored []scoredChunk
	for i, c := range chunks {
		if c.Kind != "text" {
			continue
		}
		text := strings.TrimSpace(c.Content)
		if text == "" {
			continue
		}
		if numericHeavy(text, e.cfg.NumericHeavyRatio) {
			text = salvageSentence(text, e.cfg.NumericHeavyRatio)
			if text == "" {
				continue
			}
		}
		scored = append(scored, scoredChunk{idx: i, text: text})
	}
	for i := range scored {
		scored[i].score = keywordScore(words, scored[i].text)
	}
	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].score != scored[b].score {
			return scored[a].score > scored[b].score
		}
		return scored[a].idx < scored[b].idx
	})

	// Sentence extraction over the widened pool.
	pool := scored
	if limit := k * e.cfg.SentencePoolFactor; len(pool) > limit {
		pool = pool[:limit]
	}
	sentences := e.extractSentences(words, pool)

	accepted := e.budgetedAssembly(sentences)
	if len(accepted) == 0 {
		accepted = firstSentenceFallback(scored, k)
	}

	return distilled{
		sources:  assembleSources(chunks, accepted),
		snippets: accepted,
	}
}

// extractSentences splits each pooled chunk into sentences and scores
// them. A sentence with no keyword overlap still scores 1 when an
// uppercase character appears in its first 80 characters, a weak
// "looks informative" signal; sentences still scoring zero after that
// fallback are dropped, as are numeric-heavy and very short ones. The
// result is sorted by score descending with chunk-index tie-break,
// deduplicated case-insensitively.
func (e *Engine) extractSentences(words []string, pool []scoredChunk) []scoredSentence {
	var out []scoredSentence
	for _, sc := range pool {
		for _, sent := range splitSentences(sc.text) {
			if len(sent) <= minSentenceChars {
				continue
			}
			if numericHeavy(sent, e.cfg.NumericHeavyRatio) {
				continue
			}
			score := keywordScore(words, sent)
			if score == 0 && hasEarlyUppercase(sent, 80) {
				score = 1
			}
			if score == 0 {
				continue
			}
			out = append(out, scoredSentence{chunkIdx: sc.idx, text: sent, score: score})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].score != out[b].score {
			return out[a].score > out[b].score
		}
		return out[a].chunkIdx < out[b].chunkIdx
	})

	seen := make(map[string]bool)
	deduped := out[:0]
	for _, s := range out {
		key := strings.ToLower(s.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, s)
	}
	return deduped
}

// budgetedAssembly walks the sorted sentences, accepting one only while
// the word budget holds and its source chunk is under the per-chunk cap.
func (e *Engine) budgetedAssembly(sentences []scoredSentence) []Snippet {
	var out []Snippet
	usedWords := 0
	perChunk := make(map[int]int)
	for _, s := range sentences {
		if usedWords >= e.cfg.WordBudget {
			break
		}
		if perChunk[s.chunkIdx] >= e.cfg.PerChunkSentenceCap {
			continue
		}
		n := len(strings.Fields(s.text))
		if usedWords+n > e.cfg.WordBudget {
			continue
		}
		usedWords += n
		perChunk[s.chunkIdx]++
		out = append(out, Snippet{SourceIndex: s.chunkIdx, Text: s.text})
	}
	return out
}

// firstSentenceFallback emits the leading sentence of each of the top k
// scored chunks. Used when budgeted assembly produced nothing, e.g. for
// ultra-short questions with no keyword overlap.
func firstSentenceFallback(scored []scoredChunk, k int) []Snippet {
	var out []Snippet
	for i, sc := range scored {
		if i >= k {
			break
		}
		sents := splitSentences(sc.text)
		if len(sents) == 0 {
			continue
		}
		text := sents[0]
		if len(text) > fallbackSentenceChars {
			text = text[:fallbackSentenceChars]
		}
		out = append(out, Snippet{SourceIndex: sc.idx, Text: text})
	}
	return out
}

// assembleSources emits one source record per chunk index referenced by an
// accepted snippet, in ascending index order.
func assembleSources(chunks []ContextChunk, snippets []Snippet) []Source {
	used := make(map[int]bool)
	for _, s := range snippets {
		used[s.SourceIndex] = true
	}
	idxs := make([]int, 0, len(used))
	for i := range used {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	out := make([]Source, 0, len(idxs))
	for _, i := range idxs {
		c := chunks[i]
		title := c.DocTitle
		if len(title) > titleTruncateChars {
			title = title[:titleTruncateChars]
		}
		out = append(out, Source{
			Index:   i,
			Title:   title,
			ArxivID: c.DocArxivID,
			Kind:    c.Kind,
			Page:    pageOrOrdinal(c.Chunk),
		})
	}
	return out
}

// pageOrOrdinal recovers the page number for image chunks from the media
// filename convention name_<page>_<xref>.png; text chunks report their
// ordinal instead.
func pageOrOrdinal(c store.Chunk) int {
	if c.Kind != "image" || c.MediaPath == "" {
		return c.Ord
	}
	base := strings.TrimSuffix(filepath.Base(c.MediaPath), filepath.Ext(c.MediaPath))
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return c.Ord
	}
	page, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return c.Ord
	}
	return page
}

// salvageSentence returns the first sentence of a numeric-heavy chunk
// that is not itself numeric-heavy, or "".
func salvageSentence(text string, ratio float64) string {
	for _, s := range splitSentences(text) {
		if !numericHeavy(s, ratio) {
			return s
		}
	}
	return ""
}

// splitSentences splits text at period, question-mark, and exclamation
// boundaries followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func hasEarlyUppercase(s string, within int) bool {
	for i, r := range s {
		if i >= within {
			break
		}
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
