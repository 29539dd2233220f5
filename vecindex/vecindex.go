// Package vecindex implements a flat inner-product nearest-neighbor index
// over unit-normalized vectors, persisted to a single binary file.
//
// The index stores no identifiers: the Nth appended vector corresponds by
// row position to the Nth row of its backing table iterated in id order.
// Keeping that correspondence intact is the caller's responsibility; the
// Rebuild operation is the recovery path when it breaks.
package vecindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// File layout: magic, format version, dimension, row count, then count*dim
// little-endian float32 values.
const (
	fileMagic   = uint32(0x41525856) // "ARXV"
	fileVersion = uint32(1)
)

// Hit is a single search result: a row position and its inner-product
// similarity (cosine, given the unit-norm invariant).
type Hit struct {
	Position int
	Score    float32
}

// Index is an append-only flat vector index.
type Index struct {
	dim  int
	data []float32 // count*dim values, row-major
}

// New returns an empty index for vectors of the given dimension.
func New(dim int) *Index {
	return &Index{dim: dim}
}

// Dim returns the configured vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// Count returns the number of indexed rows.
func (ix *Index) Count() int {
	if ix.dim == 0 {
		return 0
	}
	return len(ix.data) / ix.dim
}

// Add appends vectors in the given order. Every vector must have the
// index dimension.
func (ix *Index) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), ix.dim)
		}
	}
	for _, v := range vectors {
		ix.data = append(ix.data, v...)
	}
	return nil
}

// Search returns the top n rows by inner-product similarity, ordered by
// descending score with ties broken by ascending row position.
func (ix *Index) Search(query []float32, n int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), ix.dim)
	}
	count := ix.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}

	hits := make([]Hit, count)
	for row := 0; row < count; row++ {
		var dot float32
		base := row * ix.dim
		for i, q := range query {
			dot += q * ix.data[base+i]
		}
		hits[row] = Hit{Position: row, Score: dot}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Position < hits[b].Position
	})
	if n < len(hits) {
		hits = hits[:n]
	}
	return hits, nil
}

// Persist writes the index atomically: a temp file in the same directory is
// renamed over the destination, so an interrupted write never leaves a
// half-written index behind.
func (ix *Index) Persist(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}

	if err := ix.writeTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing index file: %w", err)
	}
	return nil
}

func (ix *Index) writeTo(f *os.File) error {
	header := make([]byte, 20)
	binary.LittleEndian.PutUint32(header[0:], fileMagic)
	binary.LittleEndian.PutUint32(header[4:], fileVersion)
	binary.LittleEndian.PutUint32(header[8:], uint32(ix.dim))
	binary.LittleEndian.PutUint64(header[12:], uint64(ix.Count()))
	if _, err := f.Write(header); err != nil {
		return err
	}

	buf := make([]byte, len(ix.data)*4)
	for i, v := range ix.data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := f.Write(buf)
	return err
}

// Load reads a persisted index, failing on a missing, corrupt, or
// dimension-mismatched file.
func Load(path string, dim int) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	if len(data) < 20 {
		return nil, fmt.Errorf("index file %s truncated (%d bytes)", path, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[0:]); got != fileMagic {
		return nil, fmt.Errorf("index file %s has bad magic %#x", path, got)
	}
	if got := binary.LittleEndian.Uint32(data[4:]); got != fileVersion {
		return nil, fmt.Errorf("index file %s has unsupported version %d", path, got)
	}
	fileDim := int(binary.LittleEndian.Uint32(data[8:]))
	if fileDim != dim {
		return nil, fmt.Errorf("index file %s has dimension %d, expected %d", path, fileDim, dim)
	}
	count := int(binary.LittleEndian.Uint64(data[12:]))
	want := 20 + count*dim*4
	if len(data) != want {
		return nil, fmt.Errorf("index file %s has %d bytes, expected %d for %d rows", path, len(data), want, count)
	}

	ix := &Index{dim: dim, data: make([]float32, count*dim)}
	for i := range ix.data {
		ix.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[20+i*4:]))
	}
	return ix, nil
}

// CreateOrLoad loads a persisted index if present and parseable, and
// otherwise returns a fresh empty one. A corrupt file degrades to empty
// rather than failing; the health check surfaces the resulting mismatch.
func CreateOrLoad(path string, dim int) *Index {
	ix, err := Load(path, dim)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("vecindex: load failed, starting empty", "path", path, "error", err)
		}
		return New(dim)
	}
	return ix
}

// Rebuild constructs a fresh index from ordered raw vector rows, skipping
// rows whose byte length does not correspond to the dimension. It returns
// the index and the number of malformed rows skipped.
func Rebuild(dim int, rows [][]byte) (*Index, int) {
	ix := New(dim)
	skipped := 0
	for _, raw := range rows {
		if len(raw) != dim*4 {
			skipped++
			continue
		}
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		ix.data = append(ix.data, vec...)
	}
	return ix, skipped
}
