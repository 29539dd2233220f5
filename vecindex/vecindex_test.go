package vecindex

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// unit returns a unit vector of the given dimension with a 1 at position i.
func unit(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func TestAddRejectsWrongDimension(t *testing.T) {
	ix := New(4)
	if err := ix.Add([][]float32{{1, 0, 0}}); err == nil {
		t.Fatal("Add accepted a 3-dim vector into a 4-dim index")
	}
	if ix.Count() != 0 {
		t.Errorf("failed Add mutated the index: count = %d", ix.Count())
	}
}

func TestSearchOrdering(t *testing.T) {
	ix := New(3)
	if err := ix.Add([][]float32{
		unit(3, 0), // exact match for query below
		unit(3, 1),
		{0.8, 0.6, 0}, // partial match
	}); err != nil {
		t.Fatal(err)
	}

	hits, err := ix.Search(unit(3, 0), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores not non-increasing: %v then %v", hits[i-1], hits[i])
		}
	}
	if hits[0].Position != 0 {
		t.Errorf("best hit position = %d, want 0", hits[0].Position)
	}
	if hits[1].Position != 2 {
		t.Errorf("second hit position = %d, want 2", hits[1].Position)
	}
}

func TestSearchTieBreakByPosition(t *testing.T) {
	ix := New(2)
	v := []float32{1, 0}
	if err := ix.Add([][]float32{v, v, v}); err != nil {
		t.Fatal(err)
	}
	hits, err := ix.Search(v, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range hits {
		if h.Position != i {
			t.Errorf("tie hit %d at position %d, want ascending order", i, h.Position)
		}
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.index")
	ix := New(3)
	vectors := [][]float32{
		{0.5, 0.5, 0.7071068},
		{1, 0, 0},
		{0, 0.6, 0.8},
	}
	if err := ix.Add(vectors); err != nil {
		t.Fatal(err)
	}
	if err := ix.Persist(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Count() != 3 {
		t.Fatalf("loaded count = %d, want 3", loaded.Count())
	}
	// Bit-equivalence, not approximate equality.
	for i := range ix.data {
		if math.Float32bits(ix.data[i]) != math.Float32bits(loaded.data[i]) {
			t.Fatalf("vector data differs at offset %d: %v vs %v", i, ix.data[i], loaded.data[i])
		}
	}
}

func TestPersistLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.index")
	ix := New(2)
	ix.Add([][]float32{{1, 0}})
	if err := ix.Persist(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file still present after Persist")
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.index")
	if err := os.WriteFile(path, []byte("not an index"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, 3); err == nil {
		t.Fatal("Load accepted a corrupt file")
	}
}

func TestLoadRejectsDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dim.index")
	ix := New(4)
	ix.Add([][]float32{{1, 0, 0, 0}})
	if err := ix.Persist(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, 8); err == nil {
		t.Fatal("Load accepted an index persisted with a different dimension")
	}
}

func TestCreateOrLoadDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		ix := CreateOrLoad(filepath.Join(dir, "missing.index"), 3)
		if ix.Count() != 0 {
			t.Errorf("count = %d, want 0", ix.Count())
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.index")
		os.WriteFile(path, []byte{1, 2, 3}, 0o644)
		ix := CreateOrLoad(path, 3)
		if ix.Count() != 0 {
			t.Errorf("count = %d, want 0", ix.Count())
		}
	})
}

func TestRebuildSkipsMalformedRows(t *testing.T) {
	dim := 3
	good := make([]byte, dim*4)
	binary.LittleEndian.PutUint32(good, math.Float32bits(1))

	rows := [][]byte{
		good,
		make([]byte, dim*4-4), // short row
		good,
		make([]byte, dim*4+8), // long row
		nil,                   // empty row
		good,
	}
	ix, skipped := Rebuild(dim, rows)
	if ix.Count() != 3 {
		t.Errorf("rebuilt count = %d, want 3", ix.Count())
	}
	if skipped != 3 {
		t.Errorf("skipped = %d, want 3", skipped)
	}
}
