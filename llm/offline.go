package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
)

// Offline is a deterministic embedding provider for tests and air-gapped
// runs. Each text maps to a pseudo-random unit vector derived from a hash
// of its content, so identical texts always embed identically and no
// network access is needed. It cannot generate chat completions.
type Offline struct {
	dim int
}

// NewOffline returns an offline provider emitting vectors of the given
// dimension.
func NewOffline(dim int) *Offline {
	return &Offline{dim: dim}
}

// Chat always fails: the offline provider is embedding-only.
func (o *Offline) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return nil, errors.New("offline provider cannot generate completions")
}

// Embed derives one unit vector per text from a SHA-256 seed of its content.
// Unlike the live provider, outputs are already unit-normalized.
func (o *Offline) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = o.vectorFor(t)
	}
	return vecs, nil
}

func (o *Offline) vectorFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.LittleEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float32, o.dim)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
