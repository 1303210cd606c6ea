package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// HashBackend generates deterministic embeddings from a text hash. It is the
// degraded fallback when no live backend is reachable: lower quality, but the
// system stays able to persist something searchable.
type HashBackend struct {
	dimensions int
}

// NewHashBackend creates a hash backend with the given output size.
func NewHashBackend(dimensions int) *HashBackend {
	return &HashBackend{dimensions: dimensions}
}

// Embed derives a unit vector from the FNV-1a hash of the text, expanded
// through a linear congruential generator. Identical input always yields the
// identical vector.
func (h *HashBackend) Embed(_ context.Context, text string) ([]float32, error) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(text))

	seed := hasher.Sum64()
	vec := make([]float32, h.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (h *HashBackend) Dimensions() int {
	return h.dimensions
}

// Name identifies the backend in logs.
func (h *HashBackend) Name() string {
	return "hash"
}

// normalize scales a vector to unit length so cosine distance behaves.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
