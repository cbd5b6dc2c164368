package faceid

import (
	"fmt"
	"math"
)

// Distance returns the Euclidean (L2) distance between two embeddings.
// Accumulation happens in float64 regardless of the storage type.
// Returns ErrLengthMismatch if the vectors differ in length; there is
// no silent partial computation.
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// MeanEmbedding returns the per-dimension arithmetic mean of the given
// embeddings, or nil for an empty slice. All embeddings must share one
// length; the session's admission gates guarantee that for capture sets.
func MeanEmbedding(embeddings []Embedding) Embedding {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	acc := make([]float64, dim)
	for _, e := range embeddings {
		for i := range acc {
			if i < len(e) {
				acc[i] += float64(e[i])
			}
		}
	}
	mean := make(Embedding, dim)
	n := float64(len(embeddings))
	for i, v := range acc {
		mean[i] = float32(v / n)
	}
	return mean
}
