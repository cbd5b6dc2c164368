// Package vecstore provides a vector nearest-neighbor search interface
// and implementations.
//
// The [Index] interface defines the contract for vector storage and
// search. Implementations include an in-memory brute-force index
// ([NewMemory]) and HNSW ([NewHNSW]) for galleries too large to scan.
// Both support cosine and Euclidean metrics; the face matching engine
// uses [MetricL2].
//
// This package follows the same pattern as [kv]: a generic interface
// with pluggable backends. For all-in-one deployment, use the built-in
// implementations. For distributed deployment, swap in a client that
// talks to Milvus, Qdrant, or similar.
package vecstore

import (
	"fmt"
	"math"
)

// Index is the interface for nearest-neighbor search over dense
// float32 vectors.
//
// All implementations must be safe for concurrent use.
type Index interface {
	// Insert adds or updates a vector with the given ID.
	Insert(id string, vector []float32) error

	// BatchInsert adds or updates multiple vectors at once.
	// ids and vectors must have the same length.
	BatchInsert(ids []string, vectors [][]float32) error

	// Search returns the top-k nearest vectors to the query.
	// Results are ordered by ascending distance (closest first).
	Search(query []float32, topK int) ([]Match, error)

	// Delete removes a vector by ID. No error if ID does not exist.
	Delete(id string) error

	// Len returns the number of vectors in the index.
	Len() int

	// Flush ensures all pending writes are visible to subsequent searches.
	// For in-memory implementations this is typically a no-op.
	Flush() error

	// Close releases resources held by the index.
	Close() error
}

// Match is a single result from a vector similarity search.
type Match struct {
	// ID is the identifier of the matched vector.
	ID string

	// Distance is the distance between the query and matched vector.
	// Lower values indicate higher similarity.
	Distance float32
}

// Metric selects the distance function an index uses.
type Metric int

const (
	// MetricCosine is cosine distance in [0, 2]: 0 = identical
	// direction, 2 = opposite. Magnitude-insensitive.
	MetricCosine Metric = iota

	// MetricL2 is Euclidean distance. Magnitude-sensitive; the right
	// choice for face descriptors calibrated on absolute distance.
	MetricL2
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricL2:
		return "l2"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// Distance computes the metric's distance between two vectors.
// Mismatched dimensions yield the metric's maximum distance rather
// than an error; Index implementations validate dimensions up front.
func (m Metric) Distance(a, b []float32) float32 {
	if m == MetricL2 {
		return EuclideanDistance(a, b)
	}
	return CosineDistance(a, b)
}

// EuclideanDistance computes the L2 distance between two vectors,
// accumulating in float64. Returns +Inf for mismatched dimensions.
func EuclideanDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.Inf(1))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// CosineDistance computes the cosine distance between two vectors.
// Returns a value in [0, 2] where 0 means identical direction and
// 2 means opposite direction. Returns 2 if either vector has zero norm.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2 // maximum distance for mismatched dimensions
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return 2 // zero vector has no direction; treat as maximum distance
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return float32(1 - similarity)
}
