package gallery

import (
	"math"

	"github.com/haivivi/faceid/go/pkg/faceid"
)

// AuditReport is the result of a duplicate-enrollment scan.
type AuditReport struct {
	// Clusters groups identity IDs whose reference vectors sit inside a
	// dense Euclidean neighborhood. Two IDs in one group very likely
	// belong to the same person enrolled twice.
	Clusters [][]string `json:"clusters"`

	// Noise lists identities that belong to no cluster: the
	// well-separated, healthy enrollments.
	Noise []string `json:"noise"`
}

// Audit runs DBSCAN over identity reference vectors (the stored mean, or
// the mean of the samples when no stored mean exists) using Euclidean
// distance. eps is the neighborhood radius in the same scale as the
// matcher threshold; minPts is the density floor, 2 for pairwise
// duplicate detection. Identities without a usable vector are skipped.
//
// Cluster membership and cluster order both follow input order. The
// function is pure; rendering the report is the caller's job.
func Audit(identities []*faceid.Identity, eps float64, minPts int) *AuditReport {
	var ids []string
	var vectors [][]float32
	for _, ident := range identities {
		if ident == nil {
			continue
		}
		v := ident.MeanEmbedding
		if v == nil {
			v = faceid.MeanEmbedding(ident.Embeddings)
		}
		if len(v) == 0 {
			continue
		}
		ids = append(ids, ident.ID)
		vectors = append(vectors, v)
	}

	labels := dbscan(vectors, eps, minPts)

	report := &AuditReport{}
	var order []int
	members := make(map[int][]string)
	for i, label := range labels {
		if label < 0 {
			report.Noise = append(report.Noise, ids[i])
			continue
		}
		if _, ok := members[label]; !ok {
			order = append(order, label)
		}
		members[label] = append(members[label], ids[i])
	}
	for _, label := range order {
		report.Clusters = append(report.Clusters, members[label])
	}
	return report
}

// dbscan runs the DBSCAN clustering algorithm using Euclidean distance.
//
// Parameters:
//   - vectors: the data points (identity reference vectors)
//   - eps: maximum Euclidean distance for neighbors
//   - minPts: minimum points to form a dense cluster
//
// Returns cluster labels for each vector. Label -1 means noise (unassigned).
func dbscan(vectors [][]float32, eps float64, minPts int) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	const (
		undefined = 0
		noise     = -1
	)

	labels := make([]int, n) // 0 = undefined
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != undefined {
			continue
		}

		neighbors := rangeQuery(vectors, i, eps)
		if len(neighbors) < minPts {
			labels[i] = noise
			continue
		}

		// Start a new cluster.
		clusterID++
		labels[i] = clusterID

		// Seed set: neighbors minus point i.
		seed := make([]int, 0, len(neighbors))
		for _, j := range neighbors {
			if j != i {
				seed = append(seed, j)
			}
		}

		for len(seed) > 0 {
			// Pop first element.
			q := seed[0]
			seed = seed[1:]

			if labels[q] == noise {
				labels[q] = clusterID
			}
			if labels[q] != undefined {
				continue
			}
			labels[q] = clusterID

			qNeighbors := rangeQuery(vectors, q, eps)
			if len(qNeighbors) >= minPts {
				seed = append(seed, qNeighbors...)
			}
		}
	}

	return labels
}

// rangeQuery returns indices of all vectors within eps Euclidean distance
// of vectors[idx], including idx itself.
func rangeQuery(vectors [][]float32, idx int, eps float64) []int {
	var result []int
	q := vectors[idx]
	for i, v := range vectors {
		if euclidean(q, v) <= eps {
			result = append(result, i)
		}
	}
	return result
}

// euclidean is the straight-line distance between two vectors. Vectors of
// different lengths are infinitely far apart.
func euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
