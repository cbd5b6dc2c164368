package faceid

import (
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/haivivi/faceid/go/pkg/jsontime"
	"github.com/haivivi/faceid/go/pkg/vecstore"
)

// MatchStatus classifies a query result.
type MatchStatus string

const (
	// StatusMatched: the best distance is strictly below MatchThreshold.
	StatusMatched MatchStatus = "matched"

	// StatusNoMatch: a nearest vector exists but sits at or beyond
	// MatchThreshold. The result still carries the best distance for
	// diagnostics.
	StatusNoMatch MatchStatus = "no_match"

	// StatusUnknown: nothing to compare — empty index or missing query.
	StatusUnknown MatchStatus = "unknown"
)

// MatchResult is the answer to a 1:N query.
type MatchResult struct {
	Status     MatchStatus `json:"status"`
	IdentityID string      `json:"identityId,omitempty"`
	Name       string      `json:"name,omitempty"`

	// Distance is the best Euclidean distance found. +Inf for
	// StatusUnknown (not JSON-representable; transports omit it).
	Distance float64 `json:"distance"`

	// Confidence is clamp(exp(-Distance/MatchThreshold)*100, 0, 100)
	// for a match, 0 otherwise.
	Confidence float64 `json:"confidence"`

	// HighConfidence marks distances below HighConfidenceThreshold.
	HighConfidence bool `json:"highConfidence"`
}

// RankedMatch is one entry of a FindTopMatches result.
type RankedMatch struct {
	IdentityID string  `json:"identityId"`
	Name       string  `json:"name"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	IsMatch    bool    `json:"isMatch"`
}

// Stats are the matcher's running query counters. They are monotonic
// across Load calls and reset only by ResetStats.
type Stats struct {
	TotalQueries      uint64            `json:"totalQueries"`
	SuccessfulQueries uint64            `json:"successfulQueries"`
	LastQueryLatency  jsontime.Duration `json:"lastQueryLatency"`
}

// IndexFactory builds a fresh vector index for one gallery load. A new
// index per load keeps the full-replace semantics of Load intact. The
// index must measure Euclidean distance (vecstore.MetricL2) or its
// results will not line up with MatchThreshold.
type IndexFactory func() (vecstore.Index, error)

type searchEntry struct {
	vector Embedding
	owner  int // index into searchIndex.idents
}

type indexedIdentity struct {
	id   string
	name string
}

// searchIndex is the matcher's immutable per-load snapshot. Queries read
// whichever snapshot was current when they started; Load swaps the whole
// pointer.
type searchIndex struct {
	entries []searchEntry
	idents  []indexedIdentity

	// ann, when set, accelerates neighbor retrieval. Entry keys are the
	// decimal ordinal into entries.
	ann vecstore.Index
}

// Matcher indexes enrolled identities and answers nearest-neighbor
// queries. Like Session it assumes a single logical caller and does no
// internal locking; the default backend is an exact linear scan.
type Matcher struct {
	cfg     Config
	index   *searchIndex
	stats   Stats
	factory IndexFactory
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithIndexFactory routes neighbor retrieval through a vecstore backend
// (e.g. HNSW for galleries too large to scan). Classification,
// confidence calibration, and counters are unchanged; only how
// neighbors are found is delegated.
func WithIndexFactory(f IndexFactory) MatcherOption {
	return func(m *Matcher) { m.factory = f }
}

// NewMatcher creates a Matcher with the given thresholds.
func NewMatcher(cfg Config, opts ...MatcherOption) *Matcher {
	cfg.setDefaults()
	m := &Matcher{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load builds the search index from the given identities, fully
// replacing any previous index. Records without an ID or without any
// usable vector are skipped with a warning. With UseMeanEmbedding set,
// a single mean vector is indexed per identity when available;
// otherwise every captured sample is indexed.
//
// Returns the number of identities indexed.
func (m *Matcher) Load(identities []*Identity) int {
	next := &searchIndex{}
	for _, ident := range identities {
		if ident == nil || ident.ID == "" {
			slog.Warn("faceid: skipping identity record without id")
			continue
		}
		vectors := m.referenceVectors(ident)
		if len(vectors) == 0 {
			slog.Warn("faceid: skipping identity record without embeddings", "id", ident.ID)
			continue
		}
		owner := len(next.idents)
		next.idents = append(next.idents, indexedIdentity{id: ident.ID, name: ident.Name})
		for _, v := range vectors {
			next.entries = append(next.entries, searchEntry{vector: v, owner: owner})
		}
	}

	if m.factory != nil && len(next.entries) > 0 {
		ann, err := m.buildANN(next.entries)
		if err != nil {
			slog.Warn("faceid: vector index build failed, using linear scan", "error", err)
		} else {
			next.ann = ann
		}
	}

	old := m.index
	m.index = next
	if old != nil && old.ann != nil {
		old.ann.Close()
	}

	slog.Info("faceid: gallery indexed",
		"identities", len(next.idents), "vectors", len(next.entries), "mean_mode", m.cfg.UseMeanEmbedding)
	return len(next.idents)
}

// referenceVectors picks the vectors representing one identity in the
// index, honoring the mean-embedding mode.
func (m *Matcher) referenceVectors(ident *Identity) []Embedding {
	if m.cfg.UseMeanEmbedding && len(ident.MeanEmbedding) > 0 {
		return []Embedding{ident.MeanEmbedding}
	}
	if len(ident.Embeddings) > 0 {
		return ident.Embeddings
	}
	// Imported records sometimes carry only a mean.
	if len(ident.MeanEmbedding) > 0 {
		return []Embedding{ident.MeanEmbedding}
	}
	return nil
}

func (m *Matcher) buildANN(entries []searchEntry) (vecstore.Index, error) {
	idx, err := m.factory()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		ids[i] = strconv.Itoa(i)
		vectors[i] = e.vector
	}
	if err := idx.BatchInsert(ids, vectors); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

// FindBestMatch returns the nearest enrolled identity for the query.
// An empty index or missing query yields StatusUnknown, never an error.
// Classification is strict: a distance equal to MatchThreshold is a
// no-match.
func (m *Matcher) FindBestMatch(query Embedding) *MatchResult {
	start := time.Now()
	m.stats.TotalQueries++
	defer func() { m.stats.LastQueryLatency = jsontime.Duration(time.Since(start)) }()

	idx := m.index
	if idx == nil || len(idx.entries) == 0 || len(query) == 0 {
		return &MatchResult{Status: StatusUnknown, Distance: math.Inf(1)}
	}

	owner, dist := idx.nearest(query)
	if owner < 0 {
		return &MatchResult{Status: StatusUnknown, Distance: math.Inf(1)}
	}

	if dist < m.cfg.MatchThreshold {
		m.stats.SuccessfulQueries++
		return &MatchResult{
			Status:         StatusMatched,
			IdentityID:     idx.idents[owner].id,
			Name:           idx.idents[owner].name,
			Distance:       dist,
			Confidence:     m.confidence(dist),
			HighConfidence: dist < m.cfg.HighConfidenceThreshold,
		}
	}
	return &MatchResult{Status: StatusNoMatch, Distance: dist}
}

// FindTopMatches ranks identities by their best sample distance to the
// query: at most k entries, ascending, one per identity, each flagged
// IsMatch with the same strict threshold as FindBestMatch.
func (m *Matcher) FindTopMatches(query Embedding, k int) []RankedMatch {
	start := time.Now()
	m.stats.TotalQueries++
	defer func() { m.stats.LastQueryLatency = jsontime.Duration(time.Since(start)) }()

	idx := m.index
	if idx == nil || len(idx.entries) == 0 || len(query) == 0 || k <= 0 {
		return nil
	}

	best := idx.bestPerIdentity(query)

	type ranked struct {
		owner int
		dist  float64
	}
	order := make([]ranked, 0, len(best))
	for owner, d := range best {
		if !math.IsInf(d, 1) {
			order = append(order, ranked{owner: owner, dist: d})
		}
	}
	// Stable keeps gallery load order for equal distances.
	sort.SliceStable(order, func(i, j int) bool { return order[i].dist < order[j].dist })
	if len(order) > k {
		order = order[:k]
	}

	matched := false
	out := make([]RankedMatch, len(order))
	for i, r := range order {
		isMatch := r.dist < m.cfg.MatchThreshold
		conf := 0.0
		if isMatch {
			conf = m.confidence(r.dist)
			matched = true
		}
		out[i] = RankedMatch{
			IdentityID: idx.idents[r.owner].id,
			Name:       idx.idents[r.owner].name,
			Distance:   r.dist,
			Confidence: conf,
			IsMatch:    isMatch,
		}
	}
	if matched {
		m.stats.SuccessfulQueries++
	}
	return out
}

// Stats returns a snapshot of the query counters.
func (m *Matcher) Stats() Stats { return m.stats }

// ResetStats clears the query counters.
func (m *Matcher) ResetStats() { m.stats = Stats{} }

// Len returns the number of indexed reference vectors.
func (m *Matcher) Len() int {
	if m.index == nil {
		return 0
	}
	return len(m.index.entries)
}

// IdentityCount returns the number of indexed identities.
func (m *Matcher) IdentityCount() int {
	if m.index == nil {
		return 0
	}
	return len(m.index.idents)
}

// confidence calibrates a distance into [0, 100]: distance 0 maps to
// 100, distance MatchThreshold to ≈36.8, decaying exponentially.
func (m *Matcher) confidence(distance float64) float64 {
	c := math.Exp(-distance/m.cfg.MatchThreshold) * 100
	return math.Max(0, math.Min(100, c))
}

// nearest returns the owner of the closest entry and its distance, or
// (-1, +Inf) when nothing comparable exists. Ties keep the first entry
// in load order (strict less-than on the running minimum).
func (idx *searchIndex) nearest(query Embedding) (int, float64) {
	if idx.ann != nil {
		if owner, dist, ok := idx.annNearest(query, 1); ok {
			return owner, dist
		}
		// Fall through to the exact scan on backend failure.
	}

	bestOwner := -1
	bestDist := math.Inf(1)
	errs := 0
	for _, e := range idx.entries {
		d, err := Distance(query, e.vector)
		if err != nil {
			errs++
			continue
		}
		if d < bestDist {
			bestDist = d
			bestOwner = e.owner
		}
	}
	if errs > 0 {
		slog.Warn("faceid: query skipped incomparable vectors", "skipped", errs)
	}
	return bestOwner, bestDist
}

// bestPerIdentity returns each identity's minimum distance to the
// query, +Inf where no comparable vector exists.
func (idx *searchIndex) bestPerIdentity(query Embedding) []float64 {
	best := make([]float64, len(idx.idents))
	for i := range best {
		best[i] = math.Inf(1)
	}

	if idx.ann != nil {
		// Overscan so that identities with many close samples cannot
		// crowd the rest out of the neighbor list.
		k := len(idx.entries)
		if k > 4*len(idx.idents) {
			k = 4 * len(idx.idents)
		}
		if matches, err := idx.ann.Search(query, k); err == nil {
			for _, match := range matches {
				ord, convErr := strconv.Atoi(match.ID)
				if convErr != nil || ord < 0 || ord >= len(idx.entries) {
					continue
				}
				owner := idx.entries[ord].owner
				if d := float64(match.Distance); d < best[owner] {
					best[owner] = d
				}
			}
			return best
		}
		// Backend failure: fall back to the exact scan.
	}

	errs := 0
	for _, e := range idx.entries {
		d, err := Distance(query, e.vector)
		if err != nil {
			errs++
			continue
		}
		if d < best[e.owner] {
			best[e.owner] = d
		}
	}
	if errs > 0 {
		slog.Warn("faceid: query skipped incomparable vectors", "skipped", errs)
	}
	return best
}

func (idx *searchIndex) annNearest(query Embedding, k int) (int, float64, bool) {
	matches, err := idx.ann.Search(query, k)
	if err != nil || len(matches) == 0 {
		return -1, 0, false
	}
	ord, err := strconv.Atoi(matches[0].ID)
	if err != nil || ord < 0 || ord >= len(idx.entries) {
		return -1, 0, false
	}
	return idx.entries[ord].owner, float64(matches[0].Distance), true
}
