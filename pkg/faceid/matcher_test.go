package faceid

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/haivivi/faceid/go/pkg/vecstore"
)

func ident(id, name string, embs ...Embedding) *Identity {
	return &Identity{
		ID:            id,
		Name:          name,
		Embeddings:    embs,
		MeanEmbedding: MeanEmbedding(embs),
		CaptureCount:  len(embs),
	}
}

func TestMatcherEmptyIndex(t *testing.T) {
	m := NewMatcher(Config{})

	// Never loaded.
	res := m.FindBestMatch(Embedding{1, 0})
	if res.Status != StatusUnknown {
		t.Fatalf("status = %s, want unknown", res.Status)
	}
	if !math.IsInf(res.Distance, 1) {
		t.Errorf("distance = %f, want +Inf", res.Distance)
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %f, want 0", res.Confidence)
	}

	// Loaded empty.
	m.Load(nil)
	if res := m.FindBestMatch(Embedding{1, 0}); res.Status != StatusUnknown {
		t.Fatalf("status after empty load = %s, want unknown", res.Status)
	}
}

func TestMatcherEmptyQuery(t *testing.T) {
	m := NewMatcher(Config{})
	m.Load([]*Identity{ident("u1", "Ann", Embedding{1, 0})})

	if res := m.FindBestMatch(nil); res.Status != StatusUnknown {
		t.Fatalf("status = %s, want unknown for missing query", res.Status)
	}
}

func TestMatcherExactMatch(t *testing.T) {
	m := NewMatcher(Config{})
	m.Load([]*Identity{ident("u1", "Ann", Embedding{1, 0})})

	res := m.FindBestMatch(Embedding{1, 0})
	if res.Status != StatusMatched || res.IdentityID != "u1" || res.Name != "Ann" {
		t.Fatalf("result = %+v, want match for u1", res)
	}
	if res.Distance != 0 {
		t.Errorf("distance = %f, want 0", res.Distance)
	}
	if res.Confidence != 100 {
		t.Errorf("confidence = %f, want 100", res.Confidence)
	}
	if !res.HighConfidence {
		t.Error("an exact match should be high confidence")
	}
}

func TestMatcherThresholdIsStrict(t *testing.T) {
	// 0.5 and 0.25 are exact in float32, so the boundary is sharp.
	m := NewMatcher(Config{MatchThreshold: 0.5})
	m.Load([]*Identity{ident("u1", "Ann", Embedding{0, 0})})

	res := m.FindBestMatch(Embedding{0.5, 0})
	if res.Status != StatusNoMatch {
		t.Fatalf("status at threshold = %s, want no_match", res.Status)
	}
	if res.Distance != 0.5 {
		t.Errorf("distance = %f, want 0.5", res.Distance)
	}
	if res.IdentityID != "" || res.Confidence != 0 {
		t.Errorf("no_match result leaks identity data: %+v", res)
	}

	res = m.FindBestMatch(Embedding{0.25, 0})
	if res.Status != StatusMatched {
		t.Fatalf("status below threshold = %s, want matched", res.Status)
	}
}

func TestMatcherNearestSampleWins(t *testing.T) {
	m := NewMatcher(Config{})
	m.Load([]*Identity{
		ident("u1", "Ann", Embedding{1, 0}, Embedding{1, 0.01}, Embedding{1, -0.01}),
		ident("u2", "Bob", Embedding{0, 1}),
	})

	res := m.FindBestMatch(Embedding{1, 0.005})
	if res.Status != StatusMatched || res.IdentityID != "u1" {
		t.Fatalf("result = %+v, want match for u1", res)
	}
	if res.Distance > 0.01 {
		t.Errorf("distance = %f, want the closest of u1's samples", res.Distance)
	}
}

func TestMatcherConfidenceDecays(t *testing.T) {
	m := NewMatcher(Config{})
	m.Load([]*Identity{ident("u1", "Ann", Embedding{0, 0})})

	near := m.FindBestMatch(Embedding{0.1, 0})
	far := m.FindBestMatch(Embedding{0.4, 0})
	if near.Status != StatusMatched || far.Status != StatusMatched {
		t.Fatalf("status = %s / %s, want both matched", near.Status, far.Status)
	}
	if near.Confidence <= far.Confidence {
		t.Errorf("confidence %f at 0.1 should exceed %f at 0.4", near.Confidence, far.Confidence)
	}
	if near.Confidence > 100 || far.Confidence < 0 {
		t.Errorf("confidence out of [0, 100]: %f, %f", near.Confidence, far.Confidence)
	}
	if !near.HighConfidence {
		t.Error("distance 0.1 should be high confidence at the default threshold")
	}
	if far.HighConfidence {
		t.Error("distance 0.4 should not be high confidence at the default threshold")
	}
}

func TestMatcherTopMatches(t *testing.T) {
	m := NewMatcher(Config{})
	m.Load([]*Identity{
		ident("u1", "Ann", Embedding{0.1, 0}, Embedding{0.12, 0}),
		ident("u2", "Bob", Embedding{0.3, 0}),
		ident("u3", "Eve", Embedding{2, 0}),
	})

	top := m.FindTopMatches(Embedding{0, 0}, 3)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	if top[0].IdentityID != "u1" || top[1].IdentityID != "u2" || top[2].IdentityID != "u3" {
		t.Fatalf("order = %s %s %s, want u1 u2 u3",
			top[0].IdentityID, top[1].IdentityID, top[2].IdentityID)
	}
	for i := 1; i < len(top); i++ {
		if top[i].Distance < top[i-1].Distance {
			t.Errorf("distances not ascending: %f before %f", top[i-1].Distance, top[i].Distance)
		}
	}
	// u1 appears once even though two of its samples beat everyone else.
	if !top[0].IsMatch || !top[1].IsMatch {
		t.Error("u1 and u2 are inside the threshold, want IsMatch")
	}
	if top[2].IsMatch {
		t.Error("u3 at distance 2 must not match")
	}
	if top[2].Confidence != 0 {
		t.Errorf("non-match confidence = %f, want 0", top[2].Confidence)
	}
}

func TestMatcherTopMatchesTruncates(t *testing.T) {
	m := NewMatcher(Config{})
	m.Load([]*Identity{
		ident("u1", "Ann", Embedding{0.1, 0}),
		ident("u2", "Bob", Embedding{0.2, 0}),
		ident("u3", "Eve", Embedding{0.3, 0}),
	})

	top := m.FindTopMatches(Embedding{0, 0}, 2)
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].IdentityID != "u1" || top[1].IdentityID != "u2" {
		t.Errorf("order = %s %s, want u1 u2", top[0].IdentityID, top[1].IdentityID)
	}

	if res := m.FindTopMatches(Embedding{0, 0}, 0); res != nil {
		t.Errorf("k=0 result = %v, want nil", res)
	}
	if res := m.FindTopMatches(nil, 3); res != nil {
		t.Errorf("empty query result = %v, want nil", res)
	}
}

func TestMatcherStats(t *testing.T) {
	m := NewMatcher(Config{})
	m.Load([]*Identity{ident("u1", "Ann", Embedding{0, 0})})

	m.FindBestMatch(Embedding{0.1, 0}) // match
	m.FindBestMatch(Embedding{5, 0})   // no match
	m.FindBestMatch(nil)               // unknown
	m.FindTopMatches(Embedding{0.1, 0}, 1)

	st := m.Stats()
	if st.TotalQueries != 4 {
		t.Errorf("TotalQueries = %d, want 4", st.TotalQueries)
	}
	if st.SuccessfulQueries != 2 {
		t.Errorf("SuccessfulQueries = %d, want 2", st.SuccessfulQueries)
	}
	if st.LastQueryLatency <= 0 {
		t.Errorf("LastQueryLatency = %v, want > 0", st.LastQueryLatency)
	}

	// Counters survive a reload.
	m.Load([]*Identity{ident("u2", "Bob", Embedding{1, 0})})
	if st := m.Stats(); st.TotalQueries != 4 {
		t.Errorf("TotalQueries after reload = %d, want 4", st.TotalQueries)
	}

	m.ResetStats()
	if st := m.Stats(); st.TotalQueries != 0 || st.SuccessfulQueries != 0 {
		t.Errorf("stats after reset = %+v, want zeros", st)
	}
}

func TestMatcherLoadReplaces(t *testing.T) {
	m := NewMatcher(Config{})
	if n := m.Load([]*Identity{
		ident("u1", "Ann", Embedding{1, 0}),
		ident("u2", "Bob", Embedding{0, 1}),
	}); n != 2 {
		t.Fatalf("Load = %d, want 2", n)
	}

	if n := m.Load([]*Identity{ident("u3", "Eve", Embedding{0.5, 0.5})}); n != 1 {
		t.Fatalf("Load = %d, want 1", n)
	}
	if m.IdentityCount() != 1 || m.Len() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", m.IdentityCount(), m.Len())
	}

	// u1 is gone; the old gallery must not answer.
	res := m.FindBestMatch(Embedding{1, 0})
	if res.IdentityID == "u1" {
		t.Error("replaced gallery still matches old identity")
	}
}

func TestMatcherLoadSkipsInvalid(t *testing.T) {
	m := NewMatcher(Config{})
	n := m.Load([]*Identity{
		nil,
		{Name: "no id", Embeddings: []Embedding{{1, 0}}},
		ident("empty", "No Vectors"),
		ident("u1", "Ann", Embedding{1, 0}),
	})
	if n != 1 {
		t.Fatalf("Load = %d, want 1", n)
	}
	if m.IdentityCount() != 1 {
		t.Errorf("IdentityCount = %d, want 1", m.IdentityCount())
	}
}

func TestMatcherMeanMode(t *testing.T) {
	samples := ident("u1", "Ann", Embedding{1, 0}, Embedding{3, 0})

	all := NewMatcher(Config{MatchThreshold: 5})
	all.Load([]*Identity{samples})
	mean := NewMatcher(Config{MatchThreshold: 5, UseMeanEmbedding: true})
	mean.Load([]*Identity{samples})

	if all.Len() != 2 || mean.Len() != 1 {
		t.Fatalf("indexed vectors = %d/%d, want 2/1", all.Len(), mean.Len())
	}

	// Query at one raw sample: 0 against samples, 1 against the [2 0] mean.
	if d := all.FindBestMatch(Embedding{1, 0}).Distance; d != 0 {
		t.Errorf("sample-mode distance = %f, want 0", d)
	}
	if d := mean.FindBestMatch(Embedding{1, 0}).Distance; d != 1 {
		t.Errorf("mean-mode distance = %f, want 1", d)
	}
}

func TestMatcherMeanOnlyRecord(t *testing.T) {
	// Imported records may carry just a mean; sample mode falls back to it.
	m := NewMatcher(Config{})
	n := m.Load([]*Identity{{ID: "u1", Name: "Ann", MeanEmbedding: Embedding{1, 0}}})
	if n != 1 {
		t.Fatalf("Load = %d, want 1", n)
	}
	if res := m.FindBestMatch(Embedding{1, 0}); res.Status != StatusMatched {
		t.Fatalf("status = %s, want matched", res.Status)
	}
}

// ---------------------------------------------------------------------------
// ANN-backed retrieval
// ---------------------------------------------------------------------------

func hnswFactory(dim int) IndexFactory {
	return func() (vecstore.Index, error) {
		return vecstore.NewHNSW(vecstore.HNSWConfig{
			Dim:            dim,
			Metric:         vecstore.MetricL2,
			M:              16,
			EfConstruction: 128,
			EfSearch:       128,
		}), nil
	}
}

func randomGallery(rng *rand.Rand, n, dim int) []*Identity {
	out := make([]*Identity, n)
	for i := range out {
		emb := make(Embedding, dim)
		for d := range emb {
			emb[d] = float32(rng.NormFloat64())
		}
		out[i] = ident(fmt.Sprintf("u%d", i), fmt.Sprintf("User %d", i), emb)
	}
	return out
}

func TestMatcherANNMatchesLinear(t *testing.T) {
	const (
		dim = 16
		n   = 50
	)

	backends := []struct {
		name    string
		factory IndexFactory
	}{
		{"memory", func() (vecstore.Index, error) { return vecstore.NewMemory(vecstore.MetricL2), nil }},
		{"hnsw", hnswFactory(dim)},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(11, 23))
			gallery := randomGallery(rng, n, dim)

			flat := NewMatcher(Config{MatchThreshold: 10})
			flat.Load(gallery)
			ann := NewMatcher(Config{MatchThreshold: 10}, WithIndexFactory(backend.factory))
			ann.Load(gallery)

			for q := 0; q < 20; q++ {
				query := make(Embedding, dim)
				for d := range query {
					query[d] = float32(rng.NormFloat64())
				}

				fr := flat.FindBestMatch(query)
				ar := ann.FindBestMatch(query)
				if fr.IdentityID != ar.IdentityID || fr.Status != ar.Status {
					t.Fatalf("query %d: delegated (%s, %s) disagrees with linear (%s, %s)",
						q, ar.IdentityID, ar.Status, fr.IdentityID, fr.Status)
				}
				if math.Abs(fr.Distance-ar.Distance) > 1e-4 {
					t.Errorf("query %d: distance %f vs %f", q, fr.Distance, ar.Distance)
				}
			}
		})
	}
}

func TestMatcherANNTopMatches(t *testing.T) {
	const (
		dim = 8
		n   = 30
	)
	rng := rand.New(rand.NewPCG(5, 7))
	gallery := randomGallery(rng, n, dim)

	flat := NewMatcher(Config{MatchThreshold: 10})
	flat.Load(gallery)
	ann := NewMatcher(Config{MatchThreshold: 10}, WithIndexFactory(hnswFactory(dim)))
	ann.Load(gallery)

	query := make(Embedding, dim)
	for d := range query {
		query[d] = float32(rng.NormFloat64())
	}

	ft := flat.FindTopMatches(query, 5)
	at := ann.FindTopMatches(query, 5)
	if len(ft) != len(at) {
		t.Fatalf("len = %d vs %d", len(at), len(ft))
	}
	for i := range ft {
		if ft[i].IdentityID != at[i].IdentityID {
			t.Errorf("rank %d: ann %s, linear %s", i, at[i].IdentityID, ft[i].IdentityID)
		}
	}
}

func TestMatcherFactoryFailure(t *testing.T) {
	m := NewMatcher(Config{}, WithIndexFactory(func() (vecstore.Index, error) {
		return nil, fmt.Errorf("no native library")
	}))
	if n := m.Load([]*Identity{ident("u1", "Ann", Embedding{1, 0})}); n != 1 {
		t.Fatalf("Load = %d, want 1", n)
	}

	// Fell back to the linear scan.
	if res := m.FindBestMatch(Embedding{1, 0}); res.Status != StatusMatched {
		t.Fatalf("status = %s, want matched via linear fallback", res.Status)
	}
}
