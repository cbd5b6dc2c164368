package gallery

import (
	"testing"

	"github.com/haivivi/faceid/go/pkg/faceid"
)

// auditIdent builds an identity whose stored mean is the given vector.
func auditIdent(id string, mean ...float32) *faceid.Identity {
	return &faceid.Identity{ID: id, MeanEmbedding: mean}
}

func TestAuditFindsDuplicatePair(t *testing.T) {
	identities := []*faceid.Identity{
		auditIdent("a", 0, 0),
		auditIdent("b", 0.1, 0), // 0.1 from a
		auditIdent("c", 5, 0),
		auditIdent("d", 0, 5),
	}

	report := Audit(identities, 0.5, 2)
	if len(report.Clusters) != 1 {
		t.Fatalf("got %d clusters, want 1: %v", len(report.Clusters), report.Clusters)
	}
	got := report.Clusters[0]
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("cluster = %v, want [a b]", got)
	}
	if len(report.Noise) != 2 || report.Noise[0] != "c" || report.Noise[1] != "d" {
		t.Errorf("noise = %v, want [c d]", report.Noise)
	}
}

func TestAuditMultipleClusters(t *testing.T) {
	identities := []*faceid.Identity{
		auditIdent("a1", 0, 0),
		auditIdent("b1", 10, 0),
		auditIdent("a2", 0.2, 0),
		auditIdent("b2", 10.2, 0),
		auditIdent("lone", 50, 50),
	}

	report := Audit(identities, 0.5, 2)
	if len(report.Clusters) != 2 {
		t.Fatalf("got %d clusters, want 2: %v", len(report.Clusters), report.Clusters)
	}
	// Clusters and their members follow input order.
	first, second := report.Clusters[0], report.Clusters[1]
	if len(first) != 2 || first[0] != "a1" || first[1] != "a2" {
		t.Errorf("first cluster = %v, want [a1 a2]", first)
	}
	if len(second) != 2 || second[0] != "b1" || second[1] != "b2" {
		t.Errorf("second cluster = %v, want [b1 b2]", second)
	}
	if len(report.Noise) != 1 || report.Noise[0] != "lone" {
		t.Errorf("noise = %v, want [lone]", report.Noise)
	}
}

func TestAuditChainExpansion(t *testing.T) {
	// c reaches a only through b; density expansion must pick it up.
	identities := []*faceid.Identity{
		auditIdent("a", 0, 0),
		auditIdent("b", 0.4, 0),
		auditIdent("c", 0.8, 0),
	}

	report := Audit(identities, 0.5, 2)
	if len(report.Clusters) != 1 || len(report.Clusters[0]) != 3 {
		t.Fatalf("got clusters %v, want one cluster of 3", report.Clusters)
	}
	if len(report.Noise) != 0 {
		t.Errorf("noise = %v, want none", report.Noise)
	}
}

func TestAuditMinPts(t *testing.T) {
	identities := []*faceid.Identity{
		auditIdent("a", 0, 0),
		auditIdent("b", 0.1, 0),
	}

	// A pair is not dense enough for minPts 3.
	report := Audit(identities, 0.5, 3)
	if len(report.Clusters) != 0 {
		t.Fatalf("got clusters %v, want none", report.Clusters)
	}
	if len(report.Noise) != 2 {
		t.Errorf("noise = %v, want both identities", report.Noise)
	}
}

func TestAuditEmpty(t *testing.T) {
	report := Audit(nil, 0.5, 2)
	if report == nil {
		t.Fatal("Audit returned nil report")
	}
	if len(report.Clusters) != 0 || len(report.Noise) != 0 {
		t.Errorf("got %+v, want empty report", report)
	}
}

func TestAuditSkipsVectorless(t *testing.T) {
	identities := []*faceid.Identity{
		auditIdent("a", 0, 0),
		auditIdent("b", 0.1, 0),
		{ID: "ghost"}, // no mean, no samples
		nil,
	}

	report := Audit(identities, 0.5, 2)
	for _, id := range report.Noise {
		if id == "ghost" {
			t.Error("vectorless identity should be skipped, not reported as noise")
		}
	}
	if len(report.Clusters) != 1 || len(report.Clusters[0]) != 2 {
		t.Fatalf("got clusters %v, want the [a b] pair", report.Clusters)
	}
}

func TestAuditMeanFallback(t *testing.T) {
	// No stored mean; the mean of the samples is (0.1, 0).
	sampled := &faceid.Identity{
		ID:         "sampled",
		Embeddings: []faceid.Embedding{{0.2, 0}, {0, 0}},
	}
	identities := []*faceid.Identity{
		auditIdent("stored", 0, 0),
		sampled,
	}

	report := Audit(identities, 0.5, 2)
	if len(report.Clusters) != 1 || len(report.Clusters[0]) != 2 {
		t.Fatalf("got clusters %v, want [stored sampled]", report.Clusters)
	}
}

func TestAuditMismatchedDimensions(t *testing.T) {
	identities := []*faceid.Identity{
		auditIdent("a", 0, 0),
		auditIdent("b", 0.1, 0),
		auditIdent("odd", 0, 0, 0), // different dimension, infinitely far
	}

	report := Audit(identities, 0.5, 2)
	if len(report.Clusters) != 1 || len(report.Clusters[0]) != 2 {
		t.Fatalf("got clusters %v, want only the matched-dimension pair", report.Clusters)
	}
	if len(report.Noise) != 1 || report.Noise[0] != "odd" {
		t.Errorf("noise = %v, want [odd]", report.Noise)
	}
}
