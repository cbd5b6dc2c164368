package gallery

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/jsontime"
	"github.com/haivivi/faceid/go/pkg/kv"
)

func newTestGallery(t *testing.T) *KV {
	t.Helper()
	store := kv.NewMemory(nil)
	t.Cleanup(func() { store.Close() })
	return NewKV(store)
}

func testIdentity(id, name string, ms int64, embs ...faceid.Embedding) *faceid.Identity {
	return &faceid.Identity{
		ID:            id,
		Name:          name,
		Embeddings:    embs,
		MeanEmbedding: faceid.MeanEmbedding(embs),
		CaptureCount:  len(embs),
		RegisteredAt:  jsontime.Milli(time.UnixMilli(ms)),
	}
}

func TestSaveAndLoadIdentity(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	want := testIdentity("u1", "Alice", 1700000000123,
		faceid.Embedding{0.1, 0.2, 0.3},
		faceid.Embedding{0.4, 0.5, 0.6},
	)
	if err := g.SaveIdentity(ctx, want); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	got, err := g.Identity(ctx, "u1")
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if got.ID != "u1" || got.Name != "Alice" {
		t.Errorf("got id=%q name=%q, want u1/Alice", got.ID, got.Name)
	}
	if got.CaptureCount != 2 || len(got.Embeddings) != 2 {
		t.Errorf("got %d captures, %d embeddings, want 2/2", got.CaptureCount, len(got.Embeddings))
	}
	for i, emb := range got.Embeddings {
		for j, v := range emb {
			if v != want.Embeddings[i][j] {
				t.Errorf("embedding[%d][%d] = %v, want %v", i, j, v, want.Embeddings[i][j])
			}
		}
	}
	for j, v := range got.MeanEmbedding {
		if v != want.MeanEmbedding[j] {
			t.Errorf("mean[%d] = %v, want %v", j, v, want.MeanEmbedding[j])
		}
	}
	if !got.RegisteredAt.Equal(want.RegisteredAt) {
		t.Errorf("RegisteredAt = %v, want %v", got.RegisteredAt, want.RegisteredAt)
	}
}

func TestIdentityNotFound(t *testing.T) {
	g := newTestGallery(t)

	_, err := g.Identity(context.Background(), "nobody")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("got %v, want kv.ErrNotFound", err)
	}
}

func TestIdentityUnkeyableID(t *testing.T) {
	g := newTestGallery(t)

	// IDs containing the key separator can never have been stored, so
	// lookups report not-found rather than panicking in key encoding.
	_, err := g.Identity(context.Background(), "a:b")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("got %v, want kv.ErrNotFound", err)
	}
}

func TestSaveIdentityRejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	if err := g.SaveIdentity(ctx, nil); err == nil {
		t.Error("expected error for nil identity")
	}
	if err := g.SaveIdentity(ctx, testIdentity("", "x", 1)); err == nil {
		t.Error("expected error for empty id")
	}
	err := g.SaveIdentity(ctx, testIdentity("a:b", "x", 1, faceid.Embedding{1}))
	if err == nil || !strings.Contains(err.Error(), "reserved") {
		t.Errorf("got %v, want reserved-byte error", err)
	}
}

func TestSaveIdentityReplaces(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	if err := g.SaveIdentity(ctx, testIdentity("u1", "Old", 100, faceid.Embedding{1})); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if err := g.SaveIdentity(ctx, testIdentity("u1", "New", 200, faceid.Embedding{2})); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	all, err := g.Identities(ctx)
	if err != nil {
		t.Fatalf("Identities: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d identities, want 1", len(all))
	}
	if all[0].Name != "New" || all[0].Embeddings[0][0] != 2 {
		t.Errorf("got name=%q emb=%v, want the replacement record", all[0].Name, all[0].Embeddings[0])
	}
}

func TestIdentitiesSorted(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	// Inserted out of order; "b" and "a" tie on registration time.
	for _, ident := range []*faceid.Identity{
		testIdentity("z", "late", 3000, faceid.Embedding{1}),
		testIdentity("b", "tied", 1000, faceid.Embedding{1}),
		testIdentity("a", "tied", 1000, faceid.Embedding{1}),
		testIdentity("m", "mid", 2000, faceid.Embedding{1}),
	} {
		if err := g.SaveIdentity(ctx, ident); err != nil {
			t.Fatalf("SaveIdentity(%s): %v", ident.ID, err)
		}
	}

	all, err := g.Identities(ctx)
	if err != nil {
		t.Fatalf("Identities: %v", err)
	}
	var got []string
	for _, ident := range all {
		got = append(got, ident.ID)
	}
	want := []string{"a", "b", "m", "z"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got order %v, want %v", got, want)
		}
	}
}

func TestIdentitiesSkipsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	if err := g.SaveIdentity(ctx, testIdentity("good", "ok", 100, faceid.Embedding{1})); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	// 0xc1 is never produced by a msgpack encoder.
	if err := g.store.Set(ctx, identityKey("bad"), []byte{0xc1, 0x00}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	all, err := g.Identities(ctx)
	if err != nil {
		t.Fatalf("Identities: %v", err)
	}
	if len(all) != 1 || all[0].ID != "good" {
		t.Fatalf("got %d identities, want only the decodable one", len(all))
	}
}

func TestDeleteIdentity(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	if err := g.SaveIdentity(ctx, testIdentity("u1", "Alice", 100, faceid.Embedding{1})); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if err := g.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := g.Identity(ctx, "u1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("got %v after delete, want kv.ErrNotFound", err)
	}

	// Absent and unkeyable IDs delete without error.
	if err := g.Delete(ctx, "u1"); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
	if err := g.Delete(ctx, "a:b"); err != nil {
		t.Errorf("Delete unkeyable: %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) kv.Store
	}{
		{"memory", func(t *testing.T) kv.Store { return kv.NewMemory(nil) }},
		{"badger", func(t *testing.T) kv.Store {
			s, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
			if err != nil {
				t.Fatalf("NewBadger: %v", err)
			}
			return s
		}},
		{"sqlite", func(t *testing.T) kv.Store {
			s, err := kv.NewSQLite(kv.SQLiteOptions{Path: filepath.Join(t.TempDir(), "kv.db")})
			if err != nil {
				t.Fatalf("NewSQLite: %v", err)
			}
			return s
		}},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			ctx := context.Background()
			store := backend.open(t)
			t.Cleanup(func() { store.Close() })
			g := NewKV(store)

			cp, err := g.LoadCheckpoint(ctx)
			if err != nil || cp != nil {
				t.Fatalf("LoadCheckpoint on empty store = (%v, %v), want (nil, nil)", cp, err)
			}

			want := &faceid.Checkpoint{
				UserID:     "u1",
				UserName:   "Alice",
				Embeddings: []faceid.Embedding{{0.1, 0.2}, {0.3, 0.4}},
				Thumbnails: [][]byte{[]byte("jpeg-1"), nil},
				State:      faceid.StateCollecting,
			}
			if err := g.SaveCheckpoint(ctx, want); err != nil {
				t.Fatalf("SaveCheckpoint: %v", err)
			}

			got, err := g.LoadCheckpoint(ctx)
			if err != nil {
				t.Fatalf("LoadCheckpoint: %v", err)
			}
			if got == nil {
				t.Fatal("LoadCheckpoint returned nil after save")
			}
			if got.UserID != "u1" || got.UserName != "Alice" || got.State != faceid.StateCollecting {
				t.Errorf("got %+v, want saved checkpoint", got)
			}
			if len(got.Embeddings) != 2 || got.Embeddings[1][0] != 0.3 {
				t.Errorf("embeddings = %v, want the saved samples", got.Embeddings)
			}
			if len(got.Thumbnails) != 2 || string(got.Thumbnails[0]) != "jpeg-1" {
				t.Errorf("thumbnails = %v, want the saved thumbnails", got.Thumbnails)
			}

			if err := g.ClearCheckpoint(ctx); err != nil {
				t.Fatalf("ClearCheckpoint: %v", err)
			}
			cp, err = g.LoadCheckpoint(ctx)
			if err != nil || cp != nil {
				t.Fatalf("LoadCheckpoint after clear = (%v, %v), want (nil, nil)", cp, err)
			}
			if err := g.ClearCheckpoint(ctx); err != nil {
				t.Errorf("ClearCheckpoint on empty store: %v", err)
			}
		})
	}
}

func TestSaveCheckpointNil(t *testing.T) {
	g := newTestGallery(t)
	if err := g.SaveCheckpoint(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil checkpoint")
	}
}

func TestLoadCheckpointBadState(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	if err := g.SaveCheckpoint(ctx, &faceid.Checkpoint{UserID: "u1", State: faceid.StateCollecting}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	// Corrupt the state name in place.
	data, err := g.store.Get(ctx, checkpointKey())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	corrupted := []byte(strings.Replace(string(data), "collecting", "collapsing", 1))
	if err := g.store.Set(ctx, checkpointKey(), corrupted); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := g.LoadCheckpoint(ctx); err == nil {
		t.Fatal("expected error for unknown checkpoint state")
	}
}

func TestGallerySessionIntegration(t *testing.T) {
	ctx := context.Background()
	g := newTestGallery(t)

	cfg := faceid.Config{MaxCaptures: 3, CaptureInterval: time.Nanosecond}
	sess, err := faceid.NewSession(ctx, cfg, faceid.WithStore(g))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start("u1", "Alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		emb := faceid.Embedding{float32(i) * 0.15, 0}
		res, err := sess.ProcessDetection(ctx, &faceid.Detection{Score: 0.95, Embedding: emb})
		if err != nil {
			t.Fatalf("ProcessDetection %d: %v", i, err)
		}
		if !res.Accepted {
			t.Fatalf("frame %d rejected: %s", i, res.Reason)
		}
	}

	got, err := g.Identity(ctx, "u1")
	if err != nil {
		t.Fatalf("Identity after enrollment: %v", err)
	}
	if got.CaptureCount != 3 || len(got.Embeddings) != 3 {
		t.Errorf("got %d captures, want 3", got.CaptureCount)
	}
	// Finalize must have cleared the checkpoint.
	cp, err := g.LoadCheckpoint(ctx)
	if err != nil || cp != nil {
		t.Errorf("checkpoint after finalize = (%v, %v), want (nil, nil)", cp, err)
	}
}
