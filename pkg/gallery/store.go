// Package gallery persists enrolled face identities and the in-progress
// enrollment checkpoint over a kv.Store.
//
// The package implements the faceid.Store contract plus the read side the
// matcher and management tooling need: load one identity, list all of
// them in stable order, delete one. Records are msgpack-encoded; the key
// layout is documented in keys.go.
//
// A gallery does not own its kv.Store. The caller opens the backend
// (Badger, SQLite, or memory) and closes it when done:
//
//	store, err := kv.NewBadger(kv.BadgerOptions{Dir: dir})
//	...
//	defer store.Close()
//	g := gallery.NewKV(store)
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/jsontime"
	"github.com/haivivi/faceid/go/pkg/kv"
)

// Store is the full gallery surface: the Session's persistence contract
// plus identity retrieval and management.
type Store interface {
	faceid.Store

	// Identity loads one enrolled identity. Absence reports kv.ErrNotFound.
	Identity(ctx context.Context, id string) (*faceid.Identity, error)

	// Identities returns every enrolled identity sorted by registration
	// time, then ID.
	Identities(ctx context.Context) ([]*faceid.Identity, error)

	// Delete removes an enrolled identity. Deleting an absent ID is not
	// an error.
	Delete(ctx context.Context, id string) error
}

// KV implements Store over a kv.Store.
type KV struct {
	store kv.Store
}

var _ Store = (*KV)(nil)

// NewKV wraps store as a gallery. The store is borrowed, not owned;
// closing it remains the caller's job.
func NewKV(store kv.Store) *KV {
	return &KV{store: store}
}

// identityRecord is the persisted form of a faceid.Identity.
// RegisteredAt is epoch milliseconds; jsontime.Milli has no msgpack
// encoding of its own.
type identityRecord struct {
	ID            string             `msgpack:"id"`
	Name          string             `msgpack:"name"`
	Embeddings    []faceid.Embedding `msgpack:"embeddings"`
	MeanEmbedding faceid.Embedding   `msgpack:"mean_embedding,omitempty"`
	CaptureCount  int                `msgpack:"capture_count"`
	RegisteredAt  int64              `msgpack:"registered_at"`
}

func (r *identityRecord) identity() *faceid.Identity {
	return &faceid.Identity{
		ID:            r.ID,
		Name:          r.Name,
		Embeddings:    r.Embeddings,
		MeanEmbedding: r.MeanEmbedding,
		CaptureCount:  r.CaptureCount,
		RegisteredAt:  jsontime.Milli(time.UnixMilli(r.RegisteredAt)),
	}
}

// checkpointRecord is the persisted form of a faceid.Checkpoint. State
// travels as its string name so records stay readable across versions.
type checkpointRecord struct {
	UserID     string             `msgpack:"user_id"`
	UserName   string             `msgpack:"user_name"`
	Embeddings []faceid.Embedding `msgpack:"embeddings"`
	Thumbnails [][]byte           `msgpack:"thumbnails,omitempty"`
	State      string             `msgpack:"state"`
}

// validateID rejects identity IDs that cannot become KV key segments.
func validateID(id string) error {
	if id == "" {
		return errors.New("gallery: empty identity id")
	}
	if strings.IndexByte(id, kv.DefaultSeparator) >= 0 {
		return fmt.Errorf("gallery: identity id %q contains reserved byte %q", id, string(kv.DefaultSeparator))
	}
	return nil
}

// SaveIdentity persists an identity template, replacing any existing
// record under the same ID.
func (g *KV) SaveIdentity(ctx context.Context, ident *faceid.Identity) error {
	if ident == nil {
		return errors.New("gallery: nil identity")
	}
	if err := validateID(ident.ID); err != nil {
		return err
	}
	rec := identityRecord{
		ID:            ident.ID,
		Name:          ident.Name,
		Embeddings:    ident.Embeddings,
		MeanEmbedding: ident.MeanEmbedding,
		CaptureCount:  ident.CaptureCount,
		RegisteredAt:  ident.RegisteredAt.Time().UnixMilli(),
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("gallery: encode identity %q: %w", ident.ID, err)
	}
	return g.store.Set(ctx, identityKey(ident.ID), data)
}

// Identity loads one enrolled identity. Absence reports kv.ErrNotFound.
func (g *KV) Identity(ctx context.Context, id string) (*faceid.Identity, error) {
	if validateID(id) != nil {
		// An ID that cannot be keyed was never stored.
		return nil, fmt.Errorf("gallery: identity %q: %w", id, kv.ErrNotFound)
	}
	data, err := g.store.Get(ctx, identityKey(id))
	if err != nil {
		return nil, fmt.Errorf("gallery: identity %q: %w", id, err)
	}
	var rec identityRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("gallery: decode identity %q: %w", id, err)
	}
	return rec.identity(), nil
}

// Identities returns every enrolled identity sorted by registration time,
// then ID. This is the matcher's load order; keeping it stable pins the
// tie-break for equidistant matches. Records that fail to decode are
// skipped with a warning so one bad record cannot take the gallery down.
func (g *KV) Identities(ctx context.Context) ([]*faceid.Identity, error) {
	var all []*faceid.Identity
	for entry, err := range g.store.List(ctx, identityPrefix()) {
		if err != nil {
			return nil, fmt.Errorf("gallery: list identities: %w", err)
		}
		var rec identityRecord
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			slog.Warn("gallery: skipping undecodable identity record", "key", entry.Key.String(), "error", err)
			continue
		}
		all = append(all, rec.identity())
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].RegisteredAt.Equal(all[j].RegisteredAt) {
			return all[i].RegisteredAt.Before(all[j].RegisteredAt)
		}
		return all[i].ID < all[j].ID
	})
	return all, nil
}

// Delete removes an enrolled identity. Deleting an absent ID is not an
// error.
func (g *KV) Delete(ctx context.Context, id string) error {
	if validateID(id) != nil {
		return nil
	}
	return g.store.Delete(ctx, identityKey(id))
}

// SaveCheckpoint persists the in-progress enrollment snapshot under its
// fixed key, replacing any previous snapshot.
func (g *KV) SaveCheckpoint(ctx context.Context, cp *faceid.Checkpoint) error {
	if cp == nil {
		return errors.New("gallery: nil checkpoint")
	}
	rec := checkpointRecord{
		UserID:     cp.UserID,
		UserName:   cp.UserName,
		Embeddings: cp.Embeddings,
		Thumbnails: cp.Thumbnails,
		State:      cp.State.String(),
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("gallery: encode checkpoint: %w", err)
	}
	return g.store.Set(ctx, checkpointKey(), data)
}

// LoadCheckpoint returns the saved enrollment snapshot, or (nil, nil)
// when none exists.
func (g *KV) LoadCheckpoint(ctx context.Context) (*faceid.Checkpoint, error) {
	data, err := g.store.Get(ctx, checkpointKey())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("gallery: load checkpoint: %w", err)
	}
	var rec checkpointRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("gallery: decode checkpoint: %w", err)
	}
	state, err := faceid.ParseState(rec.State)
	if err != nil {
		return nil, fmt.Errorf("gallery: decode checkpoint: %w", err)
	}
	return &faceid.Checkpoint{
		UserID:     rec.UserID,
		UserName:   rec.UserName,
		Embeddings: rec.Embeddings,
		Thumbnails: rec.Thumbnails,
		State:      state,
	}, nil
}

// ClearCheckpoint removes the snapshot. Clearing an absent checkpoint is
// not an error.
func (g *KV) ClearCheckpoint(ctx context.Context) error {
	return g.store.Delete(ctx, checkpointKey())
}
