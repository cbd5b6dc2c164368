// Package faceid implements face identity enrollment and 1:N matching
// over externally computed face embeddings.
//
// # Architecture
//
// Two independent components cooperate:
//
//  1. Session: a state machine fed per-frame Detections. An ordered
//     pipeline of admission gates filters candidate embeddings; accepted
//     samples aggregate into an identity template on finalize.
//  2. Matcher: indexes enrolled identity templates and answers
//     nearest-neighbor queries with a distance, a calibrated confidence,
//     and a match / no-match / unknown classification.
//
// The embedding extractor (the face detection network) is an external
// collaborator. This package consumes its output and never touches
// pixels, except to hand raw frames to an optional Thumbnailer.
//
// # Enrollment
//
//	sess, err := faceid.NewSession(ctx, faceid.Config{}, faceid.WithStore(store))
//	...
//	sess.Start("u1", "Alice")
//	for det := range detections {
//		res, err := sess.ProcessDetection(ctx, det)
//		...
//	}
//
// # Matching
//
//	m := faceid.NewMatcher(faceid.Config{})
//	m.Load(identities)
//	res := m.FindBestMatch(query)
//
// Embeddings are opaque fixed-length vectors; all embeddings compared
// together must share one length. Distances are Euclidean (L2).
package faceid

import (
	"context"

	"github.com/haivivi/faceid/go/pkg/jsontime"
)

// Embedding is a fixed-length face descriptor produced by an external
// detector. The dimension is set by the detector model (128 for typical
// face recognition nets) and is never asserted here beyond "vectors
// compared together must agree".
type Embedding []float32

// Clone returns a copy of the embedding.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	cp := make(Embedding, len(e))
	copy(cp, e)
	return cp
}

// Rect is a detection bounding box in frame pixel coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one frame's detector output.
type Detection struct {
	// Score is the detector's confidence in [0, 1] that the frame
	// contains a face.
	Score float64 `json:"score"`

	// Box is the face bounding box, used only for thumbnail cropping.
	Box Rect `json:"box"`

	// Embedding is the face descriptor. Nil when the detector found a
	// face but could not compute a descriptor.
	Embedding Embedding `json:"embedding,omitempty"`

	// Frame is the encoded source image (JPEG or PNG). Optional; only
	// used to produce capture thumbnails.
	Frame []byte `json:"-"`
}

// Identity is a finalized enrollment template. It is immutable once
// persisted; re-enrolling under the same ID replaces it wholesale.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Embeddings are the accepted capture samples, in capture order.
	Embeddings []Embedding `json:"embeddings"`

	// MeanEmbedding is the per-dimension arithmetic mean of Embeddings.
	// Nil only for records imported without one.
	MeanEmbedding Embedding `json:"meanEmbedding,omitempty"`

	CaptureCount int            `json:"captureCount"`
	RegisteredAt jsontime.Milli `json:"registeredAt"`
}

// Checkpoint is the resumable snapshot of an in-progress enrollment,
// persisted after every accepted capture so an interrupted session can
// pick up where it left off.
type Checkpoint struct {
	UserID     string
	UserName   string
	Embeddings []Embedding
	Thumbnails [][]byte
	State      State
}

// Store is the persistence surface a Session depends on. Implementations
// live outside this package (see the gallery package); tests inject
// in-memory fakes.
//
// LoadCheckpoint returns (nil, nil) when no checkpoint exists.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LoadCheckpoint(ctx context.Context) (*Checkpoint, error)
	ClearCheckpoint(ctx context.Context) error
	SaveIdentity(ctx context.Context, id *Identity) error
}

// Thumbnailer turns a raw frame and a face box into a small encoded
// preview image. A nil result or an error is non-fatal to capture; the
// session simply records no thumbnail for that sample.
type Thumbnailer interface {
	Thumbnail(frame []byte, box Rect) ([]byte, error)
}
