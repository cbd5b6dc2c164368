package faceid

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/haivivi/faceid/go/pkg/jsontime"
)

// State is an enrollment session lifecycle state.
type State int

const (
	// StateIdle: no enrollment in progress.
	StateIdle State = iota

	// StateCollecting: admission gates are evaluating detection frames.
	StateCollecting

	// StateComputing: accepted samples are being aggregated and persisted.
	StateComputing

	// StateSaved: the identity template was persisted. Terminal until
	// Start or Restart.
	StateSaved

	// StateError: finalize persistence failed. Terminal until Cancel or
	// Restart; the session is never retried automatically.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateComputing:
		return "computing"
	case StateSaved:
		return "saved"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "idle":
		return StateIdle, nil
	case "collecting":
		return StateCollecting, nil
	case "computing":
		return StateComputing, nil
	case "saved":
		return StateSaved, nil
	case "error":
		return StateError, nil
	default:
		return StateIdle, fmt.Errorf("faceid: unknown state %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CaptureResult reports the outcome of one ProcessDetection call.
type CaptureResult struct {
	Accepted bool `json:"accepted"`

	// Reason names the gate that rejected the frame. Empty on
	// acceptance, and on the rare path where a restored-but-complete
	// session finalizes without evaluating the frame.
	Reason RejectReason `json:"reason,omitempty"`

	// Count is the number of accepted samples so far.
	Count int `json:"count"`

	// Progress is Count / MaxCaptures, in [0, 1].
	Progress float64 `json:"progress"`
}

// Session is the enrollment state machine. It is fed externally-supplied
// detections at frame rate, admits or rejects each one, and finalizes an
// Identity once enough samples are collected.
//
// A Session is driven by a single logical caller; it performs no internal
// locking and no internal scheduling. Every public method runs to
// completion synchronously.
type Session struct {
	cfg Config

	state    State
	userID   string
	userName string

	embeddings  []Embedding
	thumbs      [][]byte // parallel to embeddings; nil entries are fine
	lastCapture time.Time

	store       Store
	thumbnailer Thumbnailer
	events      Events

	err error

	now func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithStore sets the persistence backend. Without one, checkpoints are
// skipped and finalized identities are delivered via events only.
func WithStore(store Store) SessionOption {
	return func(s *Session) { s.store = store }
}

// WithEvents sets the observer receiving session notifications.
func WithEvents(ev Events) SessionOption {
	return func(s *Session) {
		if ev != nil {
			s.events = ev
		}
	}
}

// WithThumbnailer enables capture preview generation.
func WithThumbnailer(t Thumbnailer) SessionOption {
	return func(s *Session) { s.thumbnailer = t }
}

// NewSession creates an enrollment session. When a store is configured
// and holds a checkpoint, captured samples are restored; if the
// checkpoint was taken mid-collection, the session resumes directly in
// StateCollecting.
func NewSession(ctx context.Context, cfg Config, opts ...SessionOption) (*Session, error) {
	cfg.setDefaults()
	s := &Session{
		cfg:    cfg,
		events: NopEvents{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store != nil {
		cp, err := s.store.LoadCheckpoint(ctx)
		if err != nil {
			return nil, fmt.Errorf("faceid: load checkpoint: %w", err)
		}
		if cp != nil {
			s.restore(cp)
		}
	}
	return s, nil
}

func (s *Session) restore(cp *Checkpoint) {
	s.userID = cp.UserID
	s.userName = cp.UserName
	s.embeddings = cp.Embeddings
	s.thumbs = cp.Thumbnails
	if len(s.thumbs) != len(s.embeddings) {
		s.thumbs = make([][]byte, len(s.embeddings))
	}
	if cp.State == StateCollecting {
		s.state = StateCollecting
	}
	slog.Info("faceid: restored enrollment checkpoint",
		"user", cp.UserID, "captures", len(s.embeddings), "state", s.state)
}

// Start begins collecting for the given identity. Valid from StateIdle
// or StateSaved; any previous capture data is discarded.
func (s *Session) Start(userID, userName string) error {
	if s.state != StateIdle && s.state != StateSaved {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s.state)
	}
	s.userID = userID
	s.userName = userName
	s.embeddings = nil
	s.thumbs = nil
	s.lastCapture = time.Time{}
	s.err = nil
	s.setState(StateCollecting)
	return nil
}

// ProcessDetection runs one frame through the admission pipeline. Valid
// only in StateCollecting. Gates run in a fixed order and the first
// failure wins; a rejection is reported in the result, not as an error.
//
// On acceptance the sample is recorded and the checkpoint re-persisted
// (best effort). Once MaxCaptures is reached the session finalizes
// synchronously within this call. A finalize persistence failure is
// returned as the error alongside the (accepted) result.
func (s *Session) ProcessDetection(ctx context.Context, det *Detection) (*CaptureResult, error) {
	if s.state != StateCollecting {
		return nil, fmt.Errorf("%w: process detection in %s", ErrInvalidState, s.state)
	}

	// A restored checkpoint can already hold a full sample set (crash
	// between the final capture and finalize); finish it instead of
	// collecting more.
	if len(s.embeddings) >= s.cfg.MaxCaptures {
		if err := s.finalize(ctx); err != nil {
			return nil, err
		}
		return &CaptureResult{Count: len(s.embeddings), Progress: s.Progress()}, nil
	}

	// Rate gate: enforce a minimum interval between accepted captures,
	// regardless of frame quality.
	if !s.lastCapture.IsZero() && s.now().Sub(s.lastCapture) < s.cfg.CaptureInterval {
		return s.reject(RejectTooFast), nil
	}

	// Quality gate.
	if det == nil {
		return s.reject(RejectNoDetection), nil
	}
	if det.Score < s.cfg.MinConfidence {
		return s.reject(RejectLowConfidence), nil
	}

	// Descriptor gate.
	if len(det.Embedding) == 0 {
		return s.reject(RejectNoDescriptor), nil
	}

	// Novelty and consistency gates apply once a prior sample exists.
	if len(s.embeddings) > 0 {
		minDist, maxDist, err := s.spread(det.Embedding)
		if err != nil {
			return nil, err
		}
		if minDist < s.cfg.SimilarityThreshold {
			return s.reject(RejectTooSimilar), nil
		}
		if maxDist > s.cfg.ConsistencyThreshold {
			return s.reject(RejectInconsistent), nil
		}
	}

	// Accepted.
	s.embeddings = append(s.embeddings, det.Embedding.Clone())
	s.thumbs = append(s.thumbs, s.thumbnail(det))
	s.lastCapture = s.now()

	s.checkpoint(ctx)

	res := &CaptureResult{Accepted: true, Count: len(s.embeddings), Progress: s.Progress()}
	s.events.CaptureAccepted(res.Count, res.Progress, s.thumbs[len(s.thumbs)-1])

	if len(s.embeddings) >= s.cfg.MaxCaptures {
		if err := s.finalize(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// UndoLast discards the most recently accepted sample and re-persists
// the checkpoint. No-op outside StateCollecting or with nothing
// captured. Returns the remaining sample count.
func (s *Session) UndoLast(ctx context.Context) int {
	if s.state != StateCollecting || len(s.embeddings) == 0 {
		return len(s.embeddings)
	}
	s.embeddings = s.embeddings[:len(s.embeddings)-1]
	s.thumbs = s.thumbs[:len(s.thumbs)-1]
	s.checkpoint(ctx)
	return len(s.embeddings)
}

// FinishEarly finalizes with the samples collected so far. Requires at
// least MinSamples accepted captures; below the floor it returns
// ErrInsufficientSamples and the session keeps collecting.
func (s *Session) FinishEarly(ctx context.Context) error {
	if s.state != StateCollecting {
		return fmt.Errorf("%w: finish in %s", ErrInvalidState, s.state)
	}
	if len(s.embeddings) < MinSamples {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(s.embeddings), MinSamples)
	}
	return s.finalize(ctx)
}

// Cancel discards the in-progress enrollment from any state, clears the
// persisted checkpoint (best effort), and returns to StateIdle.
func (s *Session) Cancel(ctx context.Context) {
	s.embeddings = nil
	s.thumbs = nil
	s.lastCapture = time.Time{}
	s.err = nil
	if s.store != nil {
		if err := s.store.ClearCheckpoint(ctx); err != nil {
			slog.Warn("faceid: checkpoint clear failed", "user", s.userID, "error", err)
		}
	}
	s.setState(StateIdle)
}

// Restart cancels and immediately starts a fresh enrollment for the
// same identity.
func (s *Session) Restart(ctx context.Context) error {
	s.Cancel(ctx)
	return s.Start(s.userID, s.userName)
}

// Pause signals observers that the caller stopped feeding frames. The
// session has no internal timer, so there is nothing to suspend and the
// state does not change.
func (s *Session) Pause() { s.events.Paused(true) }

// Resume signals observers that frame delivery resumed.
func (s *Session) Resume() { s.events.Paused(false) }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Count returns the number of accepted samples.
func (s *Session) Count() int { return len(s.embeddings) }

// Progress returns the fraction of required captures collected, in [0, 1].
func (s *Session) Progress() float64 {
	return float64(len(s.embeddings)) / float64(s.cfg.MaxCaptures)
}

// UserID returns the identity being enrolled.
func (s *Session) UserID() string { return s.userID }

// UserName returns the display name being enrolled.
func (s *Session) UserName() string { return s.userName }

// Err returns the error that moved the session to StateError, if any.
func (s *Session) Err() error { return s.err }

// finalize aggregates the accepted samples into an Identity and
// persists it. Reached from ProcessDetection (capture set full) and
// FinishEarly.
func (s *Session) finalize(ctx context.Context) error {
	s.setState(StateComputing)

	identity := &Identity{
		ID:            s.userID,
		Name:          s.userName,
		Embeddings:    s.embeddings,
		MeanEmbedding: MeanEmbedding(s.embeddings),
		CaptureCount:  len(s.embeddings),
		RegisteredAt:  jsontime.Milli(s.now()),
	}

	if s.store != nil {
		if err := s.store.SaveIdentity(ctx, identity); err != nil {
			return s.fail(fmt.Errorf("faceid: persist identity %q: %w", s.userID, err))
		}
		if err := s.store.ClearCheckpoint(ctx); err != nil {
			return s.fail(fmt.Errorf("faceid: clear checkpoint: %w", err))
		}
	}

	s.setState(StateSaved)
	s.events.Completed(identity)
	return nil
}

// fail records a fatal finalize error. The session stays in StateError
// until the caller explicitly cancels or restarts.
func (s *Session) fail(err error) error {
	s.err = err
	s.setState(StateError)
	s.events.Failed(err)
	return err
}

func (s *Session) reject(reason RejectReason) *CaptureResult {
	s.events.CaptureRejected(reason)
	return &CaptureResult{Reason: reason, Count: len(s.embeddings), Progress: s.Progress()}
}

// spread returns the minimum and maximum distance from the candidate to
// the accepted samples. Must only be called with at least one sample.
func (s *Session) spread(candidate Embedding) (minDist, maxDist float64, err error) {
	minDist = math.Inf(1)
	for _, e := range s.embeddings {
		d, derr := Distance(candidate, e)
		if derr != nil {
			return 0, 0, derr
		}
		minDist = math.Min(minDist, d)
		maxDist = math.Max(maxDist, d)
	}
	return minDist, maxDist, nil
}

func (s *Session) thumbnail(det *Detection) []byte {
	if s.thumbnailer == nil || len(det.Frame) == 0 {
		return nil
	}
	thumb, err := s.thumbnailer.Thumbnail(det.Frame, det.Box)
	if err != nil {
		slog.Debug("faceid: thumbnail failed", "user", s.userID, "error", err)
		return nil
	}
	return thumb
}

// checkpoint persists the in-progress capture state. Best effort: a
// failing write is logged and never blocks or invalidates the capture.
func (s *Session) checkpoint(ctx context.Context) {
	if s.store == nil {
		return
	}
	cp := &Checkpoint{
		UserID:     s.userID,
		UserName:   s.userName,
		Embeddings: s.embeddings,
		Thumbnails: s.thumbs,
		State:      s.state,
	}
	if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
		slog.Warn("faceid: checkpoint save failed", "user", s.userID, "error", err)
	}
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.events.StateChanged(prev, next)
}
