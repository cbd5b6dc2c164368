package faceid

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the
	// session's current state (e.g. Start while collecting).
	ErrInvalidState = errors.New("faceid: invalid session state")

	// ErrInsufficientSamples is returned by FinishEarly when fewer than
	// MinSamples captures have been accepted.
	ErrInsufficientSamples = errors.New("faceid: insufficient samples")

	// ErrLengthMismatch is returned when two embeddings of different
	// lengths are compared.
	ErrLengthMismatch = errors.New("faceid: embedding length mismatch")
)

// RejectReason identifies the admission gate that rejected a detection.
// Rejection is a per-frame result, not an error: the caller retries with
// the next frame.
type RejectReason string

const (
	// RejectTooFast: not enough time has passed since the last accepted
	// capture.
	RejectTooFast RejectReason = "too_fast"

	// RejectNoDetection: no detection was supplied for the frame.
	RejectNoDetection RejectReason = "no_detection"

	// RejectLowConfidence: the detector score is below MinConfidence.
	RejectLowConfidence RejectReason = "low_confidence"

	// RejectNoDescriptor: the detection carries no embedding.
	RejectNoDescriptor RejectReason = "no_descriptor"

	// RejectTooSimilar: the candidate is a near-duplicate of an already
	// accepted sample.
	RejectTooSimilar RejectReason = "too_similar"

	// RejectInconsistent: the candidate is too far from the accepted
	// samples, suggesting a different person entered the frame.
	RejectInconsistent RejectReason = "inconsistent"
)

func (r RejectReason) String() string {
	return string(r)
}
