package faceid

// Events receives enrollment session notifications. Callbacks run
// synchronously on the goroutine driving the session, in call order;
// implementations must not call back into the session.
//
// Embed NopEvents to implement a subset.
type Events interface {
	// StateChanged fires on every state transition.
	StateChanged(from, to State)

	// CaptureAccepted fires after a sample is admitted. progress is in
	// [0, 1]; thumbnail is nil when none was produced.
	CaptureAccepted(count int, progress float64, thumbnail []byte)

	// CaptureRejected fires when an admission gate rejects a frame.
	CaptureRejected(reason RejectReason)

	// Completed fires once the identity template has been finalized
	// (and persisted, when a store is configured).
	Completed(identity *Identity)

	// Failed fires when finalize persistence fails and the session
	// enters StateError.
	Failed(err error)

	// Paused fires on Pause (true) and Resume (false). Informational
	// only; the session state does not change.
	Paused(paused bool)
}

// NopEvents is an Events implementation that ignores everything.
type NopEvents struct{}

func (NopEvents) StateChanged(State, State)            {}
func (NopEvents) CaptureAccepted(int, float64, []byte) {}
func (NopEvents) CaptureRejected(RejectReason)         {}
func (NopEvents) Completed(*Identity)                  {}
func (NopEvents) Failed(error)                         {}
func (NopEvents) Paused(bool)                          {}

var _ Events = NopEvents{}
