package session

// Phase is the state of a call session. Only the session's own goroutine
// changes it.
type Phase int32

const (
	// PhaseListening runs inbound frames through VAD and segmentation.
	PhaseListening Phase = iota

	// PhaseAwaitingResponse holds a dispatched segment; inbound frames are
	// buffered, not segmented.
	PhaseAwaitingResponse

	// PhaseSpeaking plays a reply; inbound frames are discarded.
	PhaseSpeaking

	// PhaseClosed is terminal.
	PhaseClosed
)

// String returns the phase name used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseListening:
		return "listening"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseSpeaking:
		return "speaking"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from p to next is legal.
//
//	Listening        → AwaitingResponse | Closed
//	AwaitingResponse → Speaking | Listening | Closed
//	Speaking         → Listening | Closed
//	Closed           → (none)
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseListening:
		return next == PhaseAwaitingResponse || next == PhaseClosed
	case PhaseAwaitingResponse:
		return next == PhaseSpeaking || next == PhaseListening || next == PhaseClosed
	case PhaseSpeaking:
		return next == PhaseListening || next == PhaseClosed
	default:
		return false
	}
}
