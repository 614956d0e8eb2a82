package session

import (
	"errors"

	"github.com/MrWong99/phonebridge/internal/engine"
)

// Sentinel errors of the call pipeline. Match with [errors.Is].
var (
	// ErrDecode reports a media payload that could not be turned into frames.
	// Only the offending payload is dropped.
	ErrDecode = errors.New("session: undecodable media payload")

	// ErrFrameDropped reports that the ingress queue was full and its oldest
	// frame was evicted to make room.
	ErrFrameDropped = errors.New("session: frame dropped")

	// ErrTranscriptionUnavailable, ErrGenerationUnavailable and
	// ErrSynthesisUnavailable classify orchestrator failures.
	ErrTranscriptionUnavailable = engine.ErrTranscriptionUnavailable
	ErrGenerationUnavailable    = engine.ErrGenerationUnavailable
	ErrSynthesisUnavailable     = engine.ErrSynthesisUnavailable

	// ErrEgressAborted reports playback cut short by session close.
	ErrEgressAborted = errors.New("session: egress aborted")

	// ErrSessionNotFound reports input for a call that does not exist or has
	// already closed.
	ErrSessionNotFound = errors.New("session: not found")
)

// DecodeError describes why a media payload was rejected. It matches
// [ErrDecode] with [errors.Is].
type DecodeError struct {
	// Detail is a short human-readable reason.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "session: decode: " + e.Detail + ": " + e.Err.Error()
	}
	return "session: decode: " + e.Detail
}

// Is reports whether target is [ErrDecode].
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }
