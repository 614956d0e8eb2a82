// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine classifies each inbound telephone frame as speech or silence and
// surfaces the decision through a stateful, per-call session. The session owns
// its own run-length counters so that many calls can be processed in parallel
// without sharing state.
//
// ProcessFrame is synchronous and never blocks: it runs inside the call's
// processing goroutine, directly in front of the segmenter.
package vad

import "github.com/MrWong99/phonebridge/pkg/types"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Telephone audio is 8000.
	SampleRate int

	// FrameSizeMs is the duration of each frame passed to ProcessFrame. Zero
	// disables the frame size check.
	FrameSizeMs int

	// SilenceThresholdRMS is the energy at or below which a frame counts as
	// silence, in 16-bit PCM units. Frames strictly above it are speech.
	SilenceThresholdRMS float64

	// OnsetFrames is the number of consecutive speech frames required before
	// a speech start is reported. Values below 1 are treated as 1.
	OnsetFrames int

	// ReleaseFrames is the number of consecutive silence frames required
	// before a speech end is reported. Values below 1 are treated as 1.
	ReleaseFrames int
}

// State is the reported voice activity of a session together with how many
// consecutive frames the raw classification has disagreed with it.
type State struct {
	// Speech is true while the session reports an active speech region.
	Speech bool

	// Run counts consecutive frames whose raw classification differs from
	// Speech. A transition is reported once Run reaches the hysteresis window.
	Run int
}

// SessionHandle represents an active VAD session for a single call.
//
// A SessionHandle is not safe for concurrent use; the call's processing
// goroutine is its only user.
type SessionHandle interface {
	// ProcessFrame classifies one frame of 16-bit little-endian PCM and returns
	// the detection result. Returns an error if the frame has the wrong size.
	ProcessFrame(frame []byte) (types.VADEvent, error)

	// Reset returns the session to silence and clears all run-length counters.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use.
type Engine interface {
	// NewSession creates a new VAD session. Returns an error if cfg is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
