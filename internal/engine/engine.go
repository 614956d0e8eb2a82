// Package engine defines the Engine interface that turns one finalized
// speech segment of a call into a spoken reply.
//
// An Engine receives the caller's PCM audio together with the call's sticky
// language hint and recent conversation history, and runs recognition,
// response generation and synthesis. The returned [Response] carries the
// transcript, the reply text and the synthesized PCM; egress framing is the
// caller's concern.
//
// Every step honors ctx cancellation. Failures are reported wrapped in one of
// the Err*Unavailable sentinels so callers can tell which step failed with
// [errors.Is].
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	"github.com/MrWong99/phonebridge/pkg/types"
)

var (
	// ErrTranscriptionUnavailable reports that recognition failed, timed out
	// or produced no text.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")

	// ErrGenerationUnavailable reports that reply generation (including
	// translation of the reply) failed or timed out.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrSynthesisUnavailable reports that speech synthesis failed, timed out
	// or returned no audio.
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")
)

// Request is the input to one [Engine.Process] call.
type Request struct {
	// CallID identifies the call, for logging and history.
	CallID string

	// Seq is the session's sequence number at dispatch. It is echoed in the
	// response so the session can discard stale results.
	Seq uint64

	// Audio is the segment's 16-bit little-endian PCM.
	Audio []byte

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Language is the sticky language of the call so far (BCP-47). Empty on
	// the first turn.
	Language string

	// History is the recent conversation, oldest first, excluding the turn
	// being processed.
	History []types.Message
}

// Timings reports how long each step of one turn took. Steps that were
// skipped stay zero.
type Timings struct {
	Transcription time.Duration
	Generation    time.Duration
	Translation   time.Duration
	Synthesis     time.Duration
}

// Response is the result of a successful [Engine.Process] call.
type Response struct {
	// Seq echoes [Request.Seq].
	Seq uint64

	// Transcript is what the caller said (as returned by recognition).
	Transcript types.Transcript

	// Language is the caller's language detected for this turn; the reply is
	// spoken in it.
	Language string

	// Reply is the text that was synthesized, in Language.
	Reply string

	// GeneratedReply is the reply as produced by the LLM, before translation.
	GeneratedReply string

	// Audio is the synthesized speech.
	Audio tts.Audio

	// Timings records per-step latency.
	Timings Timings
}

// Engine runs recognition, generation and synthesis for one segment.
// Implementations must be safe for concurrent use; one Engine is shared by
// every call.
type Engine interface {
	Process(ctx context.Context, req Request) (*Response, error)
}

// Timeouts bounds each step of [Engine.Process].
type Timeouts struct {
	Transcription time.Duration
	Generation    time.Duration
	Translation   time.Duration
	Synthesis     time.Duration
}

// DefaultTimeouts returns the per-step limits used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcription: 30 * time.Second,
		Generation:    15 * time.Second,
		Translation:   10 * time.Second,
		Synthesis:     30 * time.Second,
	}
}

// WithDefaults fills zero fields from [DefaultTimeouts].
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Transcription <= 0 {
		t.Transcription = d.Transcription
	}
	if t.Generation <= 0 {
		t.Generation = d.Generation
	}
	if t.Translation <= 0 {
		t.Translation = d.Translation
	}
	if t.Synthesis <= 0 {
		t.Synthesis = d.Synthesis
	}
	return t
}
