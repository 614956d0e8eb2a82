// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider receives one complete speech segment at a time, as 16-bit
// PCM, and returns its transcript together with the language the backend
// detected. Segments are short (at most the segmenter's maximum length), so a
// simple request/response call is sufficient; no streaming session is kept.
//
// Implementations must be safe for concurrent use: every active call may issue
// transcription requests at the same time.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/phonebridge/pkg/types"
)

// ErrEmptyAudio is returned when a request carries no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is a single transcription request.
type Request struct {
	// Audio is 16-bit signed little-endian mono PCM.
	Audio []byte

	// SampleRate is the PCM sample rate in Hz. Telephone segments are 8000.
	SampleRate int

	// Language is a BCP-47 hint (e.g. "hi-IN"). Empty lets the backend detect
	// the language itself.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognizes the speech in req. A successful call may still
	// return an empty Text when the backend heard nothing intelligible.
	Transcribe(ctx context.Context, req Request) (types.Transcript, error)
}
