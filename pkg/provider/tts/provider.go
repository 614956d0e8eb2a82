// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns one complete reply into audio. The result is raw 16-bit
// PCM in whatever rate and channel layout the backend produced; converting it
// to the carrier format is the egress stage's job, so providers never resample
// for the phone line themselves.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("tts: empty text")

// Audio is a synthesized utterance.
type Audio struct {
	// PCM is 16-bit signed little-endian interleaved audio.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Duration returns the playback length of the audio.
func (a Audio) Duration() time.Duration {
	return audio.PCMDuration(len(a.PCM), a.SampleRate, a.Channels)
}

// Format returns the audio's sample format.
func (a Audio) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. voice.Language selects the
	// spoken language; an empty voice.ID selects the backend's default voice.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (Audio, error)
}
