package session

import (
	"fmt"
	"math"

	"github.com/MrWong99/phonebridge/pkg/audio/g711"
)

// Cue is the short sound played to the caller when a turn fails.
type Cue string

const (
	// CueNone plays nothing; the session silently returns to listening.
	CueNone Cue = "none"

	// CueBeep plays a short 440 Hz tone.
	CueBeep Cue = "beep"
)

// ParseCue validates a configured cue name. Empty means [CueNone].
func ParseCue(s string) (Cue, error) {
	switch Cue(s) {
	case "", CueNone:
		return CueNone, nil
	case CueBeep:
		return CueBeep, nil
	default:
		return CueNone, fmt.Errorf("session: unknown fallback cue %q (want none or beep)", s)
	}
}

// MuLaw returns the cue as mu-law audio at sampleRate, or nil for [CueNone].
func (c Cue) MuLaw(sampleRate int) []byte {
	if c != CueBeep || sampleRate <= 0 {
		return nil
	}
	const (
		freq      = 440.0
		amplitude = 8000.0
		duration  = 0.25 // seconds
	)
	n := int(float64(sampleRate) * duration)
	out := make([]byte, n)
	for i := range out {
		s := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		out[i] = g711.LinearToMuLaw(int16(s))
	}
	return out
}
