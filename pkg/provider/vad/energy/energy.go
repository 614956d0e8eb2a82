// Package energy implements a [vad.Engine] that classifies frames by their
// root-mean-square amplitude.
//
// A frame is raw speech when its RMS is strictly above the configured
// threshold. Reported state only flips after the new raw state has persisted
// for the onset (silence → speech) or release (speech → silence) window, so a
// single loud click or a brief dropout does not toggle the decision. The
// delayed frames are reported on the transition event ([types.VADEvent.Onset]
// and [types.VADEvent.Release]) so downstream consumers can reclassify them.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/provider/vad"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// DefaultThresholdRMS is the silence threshold used when the config leaves it
// unset.
const DefaultThresholdRMS = 200

// ErrClosed is returned by ProcessFrame after the session was closed.
var ErrClosed = errors.New("energy: session closed")

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns an [Engine].
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SilenceThresholdRMS < 0 {
		return nil, fmt.Errorf("energy: silence threshold must be >= 0, got %v", cfg.SilenceThresholdRMS)
	}
	if cfg.FrameSizeMs > 0 && cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be > 0 when frame size is set, got %d", cfg.SampleRate)
	}
	if cfg.SilenceThresholdRMS == 0 {
		cfg.SilenceThresholdRMS = DefaultThresholdRMS
	}
	cfg.OnsetFrames = max(cfg.OnsetFrames, 1)
	cfg.ReleaseFrames = max(cfg.ReleaseFrames, 1)

	s := &Session{cfg: cfg}
	if cfg.FrameSizeMs > 0 {
		s.frameBytes = cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	}
	return s, nil
}

// Session is a single-call energy VAD. It is not safe for concurrent use.
type Session struct {
	cfg        vad.Config
	frameBytes int
	state      vad.State
	closed     bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	if s.closed {
		return types.VADEvent{}, ErrClosed
	}
	if len(frame) < 2 {
		return types.VADEvent{}, fmt.Errorf("energy: frame too short: %d bytes", len(frame))
	}
	if s.frameBytes > 0 && len(frame) != s.frameBytes {
		return types.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms := audio.RMS(frame)
	raw := rms > s.cfg.SilenceThresholdRMS

	ev := types.VADEvent{RMS: rms}
	if raw {
		ev.Probability = 1
	}

	switch {
	case !s.state.Speech && raw:
		s.state.Run++
		if s.state.Run >= s.cfg.OnsetFrames {
			ev.Type = types.VADSpeechStart
			ev.Onset = s.state.Run - 1
			s.state = vad.State{Speech: true}
		} else {
			ev.Type = types.VADSilence
		}
	case !s.state.Speech:
		s.state.Run = 0
		ev.Type = types.VADSilence
	case raw:
		s.state.Run = 0
		ev.Type = types.VADSpeechContinue
	default:
		s.state.Run++
		if s.state.Run >= s.cfg.ReleaseFrames {
			ev.Type = types.VADSpeechEnd
			ev.Release = s.state.Run - 1
			s.state = vad.State{}
		} else {
			ev.Type = types.VADSpeechContinue
		}
	}
	return ev, nil
}

// State returns the current reported state and run length.
func (s *Session) State() vad.State { return s.state }

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() { s.state = vad.State{} }

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.closed = true
	return nil
}
