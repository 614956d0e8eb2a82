// Package mock provides a scriptable VAD for session tests.
//
// A [Session] replays a fixed list of events, one per frame, so a test can
// drive the segmenter without crafting audio whose energy crosses a
// threshold:
//
//	sess := mock.Scripted(mock.Utterance(0, 60, 40)...)
//	call, _ := session.New(cfg, eng, sink, session.WithVAD(&mock.Engine{Session: sess}))
package mock

import (
	"sync"

	"github.com/MrWong99/phonebridge/pkg/provider/vad"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// Utterance builds a per-frame event script: lead frames of silence, a
// speech run of speech frames (start, continue..., end on the last one),
// then trail frames of silence.
func Utterance(lead, speech, trail int) []types.VADEvent {
	out := make([]types.VADEvent, 0, lead+speech+trail)
	for range lead {
		out = append(out, types.VADEvent{Type: types.VADSilence})
	}
	for i := range speech {
		ev := types.VADEvent{Type: types.VADSpeechContinue, Probability: 1}
		switch i {
		case 0:
			ev.Type = types.VADSpeechStart
		case speech - 1:
			ev.Type = types.VADSpeechEnd
		}
		out = append(out, ev)
	}
	for range trail {
		out = append(out, types.VADEvent{Type: types.VADSilence})
	}
	return out
}

// Engine hands out a fixed [Session] and remembers each Config it was given.
type Engine struct {
	// Session is returned by NewSession. Nil means a fresh silent session
	// per call.
	Session *Session

	// Err, when set, fails every NewSession.
	Err error

	mu      sync.Mutex
	configs []vad.Config
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return Scripted(), nil
}

// Configs returns every Config passed to NewSession, in order.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session replays its script one event per frame. Once the script runs
// out every frame reports Idle.
type Session struct {
	// Idle is reported after the script is exhausted.
	Idle types.VADEvent

	// Err, when set, fails every ProcessFrame.
	Err error

	mu     sync.Mutex
	script []types.VADEvent
	frames int
	resets int
	closes int
}

// Scripted returns a Session that replays events and then reports silence.
func Scripted(events ...types.VADEvent) *Session {
	return &Session{
		Idle:   types.VADEvent{Type: types.VADSilence},
		script: events,
	}
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(_ []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.Err != nil {
		return types.VADEvent{}, s.Err
	}
	if len(s.script) == 0 {
		return s.Idle, nil
	}
	ev := s.script[0]
	s.script = s.script[1:]
	return ev, nil
}

// Reset implements [vad.SessionHandle]. The remaining script is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// FrameCount reports how many frames were processed, failed ones included.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// ResetCount reports how many times Reset was called.
func (s *Session) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// CloseCount reports how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
