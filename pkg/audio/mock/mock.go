// Package mock provides an in-memory implementation of [audio.Sink] for use in
// unit tests.
//
// The mock is safe for concurrent use. It records every frame, mark and clear
// so that tests can assert on what would have been written to the carrier, and
// it exposes exported fields that the test can set to control return values.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	err := player.Play(ctx, sink, pcm)
//	if got := sink.FrameCount(); got != 50 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/phonebridge/pkg/audio"
)

// Sink is a mock implementation of [audio.Sink].
// Set the exported error fields before use; inspect the recorded calls after.
type Sink struct {
	mu sync.Mutex

	// SendFrameErr is returned by [Sink.SendFrame] when non-nil.
	SendFrameErr error

	// MarkErr is returned by [Sink.Mark] when non-nil.
	MarkErr error

	// ClearErr is returned by [Sink.Clear] when non-nil.
	ClearErr error

	// OnFrame, when set, is invoked after each recorded frame. It runs without
	// the internal lock held.
	OnFrame func(n int)

	frames [][]byte
	marks  []string
	clears int
}

var _ audio.Sink = (*Sink)(nil)

// SendFrame implements [audio.Sink]. The frame is copied before recording.
func (s *Sink) SendFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.SendFrameErr != nil {
		err := s.SendFrameErr
		s.mu.Unlock()
		return err
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	n := len(s.frames)
	cb := s.OnFrame
	s.mu.Unlock()

	if cb != nil {
		cb(n)
	}
	return nil
}

// Mark implements [audio.Sink].
func (s *Sink) Mark(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return s.MarkErr
	}
	s.marks = append(s.marks, name)
	return nil
}

// Clear implements [audio.Sink].
func (s *Sink) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return s.ClearErr
}

// Frames returns a copy of every frame recorded so far.
func (s *Sink) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// FrameCount returns the number of recorded frames.
func (s *Sink) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Marks returns the names of every recorded mark in order.
func (s *Sink) Marks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marks...)
}

// ClearCount returns how many times Clear was called.
func (s *Sink) ClearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// Reset discards all recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	s.marks = nil
	s.clears = 0
}
