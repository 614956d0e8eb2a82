package session

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio"
)

func stamped(i int) audio.AudioFrame {
	return audio.AudioFrame{Data: []byte{byte(i), 0}, SampleRate: 8000, Channels: 1, Timestamp: time.Duration(i) * 20 * time.Millisecond}
}

func TestFrameQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(4)
	for i := range 3 {
		if err := q.Push(stamped(i)); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	for i := range 3 {
		f, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop(%d): empty", i)
		}
		if f.Data[0] != byte(i) {
			t.Errorf("TryPop(%d) = frame %d", i, f.Data[0])
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue reported a frame")
	}
}

func TestFrameQueue_DropsOldest(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(3)
	var dropped int
	for i := range 5 {
		if err := q.Push(stamped(i)); errors.Is(err, ErrFrameDropped) {
			dropped++
		} else if err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if dropped != 2 {
		t.Errorf("ErrFrameDropped returned %d times, want 2", dropped)
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	for _, want := range []byte{2, 3, 4} {
		f, ok := q.TryPop()
		if !ok || f.Data[0] != want {
			t.Fatalf("TryPop = %v/%v, want frame %d", f.Data, ok, want)
		}
	}
}

func TestFrameQueue_ReadySignal(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(2)
	select {
	case <-q.Ready():
		t.Fatal("Ready signalled before any Push")
	default:
	}
	_ = q.Push(stamped(0))
	_ = q.Push(stamped(1))
	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready not signalled after Push")
	}
}

func TestFrameQueue_Close(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(2)
	_ = q.Push(stamped(0))
	q.Close()
	if q.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", q.Len())
	}
	if err := q.Push(stamped(1)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Push after Close = %v, want ErrSessionNotFound", err)
	}
}

func TestNewFrameQueue_DefaultCapacity(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(0)
	for i := range DefaultQueueFrames {
		if err := q.Push(stamped(i)); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if err := q.Push(stamped(0)); !errors.Is(err, ErrFrameDropped) {
		t.Errorf("Push beyond default capacity = %v, want ErrFrameDropped", err)
	}
}
