package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio/g711"
	audiomock "github.com/MrWong99/phonebridge/pkg/audio/mock"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
)

func TestEgress_Frames(t *testing.T) {
	t.Parallel()

	e := NewEgress(&audiomock.Sink{}, 160, 8000)
	in := bytes.Repeat([]byte{0x11}, 170)
	frames := e.Frames(in)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if len(f) != 160 {
			t.Errorf("frame %d: %d bytes, want 160", i, len(f))
		}
	}
	if frames[1][9] != 0x11 {
		t.Errorf("tail data lost")
	}
	if !bytes.Equal(frames[1][10:], g711.Silence(150)) {
		t.Errorf("last frame not padded with silence")
	}
	if got := e.Frames(nil); got != nil {
		t.Errorf("Frames(nil) = %d frames, want none", len(got))
	}
}

func TestEgress_PlayPacesAndMarks(t *testing.T) {
	t.Parallel()

	sink := &audiomock.Sink{}
	e := NewEgress(sink, 160, 8000)

	start := time.Now()
	if err := e.Play(context.Background(), make([]byte, 160*5), "reply-1"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	elapsed := time.Since(start)

	if got := sink.FrameCount(); got != 5 {
		t.Errorf("frames = %d, want 5", got)
	}
	if marks := sink.Marks(); len(marks) != 1 || marks[0] != "reply-1" {
		t.Errorf("marks = %v, want [reply-1]", marks)
	}
	// First frame goes out immediately, the other four one tick apart.
	if elapsed < 70*time.Millisecond {
		t.Errorf("Play took %v, want ≥ ~80ms of pacing", elapsed)
	}
	if sink.ClearCount() != 0 {
		t.Errorf("unexpected Clear")
	}
}

func TestEgress_PlayWithoutMark(t *testing.T) {
	t.Parallel()

	sink := &audiomock.Sink{}
	if err := NewEgress(sink, 160, 8000).Play(context.Background(), make([]byte, 160), ""); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(sink.Marks()) != 0 {
		t.Errorf("marks = %v, want none", sink.Marks())
	}
}

func TestEgress_PlayAbortClears(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &audiomock.Sink{OnFrame: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	err := NewEgress(sink, 160, 8000).Play(ctx, make([]byte, 160*50), "reply-1")
	if !errors.Is(err, ErrEgressAborted) {
		t.Fatalf("err = %v, want ErrEgressAborted", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want cause context.Canceled", err)
	}
	if got := sink.FrameCount(); got != 2 {
		t.Errorf("frames = %d, want 2", got)
	}
	if sink.ClearCount() != 1 {
		t.Errorf("Clear called %d times, want 1", sink.ClearCount())
	}
	if len(sink.Marks()) != 0 {
		t.Errorf("mark sent after abort")
	}
}

func TestEgress_SendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("socket gone")
	sink := &audiomock.Sink{SendFrameErr: boom}
	err := NewEgress(sink, 160, 8000).Play(context.Background(), make([]byte, 320), "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if errors.Is(err, ErrEgressAborted) {
		t.Errorf("send failure reported as abort")
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	t.Run("telephone rate", func(t *testing.T) {
		out, err := Encode(tts.Audio{PCM: make([]byte, 320), SampleRate: 8000, Channels: 1}, 8000)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if len(out) != 160 {
			t.Errorf("len = %d, want 160", len(out))
		}
	})
	t.Run("resampled from 22050 Hz", func(t *testing.T) {
		out, err := Encode(tts.Audio{PCM: make([]byte, 22050*2), SampleRate: 22050, Channels: 1}, 8000)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if len(out) < 7900 || len(out) > 8100 {
			t.Errorf("len = %d, want about 8000", len(out))
		}
	})
}
