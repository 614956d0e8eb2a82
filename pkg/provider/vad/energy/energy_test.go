package energy_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/phonebridge/pkg/provider/vad"
	"github.com/MrWong99/phonebridge/pkg/provider/vad/energy"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// squareFrame returns a 20 ms 8 kHz frame whose RMS equals amp.
func squareFrame(amp int16) []byte {
	buf := make([]byte, 320)
	for i := range 160 {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.FrameSizeMs == 0 {
		cfg.FrameSizeMs = 20
	}
	s, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSubThresholdNeverSpeech(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SilenceThresholdRMS: 200})
	for _, amp := range []int16{0, 50, 199, 200} {
		for range 100 {
			ev, err := s.ProcessFrame(squareFrame(amp))
			if err != nil {
				t.Fatalf("ProcessFrame: %v", err)
			}
			if ev.IsSpeech() {
				t.Fatalf("amp %d reported %s", amp, ev.Type)
			}
		}
	}
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
		amps []int16
		want []types.VADEventType
	}{
		{
			name: "no hysteresis",
			cfg:  vad.Config{SilenceThresholdRMS: 200},
			amps: []int16{50, 800, 800, 50, 50},
			want: []types.VADEventType{
				types.VADSilence, types.VADSpeechStart, types.VADSpeechContinue,
				types.VADSpeechEnd, types.VADSilence,
			},
		},
		{
			name: "onset window suppresses a single spike",
			cfg:  vad.Config{SilenceThresholdRMS: 200, OnsetFrames: 3},
			amps: []int16{800, 50, 800, 800, 800, 800},
			want: []types.VADEventType{
				types.VADSilence, types.VADSilence, types.VADSilence,
				types.VADSilence, types.VADSpeechStart, types.VADSpeechContinue,
			},
		},
		{
			name: "release window bridges a dropout",
			cfg:  vad.Config{SilenceThresholdRMS: 200, ReleaseFrames: 2},
			amps: []int16{800, 50, 800, 50, 50, 50},
			want: []types.VADEventType{
				types.VADSpeechStart, types.VADSpeechContinue, types.VADSpeechContinue,
				types.VADSpeechContinue, types.VADSpeechEnd, types.VADSilence,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSession(t, tt.cfg)
			for i, amp := range tt.amps {
				ev, err := s.ProcessFrame(squareFrame(amp))
				if err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				if ev.Type != tt.want[i] {
					t.Errorf("frame %d (amp %d): got %s, want %s", i, amp, ev.Type, tt.want[i])
				}
			}
		})
	}
}

func TestTransitionsReportDelayedFrames(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SilenceThresholdRMS: 200, OnsetFrames: 3, ReleaseFrames: 3})
	amps := []int16{50, 800, 800, 800, 800, 50, 50, 50}
	var events []types.VADEvent
	for i, amp := range amps {
		ev, err := s.ProcessFrame(squareFrame(amp))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		events = append(events, ev)
	}

	if start := events[3]; start.Type != types.VADSpeechStart || start.Onset != 2 {
		t.Errorf("frame 3 = %s onset %d, want speech_start onset 2", start.Type, start.Onset)
	}
	if end := events[7]; end.Type != types.VADSpeechEnd || end.Release != 2 {
		t.Errorf("frame 7 = %s release %d, want speech_end release 2", end.Type, end.Release)
	}
	for i, ev := range events {
		if i != 3 && ev.Onset != 0 {
			t.Errorf("frame %d onset = %d, want 0", i, ev.Onset)
		}
		if i != 7 && ev.Release != 0 {
			t.Errorf("frame %d release = %d, want 0", i, ev.Release)
		}
	}
}

func TestEventCarriesRMS(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SilenceThresholdRMS: 200})
	ev, err := s.ProcessFrame(squareFrame(800))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.RMS != 800 || ev.Probability != 1 {
		t.Errorf("event = %+v, want RMS 800 probability 1", ev)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SilenceThresholdRMS: 200})
	if ev, _ := s.ProcessFrame(squareFrame(800)); ev.Type != types.VADSpeechStart {
		t.Fatalf("got %s, want speech_start", ev.Type)
	}
	s.Reset()
	if st := s.(*energy.Session).State(); st.Speech || st.Run != 0 {
		t.Errorf("state after Reset = %+v, want zero", st)
	}
	if ev, _ := s.ProcessFrame(squareFrame(800)); ev.Type != types.VADSpeechStart {
		t.Errorf("got %s after Reset, want speech_start", ev.Type)
	}
}

func TestFrameSizeMismatch(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{})
	if _, err := s.ProcessFrame(make([]byte, 100)); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestClosed(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(squareFrame(0)); !errors.Is(err, energy.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := energy.New().NewSession(vad.Config{SilenceThresholdRMS: -1}); err == nil {
		t.Error("expected error for negative threshold")
	}
	if _, err := energy.New().NewSession(vad.Config{FrameSizeMs: 20}); err == nil {
		t.Error("expected error for missing sample rate")
	}
}
