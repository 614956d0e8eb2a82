package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		samples  []int16
		channels int
		want     []int16
	}{
		{name: "mono passthrough", samples: []int16{1, 2, 3}, channels: 1, want: []int16{1, 2, 3}},
		{name: "stereo", samples: []int16{10, 20, 30, 50}, channels: 2, want: []int16{15, 40}},
		{name: "three channels", samples: []int16{3, 6, 9}, channels: 3, want: []int16{6}},
		{name: "extremes do not overflow", samples: []int16{32767, 32767}, channels: 2, want: []int16{32767}},
		{name: "partial frame dropped", samples: []int16{10, 20, 30}, channels: 2, want: []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.Downmix(samplesToBytes(tt.samples), tt.channels))
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(samplesToBytes([]int16{0, 0, 0, 0})); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	if got := audio.RMS(samplesToBytes([]int16{300, -300, 300, -300})); got != 300 {
		t.Errorf("RMS(square 300) = %v, want 300", got)
	}
}

func TestResample_SameRateIsPassthrough(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3, 4})
	out, err := audio.Resample(in, 8000, 8000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != len(in) {
		t.Errorf("len = %d, want %d", len(out), len(in))
	}
}

func TestResample_KeepsFilterTail(t *testing.T) {
	t.Parallel()
	for _, src := range []int{16000, 22050, 24000} {
		// One second of a 440 Hz tone, loud up to the last sample.
		in := make([]int16, src)
		for i := range in {
			in[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(src)))
		}
		out, err := audio.Resample(samplesToBytes(in), src, 8000)
		if err != nil {
			t.Fatalf("Resample(%d): %v", src, err)
		}
		got := len(out) / 2
		if got < 7920 || got > 8000 {
			t.Errorf("Resample(%d -> 8000) = %d samples, want about 8000", src, got)
		}
		// The last 10 ms carry the tone, not filter silence.
		if rms := audio.RMS(out[len(out)-160:]); rms < 1000 {
			t.Errorf("Resample(%d) tail RMS = %v, want the tone", src, rms)
		}
	}
}

func TestResample_InvalidRate(t *testing.T) {
	if _, err := audio.Resample([]byte{0, 0}, 0, 8000); err == nil {
		t.Error("expected error for zero source rate")
	}
}

func TestToTelephone_CarrierFormat(t *testing.T) {
	// 160 mono samples at 8 kHz map to exactly 160 mu-law bytes.
	pcm := make([]byte, 320)
	out, err := audio.ToTelephone(pcm, audio.Telephone)
	if err != nil {
		t.Fatalf("ToTelephone: %v", err)
	}
	if len(out) != 160 {
		t.Fatalf("len = %d, want 160", len(out))
	}
	for i, b := range out {
		if b != 0xFF {
			t.Fatalf("byte %d = %#x, want mu-law silence 0xFF", i, b)
		}
	}
}

func TestFromTelephone(t *testing.T) {
	frame := audio.FromTelephone([]byte{0xFF, 0xFF, 0x7F}, 8000)
	if frame.SampleRate != 8000 || frame.Channels != 1 {
		t.Errorf("format = %dHz/%dch, want 8000Hz/1ch", frame.SampleRate, frame.Channels)
	}
	if len(frame.Data) != 6 {
		t.Fatalf("len(Data) = %d, want 6", len(frame.Data))
	}
	if got := frame.Duration(); got != 375*time.Microsecond {
		t.Errorf("Duration = %v, want 375µs", got)
	}
}

func TestFormatString(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Telephone, "8000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 6}, "16000Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestPCMDuration(t *testing.T) {
	if got := audio.PCMDuration(16000, 8000, 1); got != time.Second {
		t.Errorf("PCMDuration = %v, want 1s", got)
	}
	if got := audio.PCMDuration(100, 0, 1); got != 0 {
		t.Errorf("PCMDuration with zero rate = %v, want 0", got)
	}
}
