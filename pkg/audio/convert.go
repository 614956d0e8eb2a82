package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/MrWong99/phonebridge/pkg/audio/g711"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Telephone is the carrier format: 8 kHz mono.
var Telephone = Format{SampleRate: 8000, Channels: 1}

// String returns a human-readable form, e.g. "8000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0–32 767).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	return Downmix(pcm, 2)
}

// Downmix averages interleaved channels into a single mono channel. If
// channels is 1 (or less) the input is returned unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// Resample converts 16-bit mono PCM from srcRate to dstRate. If the rates are
// equal the input is returned unchanged. The output holds at most
// ceil(n*dstRate/srcRate) samples for n input samples.
func Resample(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	n := len(pcm) / 2
	in := make([]float64, n)
	for i := range n {
		in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}

	outSamples, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: %w", srcRate, dstRate, err)
	}
	// The filter holds back its latency worth of samples until flushed.
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: flush: %w", srcRate, dstRate, err)
	}
	outSamples = append(outSamples, tail...)
	if want := (n*dstRate + srcRate - 1) / srcRate; len(outSamples) > want {
		outSamples = outSamples[:want]
	}

	out := make([]byte, len(outSamples)*2)
	for i, s := range outSamples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(int32(math.Round(s*32767.0)))))
	}
	return out, nil
}

// ToTelephone converts 16-bit PCM in the given format into carrier-ready
// mu-law bytes at 8 kHz mono: downmix, resample, then encode.
func ToTelephone(pcm []byte, from Format) ([]byte, error) {
	mono := Downmix(pcm, from.Channels)
	resampled, err := Resample(mono, from.SampleRate, Telephone.SampleRate)
	if err != nil {
		return nil, err
	}
	return g711.EncodeMuLaw(resampled), nil
}

// FromTelephone decodes a mu-law payload into a mono PCM [AudioFrame] at the
// carrier rate.
func FromTelephone(payload []byte, sampleRate int) AudioFrame {
	return AudioFrame{
		Data:       g711.DecodeMuLaw(payload),
		SampleRate: sampleRate,
		Channels:   1,
	}
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
