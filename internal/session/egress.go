package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/audio/g711"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
)

// clearTimeout bounds the best-effort Clear sent when playback is aborted.
const clearTimeout = time.Second

// Egress writes carrier-encoded audio to a [audio.Sink] at real-time cadence:
// one frame per frame interval, driven by a [time.Ticker].
type Egress struct {
	sink      audio.Sink
	frameSize int
	interval  time.Duration
}

// NewEgress returns an Egress that sends frameSize-byte mu-law frames at
// sampleRate. 160 bytes at 8 kHz gives one frame every 20 ms.
func NewEgress(sink audio.Sink, frameSize, sampleRate int) *Egress {
	return &Egress{
		sink:      sink,
		frameSize: frameSize,
		interval:  time.Duration(frameSize) * time.Second / time.Duration(sampleRate),
	}
}

// Encode converts synthesized audio into carrier mu-law at sampleRate.
func Encode(a tts.Audio, sampleRate int) ([]byte, error) {
	f := a.Format()
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if sampleRate == audio.Telephone.SampleRate {
		return audio.ToTelephone(a.PCM, f)
	}
	mono := audio.Downmix(a.PCM, f.Channels)
	pcm, err := audio.Resample(mono, f.SampleRate, sampleRate)
	if err != nil {
		return nil, err
	}
	return g711.EncodeMuLaw(pcm), nil
}

// Frames splits mu-law audio into frameSize chunks; the last chunk is padded
// with mu-law silence.
func (e *Egress) Frames(mulaw []byte) [][]byte {
	if len(mulaw) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(mulaw)+e.frameSize-1)/e.frameSize)
	for off := 0; off < len(mulaw); off += e.frameSize {
		end := min(off+e.frameSize, len(mulaw))
		f := make([]byte, e.frameSize)
		n := copy(f, mulaw[off:end])
		if n < e.frameSize {
			copy(f[n:], g711.Silence(e.frameSize-n))
		}
		frames = append(frames, f)
	}
	return frames
}

// Play sends mulaw to the sink paced at real time and finishes with a mark
// named mark (when non-empty). If ctx ends first, Play asks the carrier to
// drop buffered audio and returns an error wrapping [ErrEgressAborted].
func (e *Egress) Play(ctx context.Context, mulaw []byte, mark string) error {
	frames := e.Frames(mulaw)
	if len(frames) == 0 {
		return nil
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for i, f := range frames {
		if i > 0 {
			select {
			case <-ctx.Done():
				return e.abort(ctx, i, len(frames))
			case <-ticker.C:
			}
		}
		if err := e.sink.SendFrame(ctx, f); err != nil {
			if ctx.Err() != nil {
				return e.abort(ctx, i, len(frames))
			}
			return fmt.Errorf("session: egress: send frame %d/%d: %w", i+1, len(frames), err)
		}
	}

	if mark == "" {
		return nil
	}
	if err := e.sink.Mark(ctx, mark); err != nil {
		if ctx.Err() != nil {
			return e.abort(ctx, len(frames), len(frames))
		}
		return fmt.Errorf("session: egress: mark: %w", err)
	}
	return nil
}

func (e *Egress) abort(ctx context.Context, sent, total int) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()
	err := e.sink.Clear(cctx)
	return errors.Join(
		fmt.Errorf("%w after %d/%d frames: %w", ErrEgressAborted, sent, total, context.Cause(ctx)),
		ignoreClosed(err),
	)
}

// ignoreClosed drops the error of a Clear sent to a sink that is already gone.
func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrSessionNotFound) || errors.Is(err, errClosed) {
		return nil
	}
	return fmt.Errorf("session: egress: clear: %w", err)
}
