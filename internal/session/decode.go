package session

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio"
)

// DecodeMedia turns one base64 mu-law media payload into PCM frames of
// frameSize mu-law bytes each. ts is the payload's offset from stream start;
// following frames are stamped at ts plus their offset.
//
// The payload must be valid base64, non-empty and a whole multiple of
// frameSize; otherwise a [*DecodeError] is returned and nothing is produced.
func DecodeMedia(payload string, frameSize, sampleRate int, ts time.Duration) ([]audio.AudioFrame, error) {
	if frameSize <= 0 || sampleRate <= 0 {
		return nil, &DecodeError{Detail: fmt.Sprintf("invalid framing %d bytes @ %d Hz", frameSize, sampleRate)}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Detail: "invalid base64", Err: err}
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Detail: "empty payload"}
	}
	if len(raw)%frameSize != 0 {
		return nil, &DecodeError{Detail: fmt.Sprintf("payload of %d bytes is not a multiple of %d", len(raw), frameSize)}
	}

	frameDur := time.Duration(frameSize) * time.Second / time.Duration(sampleRate)
	frames := make([]audio.AudioFrame, 0, len(raw)/frameSize)
	for off := 0; off < len(raw); off += frameSize {
		f := audio.FromTelephone(raw[off:off+frameSize], sampleRate)
		f.Timestamp = ts + time.Duration(len(frames))*frameDur
		frames = append(frames, f)
	}
	return frames, nil
}
