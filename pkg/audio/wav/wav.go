// Package wav reads and writes RIFF/WAVE containers exchanged with speech
// providers: segments are uploaded for transcription as 16-bit PCM WAV files
// and synthesized replies come back as WAV in whatever format the vendor chose.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/phonebridge/pkg/audio/g711"
)

const (
	formatPCM   = 1
	formatFloat = 3
	formatMuLaw = 7
	formatExt   = 0xFFFE
)

// ErrInvalid is returned when a buffer is not a well-formed WAV file.
var ErrInvalid = errors.New("wav: invalid container")

// Info holds the format metadata extracted from a RIFF/WAVE header.
type Info struct {
	AudioFormat   int // 1 = PCM, 3 = IEEE float, 7 = mu-law
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataOffset    int // byte offset of the first sample
	DataSize      int
}

// Encode wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container suitable for a multipart form upload.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// Parse walks the RIFF chunks in b and returns the format of the "fmt " chunk
// and the location of the "data" chunk. The fmt chunk size may vary, so the
// data offset is never assumed to be 44.
func Parse(b []byte) (Info, error) {
	if len(b) < 12 {
		return Info{}, fmt.Errorf("%w: %d bytes is too short", ErrInvalid, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Info{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalid)
	}

	var info Info
	foundFmt := false

	offset := 12
	for offset+8 <= len(b) {
		id := string(b[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size < 16 || offset+8+16 > len(b) {
				return Info{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalid)
			}
			f := b[offset+8:]
			info.AudioFormat = int(binary.LittleEndian.Uint16(f[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			if info.AudioFormat == formatExt && size >= 26 && offset+8+26 <= len(b) {
				// WAVE_FORMAT_EXTENSIBLE: the real format is the first two
				// bytes of the sub-format GUID.
				info.AudioFormat = int(binary.LittleEndian.Uint16(f[24:26]))
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return Info{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalid)
			}
			info.DataOffset = offset + 8
			info.DataSize = min(size, len(b)-info.DataOffset)
			return info, nil
		}

		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return Info{}, fmt.Errorf("%w: missing data chunk", ErrInvalid)
}

// Decode parses b and converts its samples to 16-bit signed little-endian PCM,
// keeping the original sample rate and channel layout. Supported encodings are
// 8/16/24/32-bit integer PCM, 32-bit float and mu-law.
func Decode(b []byte) (pcm []byte, info Info, err error) {
	info, err = Parse(b)
	if err != nil {
		return nil, Info{}, err
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return nil, Info{}, fmt.Errorf("%w: channels=%d rate=%d", ErrInvalid, info.Channels, info.SampleRate)
	}
	data := b[info.DataOffset : info.DataOffset+info.DataSize]

	switch {
	case info.AudioFormat == formatPCM && info.BitsPerSample == 16:
		pcm = data[:len(data)/2*2]
	case info.AudioFormat == formatPCM && info.BitsPerSample == 8:
		pcm = make([]byte, len(data)*2)
		for i, u := range data {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(int(u)-128)<<8))
		}
	case info.AudioFormat == formatPCM && info.BitsPerSample == 24:
		n := len(data) / 3
		pcm = make([]byte, n*2)
		for i := range n {
			// Keep the two most significant bytes.
			pcm[i*2] = data[i*3+1]
			pcm[i*2+1] = data[i*3+2]
		}
	case info.AudioFormat == formatPCM && info.BitsPerSample == 32:
		n := len(data) / 4
		pcm = make([]byte, n*2)
		for i := range n {
			pcm[i*2] = data[i*4+2]
			pcm[i*2+1] = data[i*4+3]
		}
	case info.AudioFormat == formatFloat && info.BitsPerSample == 32:
		n := len(data) / 4
		pcm = make([]byte, n*2)
		for i := range n {
			f := float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(floatToInt16(f)))
		}
	case info.AudioFormat == formatMuLaw && info.BitsPerSample == 8:
		pcm = g711.DecodeMuLaw(data)
	default:
		return nil, Info{}, fmt.Errorf("wav: unsupported encoding format=%d bits=%d", info.AudioFormat, info.BitsPerSample)
	}

	info.BitsPerSample = 16
	info.AudioFormat = formatPCM
	return pcm, info, nil
}
