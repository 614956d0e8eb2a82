// Package g711 implements the ITU-T G.711 mu-law companding used by telephone
// carriers for 8 kHz narrow-band audio.
//
// Decoding goes through a 256-entry lookup table built at init time. Encoding
// uses the standard bias/clip segment search.
package g711

import "encoding/binary"

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := range 256 {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// MuLawToLinear expands one mu-law byte into a 16-bit linear sample.
func MuLawToLinear(b byte) int16 {
	return muLawDecodeTable[b]
}

// LinearToMuLaw compresses one 16-bit linear sample into a mu-law byte.
func LinearToMuLaw(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exp := 7
	for mask := int32(0x4000); v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mantissa := byte(v>>(exp+3)) & 0x0F
	return ^(sign | byte(exp)<<4 | mantissa)
}

// DecodeMuLaw converts mu-law bytes into 16-bit signed little-endian PCM.
// The output is twice the length of the input.
func DecodeMuLaw(ulaw []byte) []byte {
	if len(ulaw) == 0 {
		return nil
	}
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(muLawDecodeTable[b]))
	}
	return out
}

// EncodeMuLaw converts 16-bit signed little-endian PCM into mu-law bytes.
// A trailing odd byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	for i := range n {
		out[i] = LinearToMuLaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// Silence returns n bytes of mu-law encoded digital silence.
func Silence(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}

func decodeMuLawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	magnitude := ((int16(mantissa) << 3) + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}
