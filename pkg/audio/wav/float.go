package wav

import "math"

func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

func floatToInt16(f float32) int16 {
	switch {
	case f >= 1:
		return math.MaxInt16
	case f <= -1:
		return math.MinInt16
	default:
		return int16(f * 32767)
	}
}
