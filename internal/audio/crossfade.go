package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeOutGain is the gain at frame pos of a smoothstep fade-out lasting
// length frames: 1 at the start, 0 from length on.
func FadeOutGain(pos, length int64) float32 {
	if length <= 0 || pos >= length {
		return 0
	}
	return float32(1 - Smoothstep(float64(pos)/float64(length)))
}
