package audio

import "time"

const (
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
)

// FrameSize returns samples per channel in one 20ms frame at rate.
func FrameSize(rate int) int {
	return rate * int(FrameDuration/time.Millisecond) / 1000
}

// OpusRate reports whether Opus can encode at rate without resampling.
func OpusRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// Clip is planar float32 sample data in [-1, 1].
type Clip struct {
	SampleRate int
	Channels   [][]float32
}

// NewClip allocates a silent clip.
func NewClip(rate, channels, frames int) *Clip {
	c := &Clip{SampleRate: rate, Channels: make([][]float32, channels)}
	for i := range c.Channels {
		c.Channels[i] = make([]float32, frames)
	}
	return c
}

// Frames is the clip length in samples per channel.
func (c *Clip) Frames() int {
	if c == nil || len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Duration is the clip length in time.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}
