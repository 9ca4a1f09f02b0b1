package audio

import (
	"fmt"
	"io"
	"math"

	pbx "github.com/ik5/audpbx/audio"
)

// clipSource streams a Clip as interleaved samples for the resampler.
type clipSource struct {
	clip *Clip
	pos  int
}

func (s *clipSource) SampleRate() int { return s.clip.SampleRate }
func (s *clipSource) Channels() int   { return len(s.clip.Channels) }
func (s *clipSource) BufSize() int    { return 4096 }
func (s *clipSource) Close() error    { return nil }

func (s *clipSource) ReadSamples(dst []float32) (int, error) {
	channels := len(s.clip.Channels)
	frames := min(len(dst)/channels, s.clip.Frames()-s.pos)
	if frames <= 0 {
		return 0, io.EOF
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			dst[i*channels+ch] = s.clip.Channels[ch][s.pos+i]
		}
	}
	s.pos += frames
	return frames * channels, nil
}

// Resample converts c to rate with cubic interpolation. A clip already at
// rate is returned as is.
func Resample(c *Clip, rate int) (*Clip, error) {
	if rate <= 0 || c.SampleRate <= 0 {
		return nil, fmt.Errorf("resample %d -> %d Hz: invalid rate", c.SampleRate, rate)
	}
	if c.SampleRate == rate || c.Frames() == 0 {
		out := *c
		out.SampleRate = rate
		return &out, nil
	}

	channels := len(c.Channels)
	want := int(math.Ceil(float64(c.Frames()) * float64(rate) / float64(c.SampleRate)))
	out := NewClip(rate, channels, want)

	r := pbx.NewResampler(&clipSource{clip: c}, rate)
	buf := make([]float32, 1024*channels)
	n := 0
	for n < want {
		got, err := r.ReadSamples(buf)
		frames := min(got/channels, want-n)
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				out.Channels[ch][n+i] = buf[i*channels+ch]
			}
		}
		n += frames
		if err == io.EOF || got == 0 {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("resample %d -> %d Hz: %w", c.SampleRate, rate, err)
		}
	}
	for ch := range out.Channels {
		out.Channels[ch] = out.Channels[ch][:n]
	}
	return out, nil
}
