package metronome

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/satindergrewal/dawcore/internal/audio"
)

const (
	clickLength = 40 * time.Millisecond
	clickDecay  = 8 * time.Millisecond
)

// clickSet holds both click sounds at the stream's rate.
type clickSet struct {
	emphasis *audio.Clip
	normal   *audio.Clip
	channels int // output channels of the stream
}

// synthClick renders a decaying sine burst.
func synthClick(rate int, freq, level float64) *audio.Clip {
	frames := int(clickLength.Seconds() * float64(rate))
	c := audio.NewClip(rate, 1, frames)
	for i := range c.Channels[0] {
		t := float64(i) / float64(rate)
		env := math.Exp(-t / clickDecay.Seconds())
		c.Channels[0][i] = float32(level * env * math.Sin(2*math.Pi*freq*t))
	}
	return c
}

// buildClicks converts the sources to rate, synthesizing missing ones.
func buildClicks(emphasis, normal *audio.Clip, rate, channels int) *clickSet {
	return &clickSet{
		emphasis: clickAt(emphasis, rate, 1760, 1.0),
		normal:   clickAt(normal, rate, 880, 0.7),
		channels: channels,
	}
}

func clickAt(src *audio.Clip, rate int, freq, level float64) *audio.Clip {
	if src == nil || src.Frames() == 0 {
		return synthClick(rate, freq, level)
	}
	c, err := audio.Resample(src, rate)
	if err != nil {
		log.Printf("Metronome: %v, using synthesized click", err)
		return synthClick(rate, freq, level)
	}
	return c
}

// loadClick decodes path, or returns nil for the synthesized click.
func loadClick(path string) (*audio.Clip, error) {
	if path == "" {
		return nil, nil
	}
	c, err := audio.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("load click: %w", err)
	}
	return c, nil
}
