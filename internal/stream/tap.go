package stream

import (
	"sync/atomic"

	"github.com/satindergrewal/dawcore/internal/audio"
)

const (
	// tapQueue is how many finished frames wait for the broadcaster.
	tapQueue = 16
	// tapRing is the number of preallocated frames the tap cycles through.
	// A slot is rewritten tapRing frames after it was queued.
	tapRing = 2 * tapQueue
)

// Tap turns the engine's monitor output into 20ms interleaved int16 frames
// for the broadcaster. Write runs on the audio thread: it never allocates
// and never blocks, dropping a frame when the consumer is behind.
type Tap struct {
	rate      int
	channels  int
	frameSize int

	ring [][]int16
	next int
	fill int

	out     chan []int16
	dropped atomic.Uint64
}

// NewTap creates a tap producing frames of the given rate and channel
// count. The device's channels are folded or repeated to fit.
func NewTap(rate, channels int) *Tap {
	t := &Tap{
		rate:      rate,
		channels:  channels,
		frameSize: audio.FrameSize(rate),
		ring:      make([][]int16, tapRing),
		out:       make(chan []int16, tapQueue),
	}
	for i := range t.ring {
		t.ring[i] = make([]int16, t.frameSize*channels)
	}
	return t
}

func (t *Tap) SampleRate() int { return t.rate }
func (t *Tap) Channels() int   { return t.channels }

// Frames is the source channel for Broadcaster.Run.
func (t *Tap) Frames() <-chan []int16 { return t.out }

// Dropped is the number of frames lost because the consumer was behind.
func (t *Tap) Dropped() uint64 { return t.dropped.Load() }

// Write implements engine.MonitorTap.
func (t *Tap) Write(out [][]float32, frames int) {
	off := 0
	for off < frames {
		cur := t.ring[t.next]
		n := min(frames-off, t.frameSize-t.fill)
		audio.Interleave16(cur[t.fill*t.channels:], out, off, n, t.channels)
		t.fill += n
		off += n
		if t.fill < t.frameSize {
			continue
		}
		t.fill = 0
		select {
		case t.out <- cur:
			t.next = (t.next + 1) % len(t.ring)
		default:
			t.dropped.Add(1)
		}
	}
}
