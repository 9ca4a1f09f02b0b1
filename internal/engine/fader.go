package engine

import (
	"sync/atomic"

	"github.com/satindergrewal/dawcore/internal/audio"
)

const (
	fadeIdle int32 = iota
	fadeRequested
	fadeRunning
	fadeDone
)

// fader fades the monitor output to silence on request. The control thread
// requests, aborts and resets; the audio thread advances the ramp.
type fader struct {
	state  atomic.Int32
	length atomic.Int64

	pos int64 // audio thread only
}

func (f *fader) requestFadeOut(frames int64) {
	f.length.Store(max(frames, 1))
	f.state.Store(fadeRequested)
}

// abort jumps straight to silence.
func (f *fader) abort() { f.state.Store(fadeDone) }

func (f *fader) reset() { f.state.Store(fadeIdle) }

func (f *fader) done() bool { return f.state.Load() == fadeDone }

// apply scales out[ch][off:off+n] by the fade ramp.
func (f *fader) apply(out [][]float32, off, n int) {
	switch f.state.Load() {
	case fadeIdle:
		return
	case fadeDone:
		silence(out, off, n)
		return
	case fadeRequested:
		if !f.state.CompareAndSwap(fadeRequested, fadeRunning) {
			return
		}
		f.pos = 0
	}

	length := f.length.Load()
	for i := off; i < off+n; i++ {
		gain := audio.FadeOutGain(f.pos, length)
		if f.pos < length {
			f.pos++
		}
		for ch := range out {
			if i < len(out[ch]) {
				out[ch][i] *= gain
			}
		}
	}
	if f.pos >= length {
		f.state.CompareAndSwap(fadeRunning, fadeDone)
	}
}

func silence(out [][]float32, off, n int) {
	for ch := range out {
		end := min(off+n, len(out[ch]))
		if off < end {
			clear(out[ch][off:end])
		}
	}
}
