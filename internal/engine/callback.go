package engine

import (
	"log"

	"github.com/satindergrewal/dawcore/internal/device"
)

// AboutToStart prepares per-stream state for d's sample rate and buffer
// size. The device may call it again between cycles with new parameters.
func (e *Engine) AboutToStart(d device.Device) {
	rate := d.SampleRate()
	frames := max(d.BufferSize(), 1)
	channels := max(d.OutputChannels(), 1)

	cs := &cycleState{
		sampleRate: rate,
		maxFrames:  frames,
		monitor:    make([][]float32, channels),
		fadeFrames: int64(e.cfg.Fadeout.Seconds() * float64(rate)),
	}
	for ch := range cs.monitor {
		cs.monitor[ch] = make([]float32, frames)
	}

	if err := e.tempo.SetSampleRate(rate); err != nil {
		log.Printf("Engine %s: tempo map kept %d Hz: %v", e.shortID(), e.tempo.SampleRate(), err)
	}
	if p, ok := e.dispatcher.(Preparer); ok {
		p.Prepare(PrepareInfo{
			SampleRate: rate,
			MaxFrames:  frames,
			MonitorOut: cs.monitor,
			MIDI:       &cs.midi,
		})
	}
	e.cycle.Store(cs)
}

// Stopped releases the per-stream state.
func (e *Engine) Stopped() {
	e.cycle.Store(nil)
}

// AudioCallback fills out with frames of monitor output. Anything that
// keeps a cycle from completing leaves silence.
func (e *Engine) AudioCallback(in, out [][]float32, frames int) {
	if frames <= 0 {
		return
	}
	cs := e.cycle.Load()
	if cs == nil {
		silence(out, 0, frames)
		return
	}
	e.processChunks(cs, out, frames)
	if ref := e.tap.Load(); ref != nil {
		ref.t.Write(out, frames)
	}
}
