package engine

import (
	"math"
	"sync/atomic"
	"time"
)

// loadSmoothing is the weight of the newest cycle in the moving average.
const loadSmoothing = 0.05

// LoadMeter tracks DSP load: the time a cycle took divided by the time the
// buffer lasts. The audio thread records; anyone may read.
type LoadMeter struct {
	avg  atomic.Uint64 // float64 bits
	peak atomic.Uint64
	n    atomic.Uint64
}

func newLoadMeter() *LoadMeter { return &LoadMeter{} }

func (m *LoadMeter) record(elapsed time.Duration, frames, sampleRate int) {
	if frames <= 0 || sampleRate <= 0 {
		return
	}
	budget := float64(frames) / float64(sampleRate)
	load := elapsed.Seconds() / budget

	avg := load
	if m.n.Add(1) > 1 {
		prev := math.Float64frombits(m.avg.Load())
		avg = prev + loadSmoothing*(load-prev)
	}
	m.avg.Store(math.Float64bits(avg))
	if load > math.Float64frombits(m.peak.Load()) {
		m.peak.Store(math.Float64bits(load))
	}
}

// Average is the smoothed load, 1.0 meaning the cycle used its whole budget.
func (m *LoadMeter) Average() float64 { return math.Float64frombits(m.avg.Load()) }

// Peak is the highest single-cycle load since activation or ResetPeak.
func (m *LoadMeter) Peak() float64 { return math.Float64frombits(m.peak.Load()) }

func (m *LoadMeter) ResetPeak() { m.peak.Store(0) }

// Cycles is the number of recorded cycles.
func (m *LoadMeter) Cycles() uint64 { return m.n.Load() }
