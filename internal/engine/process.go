package engine

import (
	"time"

	"github.com/satindergrewal/dawcore/internal/midi"
	"github.com/satindergrewal/dawcore/internal/transport"
)

// ProcessStatus is the outcome of one cycle.
type ProcessStatus int

const (
	ProcessCompleted ProcessStatus = iota
	// ProcessSkipped means the cycle was not admitted; outputs are silent.
	ProcessSkipped
	// ProcessFailed means the request was invalid; nothing was touched.
	ProcessFailed
)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessCompleted:
		return "completed"
	case ProcessSkipped:
		return "skipped"
	case ProcessFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProcessTimeInfo locates one sub-range of a cycle.
type ProcessTimeInfo struct {
	GlobalStartFrame           int64 // playhead at the start of the cycle
	GlobalStartFrameWithOffset int64 // GlobalStartFrame + LocalOffset
	LocalOffset                int   // first frame of the sub-range in the cycle buffers
	FrameCount                 int
}

// End is the first cycle-local frame after the sub-range.
func (ti ProcessTimeInfo) End() int { return ti.LocalOffset + ti.FrameCount }

// cycleState is everything prepared for one device stream. It is built on
// the device's start notification and swapped in whole.
type cycleState struct {
	sampleRate int
	maxFrames  int
	monitor    [][]float32
	midi       midi.Buffer
	fadeFrames int64
}

// Process runs one cycle of totalFrames without a device, for offline use
// and tests. Frames beyond the prepared buffer size run as further cycles.
func (e *Engine) Process(totalFrames int) ProcessStatus {
	if totalFrames <= 0 {
		return ProcessFailed
	}
	cs := e.cycle.Load()
	if cs == nil {
		return ProcessSkipped
	}
	return e.processChunks(cs, nil, totalFrames)
}

// MonitorOut returns the monitor buffers of the prepared stream. Only valid
// on the goroutine that drives cycles, between cycles.
func (e *Engine) MonitorOut() [][]float32 {
	if cs := e.cycle.Load(); cs != nil {
		return cs.monitor
	}
	return nil
}

func (e *Engine) processChunks(cs *cycleState, out [][]float32, frames int) ProcessStatus {
	status := ProcessCompleted
	for done := 0; done < frames; {
		n := min(frames-done, cs.maxFrames)
		if st := e.runCycle(cs, out, done, n, false); st != ProcessCompleted {
			silence(out, done, n)
			status = st
		}
		done += n
	}
	return status
}

// runCycle admits and runs one cycle of n <= cs.maxFrames frames, copying
// the monitor output to out[ch][off:off+n] when out is not nil. The flush
// cycle waits for the ticket and ignores the run flag.
func (e *Engine) runCycle(cs *cycleState, out [][]float32, off, n int, flush bool) ProcessStatus {
	if n <= 0 || n > cs.maxFrames {
		return ProcessFailed
	}
	if flush {
		e.ticket.acquire()
	} else if !e.ticket.tryAcquire() {
		e.skipped.Add(1)
		return ProcessSkipped
	}
	defer e.ticket.release()
	if !flush && !e.run.Load() {
		return ProcessSkipped
	}

	start := time.Now()
	e.process(cs, n)

	if out != nil {
		for ch := range out {
			dst := out[ch][off : off+n]
			if ch < len(cs.monitor) {
				copy(dst, cs.monitor[ch][:n])
			} else {
				clear(dst)
			}
		}
		e.fader.apply(out, off, n)
	}
	if lm := e.load.Load(); lm != nil {
		lm.record(time.Since(start), n, cs.sampleRate)
	}
	return ProcessCompleted
}

// process splits one admitted cycle into sub-ranges of uniform transport
// state: latency preroll, count-in, recording preroll, then normal roll.
// The playhead moves once, by the normal-roll frames, when the guard closes.
func (e *Engine) process(cs *cycleState, totalFrames int) {
	tr := e.transport
	ph := tr.BeginProcessing()
	defer ph.EndProcessing()

	for ch := range cs.monitor {
		clear(cs.monitor[ch])
	}
	cs.midi.Clear()
	if e.midiIn != nil {
		e.midiIn.Drain(&cs.midi)
	}
	if e.panicPending.Swap(false) {
		cs.midi.AppendPanic()
	}

	d := e.dispatcher
	switch tr.PlayState() {
	case transport.PauseRequested:
		if tr.CompareAndSwapPlayState(transport.PauseRequested, transport.Paused) {
			e.latencyPreroll.Store(0)
		}
	case transport.RollRequested:
		if tr.CompareAndSwapPlayState(transport.RollRequested, transport.Rolling) {
			e.latencyPreroll.Store(d.MaxRoutePlaybackLatency())
		}
	}
	snap := tr.CycleSnapshot(ph)
	rolling := snap.IsRolling()

	preroll := e.latencyPreroll.Load()
	remaining := int64(totalFrames)
	offset := 0
	rolled := int64(0)

	for remaining > 0 {
		var n int64
		ti := ProcessTimeInfo{
			GlobalStartFrame:           snap.Playhead,
			GlobalStartFrameWithOffset: snap.Playhead + int64(offset),
			LocalOffset:                offset,
		}
		switch {
		case preroll > 0:
			n = prerollLength(d.TriggerNodes(), preroll, remaining)
			ti.FrameCount = int(n)
			d.StartCycle(&snap, ti, preroll, false)
			preroll -= n
		case rolling && snap.CountinRemaining > 0:
			n = min(remaining, snap.CountinRemaining)
			ti.FrameCount = int(n)
			d.StartCycle(&snap, ti, 0, false)
			snap.CountinRemaining, snap.PrerollRemaining = tr.ConsumeMetronomeCountinSamples(n)
		case rolling && snap.PrerollRemaining > 0:
			n = min(remaining, snap.PrerollRemaining)
			ti.FrameCount = int(n)
			d.StartCycle(&snap, ti, 0, false)
			snap.PrerollRemaining = tr.ConsumeRecordingPrerollSamples(n)
		default:
			n = remaining
			ti.FrameCount = int(n)
			d.StartCycle(&snap, ti, 0, rolling)
			if rolling {
				rolled += n
			}
		}
		remaining -= n
		offset += int(n)
	}

	e.latencyPreroll.Store(preroll)
	if rolled > 0 {
		tr.AddToPlayheadInAudioThread(rolled)
	}
}
