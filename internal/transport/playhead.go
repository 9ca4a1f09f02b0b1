package transport

import "sync/atomic"

const noSeek = -1

// Playhead holds the published position seen by observers and the working
// position owned by the audio thread. The working position carries over
// from cycle to cycle and only changes by advancing or by consuming a seek
// at the start of a cycle, so a seek is rendered exactly once.
type Playhead struct {
	published atomic.Int64
	working   atomic.Int64
	seek      atomic.Int64

	start    int64 // working position when the cycle began
	expected int64 // published value this guard last saw or wrote
}

func (p *Playhead) begin() {
	if s := p.seek.Swap(noSeek); s != noSeek {
		p.working.Store(s)
		// A newer seek that stored published but not yet the slot is
		// republished when the next cycle consumes it.
		p.published.Store(s)
		p.expected = s
	}
	p.start = p.working.Load()
}

// Start is the position the current cycle renders from.
func (p *Playhead) Start() int64 { return p.start }

func (p *Playhead) current() int64 { return p.published.Load() }

func (p *Playhead) add(frames int64, loop LoopRange) {
	p.working.Store(advance(p.working.Load(), frames, loop))
}

func (p *Playhead) seekTo(pos int64) {
	p.published.Store(pos)
	p.seek.Store(pos)
}

// EndProcessing publishes the cycle's playhead. A seek issued by the control
// thread during the cycle takes precedence: its target stays published and
// is picked up by the next cycle.
func (p *Playhead) EndProcessing() {
	if p.seek.Load() != noSeek {
		return
	}
	w := p.working.Load()
	if p.published.CompareAndSwap(p.expected, w) {
		p.expected = w
	}
}
