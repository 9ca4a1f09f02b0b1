package metronome

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/dawcore/internal/audio"
	"github.com/satindergrewal/dawcore/internal/engine"
	"github.com/satindergrewal/dawcore/internal/graph"
	"github.com/satindergrewal/dawcore/internal/sampler"
	"github.com/satindergrewal/dawcore/internal/tempo"
	"github.com/satindergrewal/dawcore/internal/transport"
)

// MaxClicksPerCycle bounds the clicks one sub-range can queue. The densest
// legal grid (360 BPM in sixteenths at 8 kHz with 16384-frame buffers) puts
// fewer than 30 boundaries in a buffer.
const MaxClicksPerCycle = 64

// Name is the metronome's graph node name.
const Name = "metronome"

// Event is one scheduled click inside the current cycle.
type Event struct {
	Emphasis bool
	Offset   int
}

// Metronome schedules sample-accurate bar and beat clicks and plays them
// through its sampler. It is a graph node with no latency.
type Metronome struct {
	tempo   *tempo.Map
	sampler *sampler.Sampler

	enabled  atomic.Bool
	volume   atomic.Uint32 // float32 bits
	overflow atomic.Uint64
	clicks   atomic.Pointer[clickSet]

	mu                     sync.Mutex
	emphasisSrc, normalSrc *audio.Clip
	rate, channels         int

	events [MaxClicksPerCycle]Event // audio thread only
	n      int
}

// New creates an enabled metronome at full volume using synthesized clicks.
func New(tm *tempo.Map) *Metronome {
	m := &Metronome{tempo: tm, sampler: sampler.New()}
	m.enabled.Store(true)
	m.SetVolume(1)
	return m
}

func (m *Metronome) Name() string           { return Name }
func (m *Metronome) PlaybackLatency() int64 { return 0 }

func (m *Metronome) SetEnabled(on bool) { m.enabled.Store(on) }
func (m *Metronome) Enabled() bool      { return m.enabled.Load() }

// SetVolume sets the click gain, clamped to [0, 1].
func (m *Metronome) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	m.volume.Store(math.Float32bits(float32(v)))
}

func (m *Metronome) Volume() float64 { return float64(math.Float32frombits(m.volume.Load())) }

// Overflow counts clicks dropped because a sub-range had too many.
func (m *Metronome) Overflow() uint64 { return m.overflow.Load() }

// DroppedVoices counts clicks the sampler had no voice for.
func (m *Metronome) DroppedVoices() uint64 { return m.sampler.Dropped() }

// Prepare builds the clicks for the stream's rate and channel count.
func (m *Metronome) Prepare(info engine.PrepareInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = info.SampleRate
	m.channels = len(info.MonitorOut)
	m.clicks.Store(buildClicks(m.emphasisSrc, m.normalSrc, m.rate, m.channels))
}

// SetClicks replaces the click sounds; nil selects the synthesized one.
func (m *Metronome) SetClicks(emphasis, normal *audio.Clip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emphasisSrc, m.normalSrc = emphasis, normal
	if m.rate > 0 {
		m.clicks.Store(buildClicks(emphasis, normal, m.rate, m.channels))
	}
}

// LoadClicks reads the click sounds from WAV or AIFF files. An empty path
// keeps the synthesized click.
func (m *Metronome) LoadClicks(emphasisPath, normalPath string) error {
	emphasis, err := loadClick(emphasisPath)
	if err != nil {
		return err
	}
	normal, err := loadClick(normalPath)
	if err != nil {
		return err
	}
	m.SetClicks(emphasis, normal)
	return nil
}

// Process queues this sub-range's clicks and mixes the playing ones.
func (m *Metronome) Process(ctx *graph.ProcessContext) {
	if m.enabled.Load() {
		m.QueueEvents(ctx.Snapshot, ctx.Time)
	}
	m.sampler.Process(ctx.Out, ctx.Time.LocalOffset, ctx.Time.FrameCount)
}

// Panic silences every playing click. The graph calls it from the audio
// thread.
func (m *Metronome) Panic() { m.sampler.Panic() }

// QueueEvents finds the bar and beat boundaries in the sub-range and queues a
// click for each. During count-in and recording preroll the clicks count
// towards the roll point. The returned slice is reused by the next call.
func (m *Metronome) QueueEvents(snap *transport.Snapshot, ti engine.ProcessTimeInfo) []Event {
	m.n = 0
	if snap == nil || !snap.IsRolling() || ti.FrameCount <= 0 {
		return nil
	}
	switch {
	case snap.CountinRemaining > 0:
		m.countIn(snap.CountinRemaining, ti)
	case snap.PrerollRemaining > 0:
		m.countIn(snap.PrerollRemaining, ti)
	default:
		m.roll(snap, ti)
	}

	events := m.events[:m.n]
	if cs := m.clicks.Load(); cs != nil {
		gain := math.Float32frombits(m.volume.Load())
		for _, ev := range events {
			clip := cs.normal
			if ev.Emphasis {
				clip = cs.emphasis
			}
			m.queueClip(clip, cs.channels, ev.Offset, gain)
		}
	}
	return events
}

// queueClip broadcasts a mono clip to every channel; a multichannel clip
// plays channel by channel.
func (m *Metronome) queueClip(clip *audio.Clip, channels, offset int, gain float32) {
	src := len(clip.Channels)
	for ch := 0; ch < channels; ch++ {
		switch {
		case src == 1:
			m.sampler.Queue(ch, clip.Channels[0], offset, gain)
		case ch < src:
			m.sampler.Queue(ch, clip.Channels[ch], offset, gain)
		}
	}
}

// roll scans the sub-range of the rolling timeline, in two passes when it
// wraps at the loop end.
func (m *Metronome) roll(snap *transport.Snapshot, ti engine.ProcessTimeInfo) {
	start := ti.GlobalStartFrame
	n := int64(ti.FrameCount)
	end := start + n
	if wrapped := snap.PositionAfter(start, n); wrapped != end {
		m.scan(start, snap.LoopEnd, ti.LocalOffset)
		m.scan(snap.LoopStart, wrapped, ti.LocalOffset+int(snap.LoopEnd-start))
		return
	}
	m.scan(start, end, ti.LocalOffset)
}

// scan queues a click at every sample of [from, to) whose bar (emphasis) or
// beat differs from the sample before it. Sample 0 always gets emphasis.
func (m *Metronome) scan(from, to int64, lo int) {
	if to <= from {
		return
	}
	tm := m.tempo
	s := from
	var prev tempo.Position
	if from == 0 {
		m.emit(lo, true)
		prev = tm.SamplesToMusicalPosition(0)
		s = 1
	} else {
		prev = tm.SamplesToMusicalPosition(from - 1)
		if prev.SameBeat(tm.SamplesToMusicalPosition(to - 1)) {
			return
		}
	}
	for ; s < to; s++ {
		p := tm.SamplesToMusicalPosition(s)
		switch {
		case p.Bar != prev.Bar:
			m.emit(lo+int(s-from), true)
		case p.Beat != prev.Beat:
			m.emit(lo+int(s-from), false)
		}
		prev = p
	}
}

// countIn places clicks for a sub-range that ends remaining frames before
// the roll point: sample k of the sub-range sits at virtual time
// k - remaining, and clicks fall on whole bars and beats before zero. Bar
// and beat lengths come from the tempo map boundaries around the playhead.
func (m *Metronome) countIn(remaining int64, ti engine.ProcessTimeInfo) {
	tm := m.tempo
	pos := tm.SamplesToMusicalPosition(ti.GlobalStartFrame)

	barStart := tempo.Position{Bar: pos.Bar, Beat: 1, Sixteenth: 1}
	barEnd := tempo.Position{Bar: pos.Bar + 1, Beat: 1, Sixteenth: 1}
	beatStart := tempo.Position{Bar: pos.Bar, Beat: pos.Beat, Sixteenth: 1}
	beatEnd := tempo.Position{Bar: pos.Bar, Beat: pos.Beat + 1, Sixteenth: 1}
	if pos.Beat >= tm.BeatsPerBar() {
		beatEnd = barEnd
	}
	barTicks := tm.MusicalPositionToTick(barEnd) - tm.MusicalPositionToTick(barStart)
	beatTicks := tm.MusicalPositionToTick(beatEnd) - tm.MusicalPositionToTick(beatStart)

	m.countInPass(remaining, ti, barTicks, true)
	m.countInPass(remaining, ti, beatTicks, false)
	m.sortEvents()
}

// countInPass queues a click at k = remaining - samples(j*step) for every
// j >= 1 that lands inside the sub-range. Converting whole multiples keeps
// beat clicks on the same samples as the bar clicks they coincide with.
func (m *Metronome) countInPass(remaining int64, ti engine.ProcessTimeInfo, stepTicks float64, emphasis bool) {
	approx := m.tempo.TickToSamplesRounded(stepTicks)
	if approx < 1 {
		return
	}
	n := int64(ti.FrameCount)
	for j := remaining/approx + 1; j >= 1; j-- {
		k := remaining - m.tempo.TickToSamplesRounded(float64(j)*stepTicks)
		if k < 0 {
			continue
		}
		if k >= n {
			break
		}
		m.emit(ti.LocalOffset+int(k), emphasis)
	}
}

// emit records a click unless one is already queued at offset.
func (m *Metronome) emit(offset int, emphasis bool) {
	for _, ev := range m.events[:m.n] {
		if ev.Offset == offset {
			return
		}
	}
	if m.n == len(m.events) {
		m.overflow.Add(1)
		return
	}
	m.events[m.n] = Event{Emphasis: emphasis, Offset: offset}
	m.n++
}

func (m *Metronome) sortEvents() {
	ev := m.events[:m.n]
	for i := 1; i < len(ev); i++ {
		for j := i; j > 0 && ev[j].Offset < ev[j-1].Offset; j-- {
			ev[j], ev[j-1] = ev[j-1], ev[j]
		}
	}
}
