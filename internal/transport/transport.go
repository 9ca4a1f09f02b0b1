package transport

import (
	"math"
	"sync/atomic"
)

// PlayState is the transport's roll state. Only the audio thread moves a
// request (RollRequested, PauseRequested) to its settled state.
type PlayState int32

const (
	Paused PlayState = iota
	RollRequested
	Rolling
	PauseRequested
)

func (s PlayState) String() string {
	switch s {
	case Paused:
		return "paused"
	case RollRequested:
		return "roll_requested"
	case Rolling:
		return "rolling"
	case PauseRequested:
		return "pause_requested"
	default:
		return "unknown"
	}
}

// LoopRange is an immutable loop definition in samples.
type LoopRange struct {
	Enabled bool
	Start   int64
	End     int64
}

// BarLength reports the current bar length in samples. It is satisfied by
// *tempo.Map.
type BarLength interface {
	FramesPerBar() float64
}

// Transport is the authoritative, shared transport. Every field is read and
// written through atomics so the audio thread never contends on a lock with
// the control thread.
type Transport struct {
	state    atomic.Int32
	loop     atomic.Pointer[LoopRange]
	playhead Playhead

	countin        atomic.Int64
	preroll        atomic.Int64
	pendingPreroll atomic.Int64

	countinBars atomic.Int32
	prerollBars atomic.Int32
	recording   atomic.Bool

	bars BarLength
}

// New creates a paused transport at position 0 with looping disabled.
func New(bars BarLength) *Transport {
	t := &Transport{bars: bars}
	t.loop.Store(&LoopRange{})
	t.playhead.seek.Store(noSeek)
	return t
}

// Snapshot copies the transport state with the published playhead. Safe
// from any goroutine.
func (t *Transport) Snapshot() Snapshot {
	return t.snapshotAt(t.playhead.current())
}

// CycleSnapshot copies the transport state for the cycle guarded by ph. Its
// playhead is the position the cycle renders from, which differs from the
// published one while a seek is pending.
func (t *Transport) CycleSnapshot(ph *Playhead) Snapshot {
	return t.snapshotAt(ph.Start())
}

func (t *Transport) snapshotAt(playhead int64) Snapshot {
	loop := t.loop.Load()
	return Snapshot{
		PlayState:        PlayState(t.state.Load()),
		Playhead:         playhead,
		LoopEnabled:      loop.Enabled,
		LoopStart:        loop.Start,
		LoopEnd:          loop.End,
		CountinRemaining: t.countin.Load(),
		PrerollRemaining: t.preroll.Load(),
	}
}

func (t *Transport) PlayState() PlayState { return PlayState(t.state.Load()) }

// IsRolling reports whether the transport rolls or is about to.
func (t *Transport) IsRolling() bool {
	s := t.PlayState()
	return s == Rolling || s == RollRequested
}

func (t *Transport) IsPaused() bool { return t.PlayState() == Paused }

// SetPlayStateRTSafe stores a settled state. Called from the audio thread
// when it resolves a request, and from the control thread only once
// processing has been drained.
func (t *Transport) SetPlayStateRTSafe(s PlayState) {
	t.state.Store(int32(s))
}

// CompareAndSwapPlayState moves the state from old to new only if nothing
// changed it in between. Used by the audio thread to settle a request.
func (t *Transport) CompareAndSwapPlayState(old, new PlayState) bool {
	return t.state.CompareAndSwap(int32(old), int32(new))
}

// ResumeRoll requests a roll without arming count-in or recording preroll.
func (t *Transport) ResumeRoll() {
	t.countin.Store(0)
	t.preroll.Store(0)
	t.pendingPreroll.Store(0)
	if t.IsRolling() {
		return
	}
	t.state.Store(int32(RollRequested))
}

// RequestRoll asks the audio thread to start rolling at the next cycle. When
// count-in or recording preroll is configured the corresponding counters are
// armed here; recording preroll only becomes active once count-in is done.
func (t *Transport) RequestRoll() {
	if t.IsRolling() {
		return
	}
	barFrames := int64(0)
	if t.bars != nil {
		barFrames = int64(math.Round(t.bars.FramesPerBar()))
	}

	countin := int64(t.countinBars.Load()) * barFrames
	preroll := int64(0)
	if t.recording.Load() {
		preroll = int64(t.prerollBars.Load()) * barFrames
	}
	if countin > 0 {
		t.countin.Store(countin)
		t.preroll.Store(0)
		t.pendingPreroll.Store(preroll)
	} else {
		t.countin.Store(0)
		t.preroll.Store(preroll)
		t.pendingPreroll.Store(0)
	}
	t.state.Store(int32(RollRequested))
}

// RequestPause asks the audio thread to stop rolling at the next cycle and
// cancels any count-in or preroll in progress.
func (t *Transport) RequestPause() {
	t.countin.Store(0)
	t.preroll.Store(0)
	t.pendingPreroll.Store(0)
	if t.PlayState() == Paused {
		return
	}
	t.state.Store(int32(PauseRequested))
}

// ConsumeMetronomeCountinSamples removes up to n count-in samples and returns
// the remaining count-in and recording preroll. When count-in reaches zero the
// pending recording preroll is loaded.
func (t *Transport) ConsumeMetronomeCountinSamples(n int64) (countin, preroll int64) {
	countin = consume(&t.countin, n)
	if countin == 0 {
		if pending := t.pendingPreroll.Swap(0); pending > 0 {
			t.preroll.Store(pending)
		}
	}
	return countin, t.preroll.Load()
}

// ConsumeRecordingPrerollSamples removes up to n recording preroll samples and
// returns what is left.
func (t *Transport) ConsumeRecordingPrerollSamples(n int64) int64 {
	return consume(&t.preroll, n)
}

func consume(v *atomic.Int64, n int64) int64 {
	for {
		cur := v.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if v.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// AddToPlayheadInAudioThread advances the working playhead of the current
// cycle, wrapping at the loop end.
func (t *Transport) AddToPlayheadInAudioThread(frames int64) {
	loop := t.loop.Load()
	t.playhead.add(frames, *loop)
}

// BeginProcessing opens the playhead processing guard for one cycle. Use as
//
//	ph := tr.BeginProcessing()
//	defer ph.EndProcessing()
//	snap := tr.CycleSnapshot(ph)
func (t *Transport) BeginProcessing() *Playhead {
	t.playhead.begin()
	return &t.playhead
}

// Position is the last published playhead position.
func (t *Transport) Position() int64 { return t.playhead.published.Load() }

// Seek moves the playhead from the control thread.
func (t *Transport) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}
	t.playhead.seekTo(pos)
}

// SetLoop replaces the loop range. An empty or inverted range disables looping.
func (t *Transport) SetLoop(enabled bool, start, end int64) {
	if start < 0 {
		start = 0
	}
	if end <= start {
		enabled = false
	}
	t.loop.Store(&LoopRange{Enabled: enabled, Start: start, End: end})
}

// SetLoopEnabled toggles looping, keeping the range.
func (t *Transport) SetLoopEnabled(enabled bool) {
	cur := t.loop.Load()
	t.SetLoop(enabled, cur.Start, cur.End)
}

func (t *Transport) LoopEnabled() bool { return t.loop.Load().Enabled }

// LoopRangePositions returns the loop start and end in samples.
func (t *Transport) LoopRangePositions() (start, end int64) {
	loop := t.loop.Load()
	return loop.Start, loop.End
}

func (t *Transport) SetCountinBars(bars int) { t.countinBars.Store(int32(max(bars, 0))) }
func (t *Transport) SetPrerollBars(bars int) { t.prerollBars.Store(int32(max(bars, 0))) }
func (t *Transport) SetRecording(on bool)    { t.recording.Store(on) }
func (t *Transport) Recording() bool         { return t.recording.Load() }
