package engine

import (
	"testing"

	"github.com/satindergrewal/dawcore/internal/device"
	"github.com/satindergrewal/dawcore/internal/transport"
)

// --- Invalid input ---

func TestProcessZeroFramesFails(t *testing.T) {
	r := newRig(t, fixedBar(1000), nil)
	r.tr.SetCountinBars(1)
	r.tr.RequestRoll()
	r.e.Process(100)
	r.d.take()

	before := r.tr.Snapshot()
	for _, n := range []int{0, -5} {
		if got := r.e.Process(n); got != ProcessFailed {
			t.Errorf("Process(%d) = %v, want failed", n, got)
		}
	}
	if after := r.tr.Snapshot(); after != before {
		t.Errorf("transport changed: %+v -> %+v", before, after)
	}
	if calls := r.d.take(); len(calls) != 0 {
		t.Errorf("dispatched %d sub-ranges for zero frames", len(calls))
	}
}

// --- Admission ---

func TestProcessSkippedWhileTicketHeld(t *testing.T) {
	r := newRig(t, nil, nil)
	r.e.ticket.acquire()
	if got := r.e.Process(64); got != ProcessSkipped {
		t.Errorf("Process = %v, want skipped", got)
	}
	r.e.ticket.release()
	if r.e.SkippedCycles() != 1 {
		t.Errorf("SkippedCycles = %d, want 1", r.e.SkippedCycles())
	}
	if got := r.e.Process(64); got != ProcessCompleted {
		t.Errorf("Process after release = %v, want completed", got)
	}
}

func TestProcessSkippedWhenNotRunning(t *testing.T) {
	r := newRig(t, nil, nil)
	r.e.run.Store(false)
	if got := r.e.Process(64); got != ProcessSkipped {
		t.Errorf("Process = %v, want skipped", got)
	}
	if calls := r.d.take(); len(calls) != 0 {
		t.Errorf("dispatched %d sub-ranges while not running", len(calls))
	}
}

// --- Sub-range splitting ---

func TestPrerollNeutrality(t *testing.T) {
	r := newRig(t, nil, nil)

	r.e.Process(512)
	calls := r.d.take()
	if len(calls) != 1 || calls[0].advance {
		t.Fatalf("paused cycle: %+v", calls)
	}

	r.tr.RequestRoll()
	r.e.Process(300)
	calls = r.d.take()
	if len(calls) != 1 {
		t.Fatalf("rolling cycle produced %d sub-ranges, want 1", len(calls))
	}
	c := calls[0]
	if c.ti.LocalOffset != 0 || c.ti.FrameCount != 300 || !c.advance || c.state != transport.Rolling {
		t.Errorf("sub-range = %+v", c)
	}
	if r.tr.Position() != 300 {
		t.Errorf("Position = %d, want 300", r.tr.Position())
	}
}

func TestLatencyPrerollSplitsAtRouteStart(t *testing.T) {
	d := &fakeDispatcher{
		latency: 1000,
		nodes:   []TriggerNode{fakeNode(1000), fakeNode(600), fakeNode(0)},
	}
	r := newRig(t, nil, d)
	r.tr.RequestRoll()

	type want struct {
		off, n  int
		preroll int64
		advance bool
	}
	cycles := [][]want{
		{{0, 400, 1000, false}, {400, 112, 600, false}},
		{{0, 488, 488, false}, {488, 24, 0, true}},
		{{0, 512, 0, true}},
	}
	for i, wants := range cycles {
		r.e.Process(512)
		calls := r.d.take()
		checkPartition(t, calls, 512)
		if len(calls) != len(wants) {
			t.Fatalf("cycle %d: %d sub-ranges, want %d: %+v", i, len(calls), len(wants), calls)
		}
		for j, w := range wants {
			c := calls[j]
			if c.ti.LocalOffset != w.off || c.ti.FrameCount != w.n || c.preroll != w.preroll || c.advance != w.advance {
				t.Errorf("cycle %d sub-range %d = off %d n %d preroll %d advance %v, want %+v",
					i, j, c.ti.LocalOffset, c.ti.FrameCount, c.preroll, c.advance, w)
			}
		}
	}
	if r.tr.Position() != 24+512 {
		t.Errorf("Position = %d, want %d", r.tr.Position(), 24+512)
	}
	if r.e.RemainingLatencyPreroll() != 0 {
		t.Errorf("RemainingLatencyPreroll = %d", r.e.RemainingLatencyPreroll())
	}
}

func TestCountinThenRecordingPrerollThenRoll(t *testing.T) {
	r := newRig(t, fixedBar(1000), nil)
	r.tr.SetCountinBars(1)
	r.tr.SetPrerollBars(1)
	r.tr.SetRecording(true)
	r.tr.RequestRoll()

	type want struct {
		n                  int
		countin, recording int64
		advance            bool
	}
	cycles := [][]want{
		{{512, 1000, 0, false}},
		{{488, 488, 0, false}, {24, 0, 1000, false}},
		{{512, 0, 976, false}},
		{{464, 0, 464, false}, {48, 0, 0, true}},
	}
	for i, wants := range cycles {
		r.e.Process(512)
		calls := r.d.take()
		checkPartition(t, calls, 512)
		if len(calls) != len(wants) {
			t.Fatalf("cycle %d: %d sub-ranges, want %d: %+v", i, len(calls), len(wants), calls)
		}
		for j, w := range wants {
			c := calls[j]
			if c.ti.FrameCount != w.n || c.countin != w.countin || c.recording != w.recording || c.advance != w.advance {
				t.Errorf("cycle %d sub-range %d = n %d countin %d recording %d advance %v, want %+v",
					i, j, c.ti.FrameCount, c.countin, c.recording, c.advance, w)
			}
			if c.countin > 0 && c.recording > 0 {
				t.Errorf("cycle %d sub-range %d has both count-in and preroll", i, j)
			}
		}
		if i < 3 && r.tr.Position() != 0 {
			t.Errorf("cycle %d moved playhead to %d during count-in/preroll", i, r.tr.Position())
		}
	}
	if r.tr.Position() != 48 {
		t.Errorf("Position = %d, want 48", r.tr.Position())
	}
}

func TestCountinExactlyOneBuffer(t *testing.T) {
	r := newRig(t, fixedBar(512), nil)
	r.tr.SetCountinBars(1)
	r.tr.RequestRoll()

	r.e.Process(512)
	calls := r.d.take()
	if len(calls) != 1 || calls[0].advance || calls[0].countin != 512 {
		t.Fatalf("count-in cycle = %+v", calls)
	}
	if snap := r.tr.Snapshot(); snap.CountinRemaining != 0 || snap.Playhead != 0 {
		t.Errorf("after count-in: %+v", snap)
	}

	r.e.Process(512)
	calls = r.d.take()
	if len(calls) != 1 || !calls[0].advance {
		t.Fatalf("roll cycle = %+v", calls)
	}
	if r.tr.Position() != 512 {
		t.Errorf("Position = %d, want 512", r.tr.Position())
	}
}

func TestFrameConservationAcrossPhases(t *testing.T) {
	d := &fakeDispatcher{
		latency: 700,
		nodes:   []TriggerNode{fakeNode(700), fakeNode(333), fakeNode(50), fakeNode(0)},
	}
	r := newRig(t, fixedBar(900), d)
	r.tr.SetCountinBars(1)
	r.tr.SetPrerollBars(2)
	r.tr.SetRecording(true)
	r.tr.RequestRoll()

	var rolled int64
	sizes := []int{1, 17, 128, 333, 512, 7, 256, 511}
	for i := 0; i < 40; i++ {
		n := sizes[i%len(sizes)]
		if got := r.e.Process(n); got != ProcessCompleted {
			t.Fatalf("cycle %d status %v", i, got)
		}
		calls := r.d.take()
		checkPartition(t, calls, n)
		for _, c := range calls {
			if c.advance {
				rolled += int64(c.ti.FrameCount)
			}
		}
	}
	if r.tr.Position() != rolled {
		t.Errorf("Position = %d, want rolled frames %d", r.tr.Position(), rolled)
	}
}

func TestPauseRequestSettlesAndClearsPreroll(t *testing.T) {
	d := &fakeDispatcher{latency: 5000}
	r := newRig(t, nil, d)
	r.tr.RequestRoll()
	r.e.Process(512)
	if r.e.RemainingLatencyPreroll() != 5000-512 {
		t.Fatalf("RemainingLatencyPreroll = %d", r.e.RemainingLatencyPreroll())
	}
	r.tr.RequestPause()
	r.e.Process(512)
	if r.tr.PlayState() != transport.Paused {
		t.Errorf("PlayState = %v, want paused", r.tr.PlayState())
	}
	if r.e.RemainingLatencyPreroll() != 0 {
		t.Errorf("RemainingLatencyPreroll = %d after pause", r.e.RemainingLatencyPreroll())
	}
	calls := r.d.take()
	last := calls[len(calls)-1]
	if last.advance || last.preroll != 0 {
		t.Errorf("paused sub-range = %+v", last)
	}
}

func TestSeekDuringRollMovesCycleStart(t *testing.T) {
	r := newRig(t, nil, nil)
	r.tr.RequestRoll()
	r.e.Process(512)
	r.tr.Seek(10000)
	r.e.Process(512)
	calls := r.d.take()
	if got := calls[len(calls)-1].ti.GlobalStartFrame; got != 10000 {
		t.Errorf("GlobalStartFrame after seek = %d, want 10000", got)
	}
	if r.tr.Position() != 10512 {
		t.Errorf("Position = %d, want 10512", r.tr.Position())
	}
}

func TestSeekInsideCycleIsNotReplayed(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRig(t, nil, d)
	r.tr.RequestRoll()
	r.e.Process(512)
	r.d.take()

	seeked := false
	d.onCycle = func() {
		if !seeked {
			seeked = true
			r.tr.Seek(50000)
		}
	}
	for range 3 {
		r.e.Process(512)
	}
	var starts []int64
	for _, c := range r.d.take() {
		starts = append(starts, c.ti.GlobalStartFrame)
	}
	want := []int64{512, 50000, 50512}
	if len(starts) != len(want) {
		t.Fatalf("cycle starts = %v, want %v", starts, want)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("cycle starts = %v, want %v", starts, want)
			break
		}
	}
	if r.tr.Position() != 51024 {
		t.Errorf("Position = %d, want 51024", r.tr.Position())
	}
}

// --- Device callback ---

func TestAudioCallbackChunksLargeBuffers(t *testing.T) {
	r := newRig(t, nil, nil)
	r.tr.RequestRoll()
	out := r.dev.Step(1200)
	calls := r.d.take()
	if len(calls) != 3 {
		t.Fatalf("%d cycles for 1200 frames at 512, want 3", len(calls))
	}
	for ch := range out {
		for i, v := range out[ch] {
			if v != 1 {
				t.Fatalf("out[%d][%d] = %v, want 1", ch, i, v)
			}
		}
	}
	if r.tr.Position() != 1200 {
		t.Errorf("Position = %d, want 1200", r.tr.Position())
	}
	if r.e.Load().Cycles() != 3 {
		t.Errorf("load meter cycles = %d, want 3", r.e.Load().Cycles())
	}
}

func TestAudioCallbackSilentWhenSkipped(t *testing.T) {
	r := newRig(t, nil, nil)
	out := r.dev.Step(64)
	if out[0][0] != 1 {
		t.Fatalf("completed cycle out = %v", out[0][0])
	}
	r.e.run.Store(false)
	out = r.dev.Step(64)
	for ch := range out {
		for i, v := range out[ch] {
			if v != 0 {
				t.Fatalf("skipped cycle out[%d][%d] = %v, want 0", ch, i, v)
			}
		}
	}
}

type countingTap struct{ frames int }

func (c *countingTap) Write(out [][]float32, frames int) { c.frames += frames }

func TestMonitorTap(t *testing.T) {
	r := newRig(t, nil, nil)
	tap := &countingTap{}
	r.e.SetMonitorTap(tap)
	r.dev.Step(100)
	r.dev.Step(28)
	if tap.frames != 128 {
		t.Errorf("tap saw %d frames, want 128", tap.frames)
	}
	r.e.SetMonitorTap(nil)
	r.dev.Step(100)
	if tap.frames != 128 {
		t.Errorf("removed tap still called")
	}
}

func TestReprepareWithNewStream(t *testing.T) {
	r := newRig(t, nil, nil)
	other, err := device.NewManual(device.Config{SampleRate: 96000, BufferSize: 256, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	r.e.AboutToStart(other)

	if r.tm.SampleRate() != 96000 {
		t.Errorf("tempo map rate = %d, want 96000", r.tm.SampleRate())
	}
	if len(r.d.prepared) != 2 || r.d.prepared[1].MaxFrames != 256 || len(r.d.prepared[1].MonitorOut) != 1 {
		t.Errorf("Prepare calls = %+v", r.d.prepared)
	}
	r.e.Process(300)
	calls := r.d.take()
	if len(calls) != 2 || calls[0].ti.FrameCount != 256 || calls[1].ti.FrameCount != 44 {
		t.Errorf("chunked cycles = %+v", calls)
	}
}

func TestStoppedReleasesStream(t *testing.T) {
	r := newRig(t, nil, nil)
	r.e.Stopped()
	if got := r.e.Process(64); got != ProcessSkipped {
		t.Errorf("Process after Stopped = %v, want skipped", got)
	}
	if r.e.MonitorOut() != nil {
		t.Error("MonitorOut kept after Stopped")
	}
}
