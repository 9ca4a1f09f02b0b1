package transport

import (
	"sync"
	"testing"
)

type fixedBar float64

func (b fixedBar) FramesPerBar() float64 { return float64(b) }

// --- Play state ---

func TestNewTransportIsPaused(t *testing.T) {
	tr := New(fixedBar(1000))
	snap := tr.Snapshot()
	if snap.PlayState != Paused {
		t.Errorf("PlayState = %v, want paused", snap.PlayState)
	}
	if snap.Playhead != 0 || snap.LoopEnabled || snap.CountinRemaining != 0 || snap.PrerollRemaining != 0 {
		t.Errorf("unexpected initial snapshot %+v", snap)
	}
}

func TestRequestRollAndPause(t *testing.T) {
	tr := New(fixedBar(1000))
	tr.RequestRoll()
	if tr.PlayState() != RollRequested {
		t.Fatalf("after RequestRoll state = %v", tr.PlayState())
	}
	if !tr.IsRolling() {
		t.Error("RollRequested should count as rolling")
	}
	tr.SetPlayStateRTSafe(Rolling)
	tr.RequestPause()
	if tr.PlayState() != PauseRequested {
		t.Errorf("after RequestPause state = %v", tr.PlayState())
	}
	tr.SetPlayStateRTSafe(Paused)
	tr.RequestPause()
	if tr.PlayState() != Paused {
		t.Errorf("pause while paused should stay paused, got %v", tr.PlayState())
	}
}

func TestCompareAndSwapPlayState(t *testing.T) {
	tr := New(fixedBar(1000))
	tr.RequestRoll()
	if !tr.CompareAndSwapPlayState(RollRequested, Rolling) {
		t.Fatal("CAS RollRequested -> Rolling failed")
	}
	if tr.CompareAndSwapPlayState(RollRequested, Rolling) {
		t.Error("CAS from stale state should fail")
	}
}

func TestResumeRollSkipsCountin(t *testing.T) {
	tr := New(fixedBar(1000))
	tr.SetCountinBars(2)
	tr.ResumeRoll()
	snap := tr.Snapshot()
	if snap.PlayState != RollRequested {
		t.Errorf("PlayState = %v, want roll_requested", snap.PlayState)
	}
	if snap.CountinRemaining != 0 {
		t.Errorf("CountinRemaining = %d, want 0", snap.CountinRemaining)
	}
}

// --- Count-in and preroll ---

func TestCountinThenPreroll(t *testing.T) {
	tr := New(fixedBar(1000))
	tr.SetCountinBars(2)
	tr.SetPrerollBars(1)
	tr.SetRecording(true)
	tr.RequestRoll()

	snap := tr.Snapshot()
	if snap.CountinRemaining != 2000 {
		t.Errorf("CountinRemaining = %d, want 2000", snap.CountinRemaining)
	}
	if snap.PrerollRemaining != 0 {
		t.Errorf("PrerollRemaining = %d, want 0 while counting in", snap.PrerollRemaining)
	}

	countin, preroll := tr.ConsumeMetronomeCountinSamples(1500)
	if countin != 500 || preroll != 0 {
		t.Errorf("after 1500: countin=%d preroll=%d, want 500/0", countin, preroll)
	}
	countin, preroll = tr.ConsumeMetronomeCountinSamples(500)
	if countin != 0 || preroll != 1000 {
		t.Errorf("after count-in: countin=%d preroll=%d, want 0/1000", countin, preroll)
	}
	if left := tr.ConsumeRecordingPrerollSamples(4000); left != 0 {
		t.Errorf("preroll overconsumed = %d, want clamp to 0", left)
	}
}

func TestPrerollWithoutCountin(t *testing.T) {
	tr := New(fixedBar(800))
	tr.SetPrerollBars(2)
	tr.SetRecording(true)
	tr.RequestRoll()
	if got := tr.Snapshot().PrerollRemaining; got != 1600 {
		t.Errorf("PrerollRemaining = %d, want 1600", got)
	}
}

func TestPrerollIgnoredWhenNotRecording(t *testing.T) {
	tr := New(fixedBar(800))
	tr.SetPrerollBars(2)
	tr.RequestRoll()
	if got := tr.Snapshot().PrerollRemaining; got != 0 {
		t.Errorf("PrerollRemaining = %d, want 0", got)
	}
}

func TestRequestPauseCancelsCountin(t *testing.T) {
	tr := New(fixedBar(1000))
	tr.SetCountinBars(1)
	tr.RequestRoll()
	tr.RequestPause()
	if got := tr.Snapshot().CountinRemaining; got != 0 {
		t.Errorf("CountinRemaining after pause = %d, want 0", got)
	}
}

// --- Playhead guard ---

func TestPlayheadGuardPublishesOnEnd(t *testing.T) {
	tr := New(nil)
	ph := tr.BeginProcessing()
	tr.AddToPlayheadInAudioThread(256)
	if tr.Position() != 0 {
		t.Errorf("Position visible mid-cycle = %d, want 0", tr.Position())
	}
	ph.EndProcessing()
	if tr.Position() != 256 {
		t.Errorf("Position after guard = %d, want 256", tr.Position())
	}
}

func TestSeekDuringCycleWins(t *testing.T) {
	tr := New(nil)
	tr.Seek(100)
	ph := tr.BeginProcessing()
	tr.AddToPlayheadInAudioThread(50)
	tr.Seek(5000)
	ph.EndProcessing()
	if tr.Position() != 5000 {
		t.Errorf("Position = %d, want the seek target 5000", tr.Position())
	}

	ph = tr.BeginProcessing()
	tr.AddToPlayheadInAudioThread(10)
	ph.EndProcessing()
	if tr.Position() != 5010 {
		t.Errorf("Position next cycle = %d, want 5010", tr.Position())
	}
}

func TestSeekBeforeCycleSnapshotIsRenderedOnce(t *testing.T) {
	tr := New(nil)
	tr.Seek(1000)

	// The seek lands after the guard opened but before the cycle reads its
	// snapshot: this cycle still renders from 1000.
	ph := tr.BeginProcessing()
	tr.Seek(50000)
	if got := tr.CycleSnapshot(ph).Playhead; got != 1000 {
		t.Fatalf("cycle 1 renders from %d, want 1000", got)
	}
	if got := tr.Snapshot().Playhead; got != 50000 {
		t.Errorf("observer snapshot = %d, want the seek target 50000", got)
	}
	tr.AddToPlayheadInAudioThread(512)
	ph.EndProcessing()

	starts := []int64{50000, 50512}
	for i, want := range starts {
		ph = tr.BeginProcessing()
		if got := tr.CycleSnapshot(ph).Playhead; got != want {
			t.Errorf("cycle %d renders from %d, want %d", i+2, got, want)
		}
		tr.AddToPlayheadInAudioThread(512)
		ph.EndProcessing()
	}
	if tr.Position() != 51024 {
		t.Errorf("Position = %d, want 51024", tr.Position())
	}
}

func TestSeekToPublishedValueDuringCycle(t *testing.T) {
	tr := New(nil)
	ph := tr.BeginProcessing()
	tr.AddToPlayheadInAudioThread(256)
	tr.Seek(0)
	ph.EndProcessing()

	ph = tr.BeginProcessing()
	if got := ph.Start(); got != 0 {
		t.Errorf("cycle after seek starts at %d, want 0", got)
	}
	ph.EndProcessing()
}

func TestPlayheadWrapsAtLoopEnd(t *testing.T) {
	tr := New(nil)
	tr.SetLoop(true, 1000, 2000)
	tr.Seek(1900)
	ph := tr.BeginProcessing()
	tr.AddToPlayheadInAudioThread(256)
	ph.EndProcessing()
	if tr.Position() != 1156 {
		t.Errorf("Position = %d, want 1156", tr.Position())
	}
}

func TestSetLoopRejectsEmptyRange(t *testing.T) {
	tr := New(nil)
	tr.SetLoop(true, 500, 500)
	if tr.LoopEnabled() {
		t.Error("empty loop range must disable looping")
	}
	tr.SetLoop(true, 0, 4000)
	tr.SetLoopEnabled(false)
	start, end := tr.LoopRangePositions()
	if tr.LoopEnabled() || start != 0 || end != 4000 {
		t.Errorf("SetLoopEnabled(false) changed range: %d-%d enabled=%v", start, end, tr.LoopEnabled())
	}
}

func TestPositionAfter(t *testing.T) {
	snap := Snapshot{LoopEnabled: true, LoopStart: 100, LoopEnd: 200}
	tests := []struct {
		start, frames, want int64
	}{
		{0, 50, 50},
		{150, 40, 190},
		{150, 50, 100},
		{150, 60, 110},
		{250, 10, 260},
	}
	for _, tt := range tests {
		if got := snap.PositionAfter(tt.start, tt.frames); got != tt.want {
			t.Errorf("PositionAfter(%d, %d) = %d, want %d", tt.start, tt.frames, got, tt.want)
		}
	}
}

func TestSnapshotConcurrentWithCycle(t *testing.T) {
	tr := New(nil)
	tr.SetPlayStateRTSafe(Rolling)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			ph := tr.BeginProcessing()
			tr.AddToPlayheadInAudioThread(64)
			ph.EndProcessing()
		}
	}()

	last := int64(0)
	for i := 0; i < 1000; i++ {
		pos := tr.Snapshot().Playhead
		if pos < last || pos%64 != 0 {
			t.Fatalf("observed torn or backwards playhead %d after %d", pos, last)
		}
		last = pos
	}
	wg.Wait()
	if tr.Position() != 64000 {
		t.Errorf("final Position = %d, want 64000", tr.Position())
	}
}
