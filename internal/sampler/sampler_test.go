package sampler

import (
	"sync"
	"testing"
)

func newOut(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}

func TestQueueStartsAtOffset(t *testing.T) {
	s := New()
	out := newOut(1, 8)
	s.Queue(0, []float32{1, 2, 3}, 5, 1)
	s.Process(out, 0, 8)

	want := []float32{0, 0, 0, 0, 0, 1, 2, 3}
	for i, v := range want {
		if out[0][i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out[0][i], v)
		}
	}
	if s.ActiveVoices() != 0 {
		t.Errorf("ActiveVoices = %d, want 0 after voice finished", s.ActiveVoices())
	}
}

func TestVoiceContinuesNextCycle(t *testing.T) {
	s := New()
	out := newOut(1, 4)
	s.Queue(0, []float32{1, 2, 3, 4, 5}, 2, 0.5)
	s.Process(out, 0, 4)
	if out[0][2] != 0.5 || out[0][3] != 1 {
		t.Errorf("first cycle = %v", out[0])
	}

	out = newOut(1, 4)
	s.Process(out, 0, 4)
	want := []float32{1.5, 2, 2.5, 0}
	for i, v := range want {
		if out[0][i] != v {
			t.Errorf("second cycle out[%d] = %v, want %v", i, out[0][i], v)
		}
	}
}

func TestPendingVoiceWaitsForItsSubrange(t *testing.T) {
	s := New()
	out := newOut(1, 8)
	s.Queue(0, []float32{1}, 6, 1)
	s.Process(out, 0, 4)
	if s.ActiveVoices() != 1 {
		t.Fatalf("voice consumed before its offset")
	}
	s.Process(out, 4, 4)
	if out[0][6] != 1 {
		t.Errorf("out[6] = %v, want 1", out[0][6])
	}
}

func TestMixesOverlappingVoices(t *testing.T) {
	s := New()
	out := newOut(2, 4)
	s.Queue(0, []float32{1, 1}, 0, 1)
	s.Queue(0, []float32{1, 1}, 1, 1)
	s.Queue(1, []float32{-1}, 3, 1)
	s.Process(out, 0, 4)
	if out[0][1] != 2 {
		t.Errorf("overlap = %v, want 2", out[0][1])
	}
	if out[1][3] != -1 {
		t.Errorf("channel 1 = %v, want -1", out[1][3])
	}
}

func TestPoolExhaustionAndPanic(t *testing.T) {
	s := New()
	data := make([]float32, 100)
	for i := 0; i < MaxVoices; i++ {
		if !s.Queue(0, data, 0, 1) {
			t.Fatalf("Queue %d failed", i)
		}
	}
	if s.Queue(0, data, 0, 1) {
		t.Error("Queue beyond pool should fail")
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped())
	}
	s.Panic()
	if s.ActiveVoices() != 0 {
		t.Errorf("ActiveVoices after Panic = %d", s.ActiveVoices())
	}
}

func TestVoiceOnMissingChannelIsDropped(t *testing.T) {
	s := New()
	s.Queue(3, []float32{1}, 0, 1)
	s.Process(newOut(2, 4), 0, 4)
	if s.ActiveVoices() != 0 {
		t.Errorf("voice for missing channel still active")
	}
}

func TestDroppedReadableWhileAudioThreadQueues(t *testing.T) {
	s := New()
	data := make([]float32, 1<<20)
	const extra = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out := newOut(1, 64)
		for i := 0; i < MaxVoices+extra; i++ {
			s.Queue(0, data, 0, 1)
			if i%16 == 0 {
				s.Process(out, 0, 64)
			}
		}
	}()

	var last uint64
	for i := 0; i < 1000; i++ {
		d := s.Dropped()
		if d < last {
			t.Fatalf("Dropped went backwards: %d after %d", d, last)
		}
		last = d
	}
	wg.Wait()
	if s.Dropped() != extra {
		t.Errorf("Dropped = %d, want %d", s.Dropped(), extra)
	}
}
