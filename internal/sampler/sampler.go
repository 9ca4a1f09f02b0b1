package sampler

import "sync/atomic"

// MaxVoices is the size of the voice pool.
const MaxVoices = 64

type voice struct {
	active  bool
	started bool
	channel int
	data    []float32
	pos     int
	offset  int
	gain    float32
}

// Sampler mixes one-shot sample buffers into output channels at a
// sample-accurate offset. Voices survive across sub-ranges and cycles until
// their data is exhausted. All methods except Dropped are called from the
// audio thread.
type Sampler struct {
	voices  [MaxVoices]voice
	dropped atomic.Uint64
}

// New creates an empty sampler.
func New() *Sampler {
	return &Sampler{}
}

// Queue schedules data on channel, starting at offset within the current
// cycle. It reports false when every voice is busy.
func (s *Sampler) Queue(channel int, data []float32, offset int, gain float32) bool {
	if len(data) == 0 {
		return true
	}
	for i := range s.voices {
		v := &s.voices[i]
		if v.active {
			continue
		}
		*v = voice{
			active:  true,
			channel: channel,
			data:    data,
			offset:  offset,
			gain:    gain,
		}
		return true
	}
	s.dropped.Add(1)
	return false
}

// Process mixes active voices into out[ch][localOffset:localOffset+frames].
// A voice that has not started begins at its queued offset when that offset
// lies in this range; a started voice continues from localOffset.
func (s *Sampler) Process(out [][]float32, localOffset, frames int) {
	end := localOffset + frames
	for i := range s.voices {
		v := &s.voices[i]
		if !v.active {
			continue
		}
		if v.channel >= len(out) {
			v.active = false
			continue
		}
		from := localOffset
		if !v.started {
			if v.offset >= end {
				continue
			}
			if v.offset > from {
				from = v.offset
			}
			v.started = true
		}
		dst := out[v.channel]
		stop := min(end, len(dst))
		for j := from; j < stop && v.pos < len(v.data); j++ {
			dst[j] += v.data[v.pos] * v.gain
			v.pos++
		}
		if v.pos >= len(v.data) {
			v.active = false
		}
	}
}

// Panic silences every voice.
func (s *Sampler) Panic() {
	for i := range s.voices {
		s.voices[i] = voice{}
	}
}

// ActiveVoices returns the number of playing or pending voices.
func (s *Sampler) ActiveVoices() int {
	n := 0
	for i := range s.voices {
		if s.voices[i].active {
			n++
		}
	}
	return n
}

// Dropped is the number of queue requests refused because the pool was full.
// Safe from any goroutine.
func (s *Sampler) Dropped() uint64 { return s.dropped.Load() }
