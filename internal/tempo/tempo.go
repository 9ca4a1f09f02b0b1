package tempo

import (
	"fmt"
	"math"
	"sync/atomic"
)

// PPQ is the number of ticks per quarter note.
const PPQ = 960

const (
	MinBPM = 20.0
	MaxBPM = 360.0
)

// Position is a musical position. Bar, Beat and Sixteenth are 1-based, Tick is
// the 0-based tick offset inside the sixteenth.
type Position struct {
	Bar       int
	Beat      int
	Sixteenth int
	Tick      int
}

// SameBeat reports whether a and b fall on the same bar and beat.
func (p Position) SameBeat(o Position) bool {
	return p.Bar == o.Bar && p.Beat == o.Beat
}

func (p Position) String() string {
	return fmt.Sprintf("%d.%d.%d.%03d", p.Bar, p.Beat, p.Sixteenth, p.Tick)
}

type params struct {
	sampleRate  int
	bpm         float64
	beatsPerBar int
	beatUnit    int

	ticksPerBeat      float64
	ticksPerSixteenth float64
	framesPerTick     float64
}

func newParams(sampleRate int, bpm float64, beatsPerBar, beatUnit int) *params {
	p := &params{
		sampleRate:  sampleRate,
		bpm:         bpm,
		beatsPerBar: beatsPerBar,
		beatUnit:    beatUnit,
	}
	p.ticksPerBeat = float64(PPQ) * 4 / float64(beatUnit)
	p.ticksPerSixteenth = float64(PPQ) / 4
	p.framesPerTick = float64(sampleRate) * 60 / (bpm * p.ticksPerBeat)
	return p
}

// Map is a constant-tempo map with a single time signature. Its parameters are
// immutable values swapped atomically, so every conversion is safe to call
// from the audio thread while the control thread changes tempo.
type Map struct {
	p atomic.Pointer[params]
}

// NewMap creates a tempo map. bpm counts beats of beatUnit.
func NewMap(sampleRate int, bpm float64, beatsPerBar, beatUnit int) (*Map, error) {
	if err := validate(sampleRate, bpm, beatsPerBar, beatUnit); err != nil {
		return nil, err
	}
	m := &Map{}
	m.p.Store(newParams(sampleRate, bpm, beatsPerBar, beatUnit))
	return m, nil
}

func validate(sampleRate int, bpm float64, beatsPerBar, beatUnit int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if bpm < MinBPM || bpm > MaxBPM {
		return fmt.Errorf("invalid tempo: %.2f (must be between %.0f and %.0f)", bpm, MinBPM, MaxBPM)
	}
	if beatsPerBar < 1 || beatsPerBar > 16 {
		return fmt.Errorf("invalid beats per bar: %d", beatsPerBar)
	}
	switch beatUnit {
	case 2, 4, 8, 16:
	default:
		return fmt.Errorf("invalid beat unit: %d", beatUnit)
	}
	return nil
}

// SetSampleRate re-derives the frame conversions for a new device rate.
func (m *Map) SetSampleRate(sampleRate int) error {
	p := m.p.Load()
	if err := validate(sampleRate, p.bpm, p.beatsPerBar, p.beatUnit); err != nil {
		return err
	}
	m.p.Store(newParams(sampleRate, p.bpm, p.beatsPerBar, p.beatUnit))
	return nil
}

// SetTempo changes the BPM.
func (m *Map) SetTempo(bpm float64) error {
	p := m.p.Load()
	if err := validate(p.sampleRate, bpm, p.beatsPerBar, p.beatUnit); err != nil {
		return err
	}
	m.p.Store(newParams(p.sampleRate, bpm, p.beatsPerBar, p.beatUnit))
	return nil
}

// SetTimeSignature changes beats per bar and beat unit.
func (m *Map) SetTimeSignature(beatsPerBar, beatUnit int) error {
	p := m.p.Load()
	if err := validate(p.sampleRate, p.bpm, beatsPerBar, beatUnit); err != nil {
		return err
	}
	m.p.Store(newParams(p.sampleRate, p.bpm, beatsPerBar, beatUnit))
	return nil
}

func (m *Map) SampleRate() int  { return m.p.Load().sampleRate }
func (m *Map) BPM() float64     { return m.p.Load().bpm }
func (m *Map) BeatsPerBar() int { return m.p.Load().beatsPerBar }
func (m *Map) BeatUnit() int    { return m.p.Load().beatUnit }

// SamplesToMusicalPosition converts an absolute sample position. Negative
// positions clamp to the start of the timeline. A position begins at the
// sample TickToSamplesRounded gives for its tick, so both directions share
// one grid.
func (m *Map) SamplesToMusicalPosition(sample int64) Position {
	p := m.p.Load()
	if sample < 0 {
		sample = 0
	}
	ticks := p.lastTickAtOrBefore(sample)

	tpb := int64(p.ticksPerBeat)
	tps := int64(p.ticksPerSixteenth)
	beats := ticks / tpb
	inBeat := ticks % tpb

	return Position{
		Bar:       int(beats/int64(p.beatsPerBar)) + 1,
		Beat:      int(beats%int64(p.beatsPerBar)) + 1,
		Sixteenth: int(inBeat/tps) + 1,
		Tick:      int(inBeat % tps),
	}
}

// MusicalPositionToTick returns the absolute tick of pos.
func (m *Map) MusicalPositionToTick(pos Position) float64 {
	p := m.p.Load()
	beats := float64((pos.Bar-1)*p.beatsPerBar + (pos.Beat - 1))
	return beats*p.ticksPerBeat + float64(pos.Sixteenth-1)*p.ticksPerSixteenth + float64(pos.Tick)
}

// TickToSamplesRounded converts an absolute tick to the nearest sample.
func (m *Map) TickToSamplesRounded(tick float64) int64 {
	return m.p.Load().tickToSamples(tick)
}

func (p *params) tickToSamples(tick float64) int64 {
	return int64(math.Round(tick * p.framesPerTick))
}

// lastTickAtOrBefore is the largest whole tick whose rounded sample is at
// most sample. The estimate is off by at most one tick either way.
func (p *params) lastTickAtOrBefore(sample int64) int64 {
	t := int64(math.Floor((float64(sample) + 0.5) / p.framesPerTick))
	for t > 0 && p.tickToSamples(float64(t)) > sample {
		t--
	}
	for p.tickToSamples(float64(t+1)) <= sample {
		t++
	}
	return t
}

// FramesPerBeat is the length of one beat in samples.
func (m *Map) FramesPerBeat() float64 {
	p := m.p.Load()
	return p.framesPerTick * p.ticksPerBeat
}

// FramesPerBar is the length of one bar in samples.
func (m *Map) FramesPerBar() float64 {
	p := m.p.Load()
	return p.framesPerTick * p.ticksPerBeat * float64(p.beatsPerBar)
}
