package engine

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/dawcore/internal/device"
	"github.com/satindergrewal/dawcore/internal/midi"
	"github.com/satindergrewal/dawcore/internal/tempo"
	"github.com/satindergrewal/dawcore/internal/transport"
)

var (
	ErrNotInitialized = errors.New("engine: no dispatcher set")
	ErrAlreadyActive  = errors.New("engine: already active")
	ErrActive         = errors.New("engine: cannot change while active")
)

// State is the engine lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initialized
	Active
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Config holds the control-thread timing of the engine.
type Config struct {
	Fadeout          time.Duration // monitor fade before a pause
	FadeoutTimeout   time.Duration // give up on the fade after this
	PauseWaitTimeout time.Duration // give up waiting for the audio thread to pause
	PollInterval     time.Duration
}

// DefaultConfig returns the timings used when a field is zero.
func DefaultConfig() Config {
	return Config{
		Fadeout:          20 * time.Millisecond,
		FadeoutTimeout:   200 * time.Millisecond,
		PauseWaitTimeout: 2 * time.Second,
		PollInterval:     time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Fadeout <= 0 {
		c.Fadeout = d.Fadeout
	}
	if c.FadeoutTimeout <= 0 {
		c.FadeoutTimeout = d.FadeoutTimeout
	}
	if c.PauseWaitTimeout <= 0 {
		c.PauseWaitTimeout = d.PauseWaitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// MonitorTap receives every hardware buffer after the engine has written
// it. Write runs on the audio thread and must not block.
type MonitorTap interface {
	Write(out [][]float32, frames int)
}

type tapRef struct{ t MonitorTap }

// Engine drives one device: it splits every device buffer into sub-ranges
// of uniform transport state and dispatches them to the graph, and it
// coordinates pausing from the control thread.
type Engine struct {
	id        uuid.UUID
	cfg       Config
	dev       device.Device
	transport *transport.Transport
	tempo     *tempo.Map

	mu         sync.Mutex // lifecycle, control thread only
	state      State
	dispatcher Dispatcher
	midiIn     *midi.Input

	ctl       sync.Mutex // serialises pause/resume pairs; taken before mu
	suspended *PauseState

	run            atomic.Bool
	panicPending   atomic.Bool
	ticket         *ticket
	cycle          atomic.Pointer[cycleState]
	load           atomic.Pointer[LoadMeter]
	tap            atomic.Pointer[tapRef]
	fader          fader
	latencyPreroll atomic.Int64
	skipped        atomic.Uint64
}

// New creates an uninitialized engine for dev.
func New(cfg Config, dev device.Device, tr *transport.Transport, tm *tempo.Map) *Engine {
	return &Engine{
		id:        uuid.New(),
		cfg:       cfg.withDefaults(),
		dev:       dev,
		transport: tr,
		tempo:     tm,
		ticket:    newTicket(),
	}
}

func (e *Engine) ID() uuid.UUID { return e.id }

func (e *Engine) Transport() *transport.Transport { return e.transport }

func (e *Engine) Tempo() *tempo.Map { return e.tempo }

func (e *Engine) Device() device.Device { return e.dev }

// Initialize sets the graph dispatcher. It may not be called while active;
// use ExecuteWithPausedProcessing to change the graph of a running engine.
func (e *Engine) Initialize(d Dispatcher) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Active {
		return ErrActive
	}
	e.dispatcher = d
	if d == nil {
		e.state = Uninitialized
		return nil
	}
	e.state = Initialized
	return nil
}

// SetMIDIInput attaches a live MIDI input drained at the start of every
// cycle. Must be called before Activate.
func (e *Engine) SetMIDIInput(in *midi.Input) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Active {
		return ErrActive
	}
	e.midiIn = in
	return nil
}

// SetMonitorTap installs (or with nil removes) the monitor tap.
func (e *Engine) SetMonitorTap(t MonitorTap) {
	if t == nil {
		e.tap.Store(nil)
		return
	}
	e.tap.Store(&tapRef{t: t})
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Activate allocates the load meter and registers the engine with the
// device. Cycles run as soon as the device starts calling back.
func (e *Engine) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Uninitialized:
		return ErrNotInitialized
	case Active:
		return ErrAlreadyActive
	}

	e.load.Store(newLoadMeter())
	e.fader.reset()
	e.run.Store(true)
	if err := e.dev.Register(e); err != nil {
		e.run.Store(false)
		e.load.Store(nil)
		return fmt.Errorf("register with %s device: %w", e.dev.Name(), err)
	}
	e.state = Active
	log.Printf("Engine %s active on %s device (%d Hz, %d frames)",
		e.shortID(), e.dev.Name(), e.dev.SampleRate(), e.dev.BufferSize())
	return nil
}

// Deactivate pauses and drains processing, then unregisters from the
// device. It returns once the audio thread is idle. Deactivating an
// inactive engine does nothing.
func (e *Engine) Deactivate() {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Active {
		return
	}
	e.WaitForPause(false, true)
	e.suspended = nil

	e.dev.Unregister()
	e.load.Store(nil)
	e.state = Initialized
	log.Printf("Engine %s deactivated (%d skipped cycles)", e.shortID(), e.skipped.Load())
}

// Load returns the DSP load meter, or nil while inactive.
func (e *Engine) Load() *LoadMeter { return e.load.Load() }

// SkippedCycles counts cycles refused because the ticket was held.
func (e *Engine) SkippedCycles() uint64 { return e.skipped.Load() }

// TicketHeld reports how many holders the processing ticket has (0 or 1).
func (e *Engine) TicketHeld() int32 { return e.ticket.held.Load() }

// Running reports whether cycles are admitted.
func (e *Engine) Running() bool { return e.run.Load() }

// RemainingLatencyPreroll is the latency preroll left before the roll point.
func (e *Engine) RemainingLatencyPreroll() int64 { return e.latencyPreroll.Load() }

// Panic queues all-notes-off on every channel for the next cycle.
func (e *Engine) Panic() { e.panicPending.Store(true) }

// Status is a point-in-time view of the engine for reporting.
type Status struct {
	ID             string  `json:"id"`
	State          string  `json:"state"`
	Device         string  `json:"device"`
	Running        bool    `json:"running"`
	Suspended      bool    `json:"suspended"`
	PlayState      string  `json:"play_state"`
	Playhead       int64   `json:"playhead"`
	Position       string  `json:"position"`
	LoopEnabled    bool    `json:"loop_enabled"`
	LoopStart      int64   `json:"loop_start"`
	LoopEnd        int64   `json:"loop_end"`
	Countin        int64   `json:"countin_remaining"`
	Preroll        int64   `json:"preroll_remaining"`
	LatencyPreroll int64   `json:"latency_preroll_remaining"`
	SampleRate     int     `json:"sample_rate"`
	BufferSize     int     `json:"buffer_size"`
	BPM            float64 `json:"bpm"`
	LoadAverage    float64 `json:"load_average"`
	LoadPeak       float64 `json:"load_peak"`
	SkippedCycles  uint64  `json:"skipped_cycles"`
	MIDIDropped    uint64  `json:"midi_dropped"`
}

func (e *Engine) Status() Status {
	snap := e.transport.Snapshot()
	st := Status{
		ID:             e.id.String(),
		State:          e.State().String(),
		Device:         e.dev.Name(),
		Running:        e.run.Load(),
		PlayState:      snap.PlayState.String(),
		Playhead:       snap.Playhead,
		Position:       e.tempo.SamplesToMusicalPosition(snap.Playhead).String(),
		LoopEnabled:    snap.LoopEnabled,
		LoopStart:      snap.LoopStart,
		LoopEnd:        snap.LoopEnd,
		Countin:        snap.CountinRemaining,
		Preroll:        snap.PrerollRemaining,
		LatencyPreroll: e.latencyPreroll.Load(),
		SampleRate:     e.dev.SampleRate(),
		BufferSize:     e.dev.BufferSize(),
		BPM:            e.tempo.BPM(),
		SkippedCycles:  e.skipped.Load(),
	}
	e.ctl.Lock()
	st.Suspended = e.suspended != nil
	e.ctl.Unlock()
	if cs := e.cycle.Load(); cs != nil {
		st.MIDIDropped = cs.midi.Dropped()
	}
	if lm := e.load.Load(); lm != nil {
		st.LoadAverage = lm.Average()
		st.LoadPeak = lm.Peak()
	}
	return st
}

func (e *Engine) shortID() string { return e.id.String()[:8] }
