package device

import (
	"fmt"
	"sync"
	"time"
)

// Headless is a device without hardware. In paced mode it calls the
// callback from its own goroutine at the real-time rate of one buffer per
// buffer duration; in manual mode the caller drives cycles with Step.
type Headless struct {
	cfg    Config
	manual bool

	mu     sync.Mutex
	cb     Callback
	out    [][]float32
	stopCh chan struct{}
	done   chan struct{}
}

// NewHeadless creates a paced headless device.
func NewHeadless(cfg Config) (*Headless, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("headless device %+v: %w", cfg, err)
	}
	return &Headless{cfg: cfg, out: planar(cfg.Channels, cfg.BufferSize)}, nil
}

// NewManual creates a headless device that only runs cycles on Step.
func NewManual(cfg Config) (*Headless, error) {
	d, err := NewHeadless(cfg)
	if err != nil {
		return nil, err
	}
	d.manual = true
	return d, nil
}

func (d *Headless) Name() string {
	if d.manual {
		return "manual"
	}
	return "headless"
}

func (d *Headless) SampleRate() int     { return d.cfg.SampleRate }
func (d *Headless) BufferSize() int     { return d.cfg.BufferSize }
func (d *Headless) InputChannels() int  { return 0 }
func (d *Headless) OutputChannels() int { return d.cfg.Channels }

// Reconfigure changes the stream parameters. Takes effect on the next
// Register.
func (d *Headless) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.out = planar(cfg.Channels, cfg.BufferSize)
	return nil
}

func (d *Headless) Register(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cb != nil {
		return ErrAlreadyRegistered
	}
	d.cb = cb
	cb.AboutToStart(d)

	if !d.manual {
		d.stopCh = make(chan struct{})
		d.done = make(chan struct{})
		go d.run(cb, d.stopCh, d.done)
	}
	return nil
}

func (d *Headless) Unregister() {
	d.mu.Lock()
	cb := d.cb
	stopCh, done := d.stopCh, d.done
	d.cb = nil
	d.stopCh, d.done = nil, nil
	d.mu.Unlock()

	if cb == nil {
		return
	}
	if stopCh != nil {
		close(stopCh)
		<-done
	}
	cb.Stopped()
}

func (d *Headless) Registered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb != nil
}

// Step runs one cycle of frames on the calling goroutine and returns the
// output buffers, valid until the next Step. Returns nil when no callback is
// registered.
func (d *Headless) Step(frames int) [][]float32 {
	d.mu.Lock()
	cb := d.cb
	if frames > len(d.out[0]) {
		d.out = planar(d.cfg.Channels, frames)
	}
	out := d.out
	d.mu.Unlock()

	if cb == nil {
		return nil
	}
	view := make([][]float32, len(out))
	for i := range out {
		view[i] = out[i][:frames]
	}
	cb.AudioCallback(nil, view, frames)
	return view
}

func (d *Headless) run(cb Callback, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	period := time.Duration(d.cfg.BufferSize) * time.Second / time.Duration(d.cfg.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	out := planar(d.cfg.Channels, d.cfg.BufferSize)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			cb.AudioCallback(nil, out, d.cfg.BufferSize)
		}
	}
}
