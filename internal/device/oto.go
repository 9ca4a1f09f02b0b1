package device

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoDevice plays through the system's default output using oto. oto pulls
// audio through Read, which is the device's real-time callback.
type OtoDevice struct {
	cfg Config
	ctx *oto.Context

	cb      atomic.Pointer[callbackRef] // lock-free for Read
	scratch [][]float32

	mu     sync.Mutex
	player *oto.Player
}

type callbackRef struct{ cb Callback }

// NewOto opens the oto context. oto allows one context per process.
func NewOto(cfg Config) (*OtoDevice, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("oto device %+v: %w", cfg, err)
	}
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(cfg.BufferSize) * time.Second / time.Duration(cfg.SampleRate),
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open oto context: %w", err)
	}
	<-ready

	return &OtoDevice{
		cfg:     cfg,
		ctx:     ctx,
		scratch: planar(cfg.Channels, cfg.BufferSize),
	}, nil
}

func (d *OtoDevice) Name() string        { return "oto" }
func (d *OtoDevice) SampleRate() int     { return d.cfg.SampleRate }
func (d *OtoDevice) BufferSize() int     { return d.cfg.BufferSize }
func (d *OtoDevice) InputChannels() int  { return 0 }
func (d *OtoDevice) OutputChannels() int { return d.cfg.Channels }

func (d *OtoDevice) Register(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		return ErrAlreadyRegistered
	}
	cb.AboutToStart(d)
	d.cb.Store(&callbackRef{cb: cb})

	d.player = d.ctx.NewPlayer(d)
	d.player.SetBufferSize(d.cfg.BufferSize * d.cfg.Channels * 4)
	d.player.Play()
	return nil
}

func (d *OtoDevice) Unregister() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return
	}
	if err := d.player.Close(); err != nil {
		log.Printf("oto: close player: %v", err)
	}
	d.player = nil

	ref := d.cb.Swap(nil)
	if ref != nil {
		ref.cb.Stopped()
	}
}

func (d *OtoDevice) Registered() bool {
	return d.cb.Load() != nil
}

// Read renders len(p)/(4*channels) frames. Called by oto on its own goroutine.
func (d *OtoDevice) Read(p []byte) (int, error) {
	ref := d.cb.Load()
	if ref == nil {
		clear(p)
		return len(p), nil
	}

	channels := d.cfg.Channels
	frames := len(p) / (4 * channels)
	if frames == 0 {
		clear(p)
		return len(p), nil
	}
	if len(d.scratch[0]) < frames {
		d.scratch = planar(channels, frames)
	}
	out := d.scratch
	for ch := range out {
		out[ch] = out[ch][:frames]
	}
	ref.cb.AudioCallback(nil, out, frames)

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint32(p[(i*channels+ch)*4:], math.Float32bits(out[ch][i]))
		}
	}
	for ch := range out {
		out[ch] = out[ch][:cap(out[ch])]
	}
	clear(p[frames*channels*4:])
	return len(p), nil
}
