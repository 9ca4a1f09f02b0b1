package device

import "errors"

var (
	ErrAlreadyRegistered = errors.New("device: callback already registered")
	ErrInvalidConfig     = errors.New("device: invalid configuration")
)

// Callback is implemented by the engine. AudioCallback runs on the device's
// real-time goroutine; AboutToStart and Stopped run on a goroutine owned by
// the device and follow the same non-blocking discipline.
type Callback interface {
	AudioCallback(in, out [][]float32, frames int)
	AboutToStart(d Device)
	Stopped()
}

// Device is an audio output (and optionally input) the engine registers
// its callback with.
type Device interface {
	Name() string
	SampleRate() int
	BufferSize() int
	InputChannels() int
	OutputChannels() int
	Register(cb Callback) error
	Unregister()
	Registered() bool
}

// Config describes the stream a device should open.
type Config struct {
	SampleRate int
	BufferSize int
	Channels   int
}

func (c Config) validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 384000 {
		return ErrInvalidConfig
	}
	if c.BufferSize < 1 || c.BufferSize > 16384 {
		return ErrInvalidConfig
	}
	if c.Channels < 1 || c.Channels > 32 {
		return ErrInvalidConfig
	}
	return nil
}

func planar(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}
