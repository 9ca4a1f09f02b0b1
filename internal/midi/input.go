package midi

import (
	"fmt"
	"log"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Input hands live MIDI messages from a driver goroutine to the audio
// thread. The driver side never blocks: messages that do not fit are dropped.
type Input struct {
	ch chan gomidi.Message

	mu   sync.Mutex
	stop func()
	name string
}

// NewInput creates an input with room for capacity pending messages.
func NewInput(capacity int) *Input {
	if capacity <= 0 {
		capacity = BufferCapacity
	}
	return &Input{ch: make(chan gomidi.Message, capacity)}
}

// Open starts listening on the named input port. A MIDI driver must be
// registered by the binary (e.g. rtmididrv).
func (in *Input) Open(portName string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stop != nil {
		return fmt.Errorf("midi input already open on %s", in.name)
	}
	port, err := gomidi.FindInPort(portName)
	if err != nil {
		return fmt.Errorf("find midi port %q: %w", portName, err)
	}
	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, timestampms int32) {
		in.Push(msg)
	})
	if err != nil {
		return fmt.Errorf("listen on midi port %q: %w", portName, err)
	}
	in.stop = stop
	in.name = portName
	log.Printf("MIDI input listening on %s", portName)
	return nil
}

// Close stops listening. Safe to call when not open.
func (in *Input) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stop != nil {
		in.stop()
		in.stop = nil
		log.Printf("MIDI input %s closed", in.name)
	}
}

// Push queues a message. Returns false when the queue is full.
func (in *Input) Push(msg gomidi.Message) bool {
	select {
	case in.ch <- msg:
		return true
	default:
		return false
	}
}

// Drain moves pending messages into buf at offset 0 without blocking.
func (in *Input) Drain(buf *Buffer) {
	for {
		select {
		case msg := <-in.ch:
			if !buf.Append(0, msg) {
				return
			}
		default:
			return
		}
	}
}
