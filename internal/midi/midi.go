package midi

import (
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// BufferCapacity is the number of events one cycle can carry.
const BufferCapacity = 256

const (
	ccAllSoundOff = 120
	ccAllNotesOff = 123
)

// Event is a MIDI message at a sample offset inside the current cycle.
type Event struct {
	Offset int
	Msg    gomidi.Message
}

// Buffer is a fixed-capacity, per-cycle event buffer written only by the
// audio thread. Dropped may be read from any goroutine.
type Buffer struct {
	events  [BufferCapacity]Event
	n       int
	dropped atomic.Uint64
}

// Append adds an event. It reports false and counts a drop when full.
func (b *Buffer) Append(offset int, msg gomidi.Message) bool {
	if b.n == len(b.events) {
		b.dropped.Add(1)
		return false
	}
	b.events[b.n] = Event{Offset: offset, Msg: msg}
	b.n++
	return true
}

// Clear empties the buffer without releasing its storage.
func (b *Buffer) Clear() {
	for i := 0; i < b.n; i++ {
		b.events[i] = Event{}
	}
	b.n = 0
}

// Events returns the events of the current cycle.
func (b *Buffer) Events() []Event { return b.events[:b.n] }

func (b *Buffer) Len() int { return b.n }

// Dropped is the number of events that did not fit since the buffer was created.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// AppendPanic adds all-sound-off and all-notes-off for every channel at
// offset 0.
func (b *Buffer) AppendPanic() {
	for _, msg := range panicMessages {
		b.Append(0, msg)
	}
}

// HasPanic reports whether the buffer contains an all-notes-off or
// all-sound-off message.
func (b *Buffer) HasPanic() bool {
	for _, ev := range b.Events() {
		if IsPanic(ev.Msg) {
			return true
		}
	}
	return false
}

// IsPanic reports whether msg silences a channel.
func IsPanic(msg gomidi.Message) bool {
	var ch, cc, val uint8
	if !msg.GetControlChange(&ch, &cc, &val) {
		return false
	}
	return cc == ccAllNotesOff || cc == ccAllSoundOff
}

var panicMessages = buildPanicMessages()

func buildPanicMessages() []gomidi.Message {
	msgs := make([]gomidi.Message, 0, 32)
	for ch := uint8(0); ch < 16; ch++ {
		msgs = append(msgs,
			gomidi.ControlChange(ch, ccAllSoundOff, 0),
			gomidi.ControlChange(ch, ccAllNotesOff, 0),
		)
	}
	return msgs
}

// PanicMessages returns the messages of a panic broadcast.
func PanicMessages() []gomidi.Message {
	out := make([]gomidi.Message, len(panicMessages))
	copy(out, panicMessages)
	return out
}
