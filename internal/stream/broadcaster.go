package stream

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
)

// ListenerBuffer is how many monitor frames (about three seconds) a listener
// may fall behind before frames are dropped for it.
const ListenerBuffer = 150

// The tap reuses a ring slot once it has queued tapRing newer frames. Run
// copies a frame out of its slot before the tap can queue more than tapQueue
// after it, so the ring must cover the queue, the frame Run is copying and
// the frame the tap is writing. This fails to compile when it does not.
const _ = uint(tapRing - tapQueue - 2)

// ErrUnsubscribed is returned by Listener.Next once the listener is removed.
var ErrUnsubscribed = errors.New("stream: listener unsubscribed")

// Listener is one consumer of the monitor feed. The frames it receives are
// copies it owns; nothing else writes to them.
type Listener struct {
	frames chan []int16
	done   chan struct{}
	once   sync.Once

	received atomic.Uint64
	dropped  atomic.Uint64
}

// Next blocks until the next frame arrives, the listener is unsubscribed or
// ctx ends.
func (l *Listener) Next(ctx context.Context) ([]int16, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrUnsubscribed
	case f := <-l.frames:
		l.received.Add(1)
		return f, nil
	}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Received is the number of frames returned by Next.
func (l *Listener) Received() uint64 { return l.received.Load() }

// Dropped is the number of frames skipped because the listener was behind.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// Pending is the number of frames queued and not yet read.
func (l *Listener) Pending() int { return len(l.frames) }

// Stats summarizes the monitor feed.
type Stats struct {
	Listeners int    `json:"listeners"`
	Frames    uint64 `json:"frames"`
	Dropped   uint64 `json:"dropped"` // over all listeners, past and present
}

// Broadcaster fans the tap's monitor frames out to any number of listeners.
// The listener set is an immutable slice swapped on every edit, so Run never
// takes a lock.
type Broadcaster struct {
	mu        sync.Mutex // serializes Subscribe and Unsubscribe
	listeners atomic.Pointer[[]*Listener]

	frames  atomic.Uint64
	dropped atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{}
	b.listeners.Store(&[]*Listener{})
	return b
}

// Subscribe adds a listener. It receives frames published after this call.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		frames: make(chan []int16, ListenerBuffer),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := append(slices.Clone(*b.listeners.Load()), l)
	b.listeners.Store(&next)
	return l
}

// Unsubscribe removes l and releases a Next blocked on it. Removing a
// listener twice does nothing.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	cur := *b.listeners.Load()
	if i := slices.Index(cur, l); i >= 0 {
		next := slices.Delete(slices.Clone(cur), i, i+1)
		b.listeners.Store(&next)
	}
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

func (b *Broadcaster) ListenerCount() int { return len(*b.listeners.Load()) }

// Frames is the number of frames fanned out so far.
func (b *Broadcaster) Frames() uint64 { return b.frames.Load() }

func (b *Broadcaster) Stats() Stats {
	return Stats{
		Listeners: b.ListenerCount(),
		Frames:    b.frames.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Run fans out frames from source, normally Tap.Frames, until ctx ends or
// source is closed. Each frame is copied out of the tap's ring first, which
// releases the slot however long listeners keep their copy.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.publish(slices.Clone(frame))
		}
	}
}

// publish hands frame to every listener without blocking; a listener with
// a full queue loses it. Frames counts the frame once every listener has
// been offered it.
func (b *Broadcaster) publish(frame []int16) {
	for _, l := range *b.listeners.Load() {
		select {
		case l.frames <- frame:
		default:
			l.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
	b.frames.Add(1)
}
