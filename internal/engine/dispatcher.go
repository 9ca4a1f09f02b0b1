package engine

import (
	"github.com/satindergrewal/dawcore/internal/midi"
	"github.com/satindergrewal/dawcore/internal/transport"
)

// Dispatcher runs the processing graph for one sub-range of a cycle.
// Everything except RecalcGraph is called from the audio thread.
type Dispatcher interface {
	StartCycle(snap *transport.Snapshot, ti ProcessTimeInfo, remainingPreroll int64, allowPlayheadAdvance bool)
	MaxRoutePlaybackLatency() int64
	// TriggerNodes must not allocate; the slice is only replaced while
	// processing is paused.
	TriggerNodes() []TriggerNode
	RecalcGraph()
}

// TriggerNode is a graph root whose route latency drives preroll splitting.
type TriggerNode interface {
	RoutePlaybackLatency() int64
}

// Preparer is implemented by dispatchers that allocate per-stream state.
// Prepare is called from the device's start notification.
type Preparer interface {
	Prepare(info PrepareInfo)
}

// PrepareInfo describes the buffers one prepared stream uses. MonitorOut
// and MIDI are owned by the engine and cleared at the start of every cycle.
type PrepareInfo struct {
	SampleRate int
	MaxFrames  int
	MonitorOut [][]float32
	MIDI       *midi.Buffer
}
