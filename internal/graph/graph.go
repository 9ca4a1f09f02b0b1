package graph

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/dawcore/internal/engine"
	"github.com/satindergrewal/dawcore/internal/midi"
	"github.com/satindergrewal/dawcore/internal/transport"
)

// ProcessContext is what a node sees for one sub-range. Out holds the whole
// cycle's monitor buffers; a node writes only [Time.LocalOffset, Time.End()).
type ProcessContext struct {
	Snapshot             *transport.Snapshot
	Time                 engine.ProcessTimeInfo
	RemainingPreroll     int64
	AllowPlayheadAdvance bool
	SampleRate           int
	Out                  [][]float32
	MIDI                 *midi.Buffer
}

// Node is one root of the processing graph.
type Node interface {
	Name() string
	PlaybackLatency() int64
	Process(ctx *ProcessContext)
}

// Panicker is implemented by nodes that keep sounding voices across
// cycles. Panic runs at the start of a cycle whose MIDI carries a panic,
// whether or not latency preroll keeps the node silent in that cycle.
type Panicker interface {
	Panic()
}

type route struct{ n Node }

func (r route) RoutePlaybackLatency() int64 { return r.n.PlaybackLatency() }

// plan is the immutable set of nodes the audio thread runs.
type plan struct {
	nodes      []Node
	triggers   []engine.TriggerNode
	maxLatency int64
}

// Graph is a flat dispatcher: every node is a trigger node and runs once per
// sub-range, in insertion order. Nodes whose route latency is smaller than
// the remaining latency preroll stay silent.
type Graph struct {
	mu       sync.Mutex
	nodes    []Node
	prepared *engine.PrepareInfo

	plan atomic.Pointer[plan]
	info atomic.Pointer[engine.PrepareInfo]
	ctx  ProcessContext // audio thread only
}

// New creates an empty graph.
func New() *Graph {
	g := &Graph{}
	g.plan.Store(&plan{})
	return g
}

// AddNode appends n. The change reaches the audio thread on RecalcGraph, so
// edit through Engine.ExecuteWithPausedProcessing with recalcGraph set.
func (g *Graph) AddNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cur := range g.nodes {
		if cur.Name() == n.Name() {
			return fmt.Errorf("graph: node %q already added", n.Name())
		}
	}
	g.nodes = append(g.nodes, n)
	return nil
}

// RemoveNode drops the node called name and reports whether it existed.
func (g *Graph) RemoveNode(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := slices.IndexFunc(g.nodes, func(n Node) bool { return n.Name() == name })
	if i < 0 {
		return false
	}
	g.nodes = slices.Delete(g.nodes, i, i+1)
	return true
}

// Node returns the node called name.
func (g *Graph) Node(name string) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		if n.Name() == name {
			return n, true
		}
	}
	return nil, false
}

// Names lists the nodes the audio thread currently runs.
func (g *Graph) Names() []string {
	p := g.plan.Load()
	names := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		names[i] = n.Name()
	}
	return names
}

// RecalcGraph publishes the edited node list with its latencies and
// prepares nodes added since the last stream start.
func (g *Graph) RecalcGraph() {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := &plan{
		nodes:    slices.Clone(g.nodes),
		triggers: make([]engine.TriggerNode, len(g.nodes)),
	}
	for i, n := range p.nodes {
		p.triggers[i] = route{n}
		p.maxLatency = max(p.maxLatency, n.PlaybackLatency())
		if g.prepared != nil {
			if pr, ok := n.(engine.Preparer); ok {
				pr.Prepare(*g.prepared)
			}
		}
	}
	g.plan.Store(p)
}

// Prepare records the stream and forwards it to every node that needs it.
func (g *Graph) Prepare(info engine.PrepareInfo) {
	g.mu.Lock()
	g.prepared = &info
	nodes := slices.Clone(g.nodes)
	g.mu.Unlock()

	for _, n := range nodes {
		if pr, ok := n.(engine.Preparer); ok {
			pr.Prepare(info)
		}
	}
	g.info.Store(&info)
}

func (g *Graph) MaxRoutePlaybackLatency() int64 { return g.plan.Load().maxLatency }

func (g *Graph) TriggerNodes() []engine.TriggerNode { return g.plan.Load().triggers }

func (g *Graph) StartCycle(snap *transport.Snapshot, ti engine.ProcessTimeInfo, remainingPreroll int64, allowPlayheadAdvance bool) {
	info := g.info.Load()
	if info == nil {
		return
	}
	ctx := &g.ctx
	*ctx = ProcessContext{
		Snapshot:             snap,
		Time:                 ti,
		RemainingPreroll:     remainingPreroll,
		AllowPlayheadAdvance: allowPlayheadAdvance,
		SampleRate:           info.SampleRate,
		Out:                  info.MonitorOut,
		MIDI:                 info.MIDI,
	}
	nodes := g.plan.Load().nodes
	if ti.LocalOffset == 0 && info.MIDI != nil && info.MIDI.HasPanic() {
		for _, n := range nodes {
			if p, ok := n.(Panicker); ok {
				p.Panic()
			}
		}
	}
	for _, n := range nodes {
		if remainingPreroll > n.PlaybackLatency() {
			continue
		}
		n.Process(ctx)
	}
}
