package transport

// Snapshot is a per-cycle copy of the transport. The audio thread decides
// every sub-range from it instead of reading the live transport.
type Snapshot struct {
	PlayState PlayState
	Playhead  int64

	LoopEnabled bool
	LoopStart   int64
	LoopEnd     int64

	CountinRemaining int64
	PrerollRemaining int64
}

// IsRolling reports whether the snapshot was taken while rolling.
func (s *Snapshot) IsRolling() bool { return s.PlayState == Rolling }

// PositionAfter returns where a playhead at start lands after frames, taking
// the loop into account.
func (s *Snapshot) PositionAfter(start, frames int64) int64 {
	return advance(start, frames, LoopRange{Enabled: s.LoopEnabled, Start: s.LoopStart, End: s.LoopEnd})
}

func advance(pos, frames int64, loop LoopRange) int64 {
	next := pos + frames
	if loop.Enabled && loop.End > loop.Start && pos < loop.End && next >= loop.End {
		next = loop.Start + (next-loop.End)%(loop.End-loop.Start)
	}
	return next
}
