package engine

// RouteState is how a route behaves during one latency-preroll sub-range.
type RouteState int

const (
	// RouteSilent routes stay silent for the whole sub-range.
	RouteSilent RouteState = iota
	// RoutePartial routes start rolling inside the sub-range, which must be
	// cut where they do.
	RoutePartial
	// RouteRolling routes roll for the whole sub-range.
	RouteRolling
)

func (s RouteState) String() string {
	switch s {
	case RouteSilent:
		return "silent"
	case RoutePartial:
		return "partial"
	case RouteRolling:
		return "rolling"
	default:
		return "unknown"
	}
}

// ClassifyRoute decides how a route with the given playback latency takes
// part in a preroll sub-range of frames, when remaining preroll frames are
// left before the roll point. It returns the sub-range length to use: frames
// for silent and rolling routes, the distance to the route's start for a
// partial one.
func ClassifyRoute(latency, remaining, frames int64) (RouteState, int64) {
	switch {
	case remaining > latency+frames:
		return RouteSilent, frames
	case remaining > latency:
		return RoutePartial, min(frames, remaining-latency)
	default:
		return RouteRolling, frames
	}
}

// prerollLength clamps a latency-preroll sub-range to the first point where
// any trigger node's route changes from silent to rolling.
func prerollLength(nodes []TriggerNode, remaining, frames int64) int64 {
	n := min(frames, remaining)
	for _, node := range nodes {
		if st, m := ClassifyRoute(node.RoutePlaybackLatency(), remaining, n); st == RoutePartial {
			n = m
		}
	}
	return n
}
