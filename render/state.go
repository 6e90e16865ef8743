package render

// State is the observable position of a render session in the
// stabilization protocol. Transitions only move forward:
//
//	Loading → PagesRendering → Stable → Captured
//
// with Errored and TimedOut reachable from any non-terminal state.
type State int

const (
	// StateLoading: navigation in progress, harness not yet polled.
	StateLoading State = iota
	// StatePagesRendering: polling the completion marker.
	StatePagesRendering
	// StateStable: all pages rendered, dimensions committed, layout
	// settled. Capture may begin.
	StateStable
	// StateCaptured: at least one screenshot was taken.
	StateCaptured
	// StateErrored: the harness set its error marker.
	StateErrored
	// StateTimedOut: a poll exceeded its bound. Terminal, no retry.
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePagesRendering:
		return "pages-rendering"
	case StateStable:
		return "stable"
	case StateCaptured:
		return "captured"
	case StateErrored:
		return "errored"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible except
// Stable → Captured.
func (s State) Terminal() bool {
	return s == StateErrored || s == StateTimedOut
}
