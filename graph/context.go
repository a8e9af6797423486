package graph

import "fmt"

// EdgeState summarizes what an edge means for the worker at its origin.
type EdgeState uint8

const (
	// StatePass means the worker was doing something worth following.
	StatePass EdgeState = iota
	// StateBlock means the worker was blocked waiting on something else.
	StateBlock
	StateUnknown
)

func (s EdgeState) String() string {
	switch s {
	case StatePass:
		return "pass"
	case StateBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Style is a rendering hint attached to an edge context.
type Style struct {
	Name    string
	Group   string
	R, G, B uint8
	Height  float32
}

// HexColor returns the style color as "#rrggbb".
func (s Style) HexColor() string {
	return fmt.Sprintf("#%02x%02x%02x", s.R, s.G, s.B)
}

// EdgeContextState is the semantics of an edge.  Persisting backends store only
// Code() and rebuild the context through a ContextDecoder when reopened.
type EdgeContextState interface {
	// Code is a stable integer discriminant for the context.
	Code() int
	EdgeState() EdgeState
	// Matchable returns true if edges of this context can be matched across
	// traces, e.g., network exchanges.
	Matchable() bool
	Styles() Style
	String() string
}

// ContextDecoder rebuilds an edge context from its persisted code.
type ContextDecoder func(code int) (EdgeContextState, error)

// OSEdgeContext is the set of edge contexts for operating system execution.
type OSEdgeContext int

const (
	OSNoEdge OSEdgeContext = iota
	OSEpsilon
	OSUnknown
	OSDefault
	OSRunning
	OSBlocked
	OSInterrupted
	OSPreempted
	OSTimer
	OSNetwork
	OSUserInput
	OSBlockDevice
	OSIPI
	numOSContexts
)

var osContextNames = [...]string{
	OSNoEdge:      "NO_EDGE",
	OSEpsilon:     "EPS",
	OSUnknown:     "UNKNOWN",
	OSDefault:     "DEFAULT",
	OSRunning:     "RUNNING",
	OSBlocked:     "BLOCKED",
	OSInterrupted: "INTERRUPTED",
	OSPreempted:   "PREEMPTED",
	OSTimer:       "TIMER",
	OSNetwork:     "NETWORK",
	OSUserInput:   "USER_INPUT",
	OSBlockDevice: "BLOCK_DEVICE",
	OSIPI:         "IPI",
}

var osContextStyles = [...]Style{
	OSNoEdge:      {Name: "Unknown", Group: "Blocked", R: 0x40, G: 0x3b, B: 0x33, Height: 1},
	OSEpsilon:     {Name: "Unknown", Group: "Blocked", R: 0x40, G: 0x3b, B: 0x33, Height: 1},
	OSUnknown:     {Name: "Unknown", Group: "Blocked", R: 0x40, G: 0x3b, B: 0x33, Height: 1},
	OSDefault:     {Name: "Unknown", Group: "Blocked", R: 0x40, G: 0x3b, B: 0x33, Height: 1},
	OSRunning:     {Name: "Running", Group: "Running", R: 0x33, G: 0x99, B: 0x00, Height: 1},
	OSBlocked:     {Name: "Blocked", Group: "Blocked", R: 220, G: 20, B: 60, Height: 1},
	OSInterrupted: {Name: "Interrupted", Group: "Blocked", R: 0xff, G: 0xdc, B: 0x00, Height: 1},
	OSPreempted:   {Name: "Preempted", Group: "Blocked", R: 0xc8, G: 0x64, B: 0x00, Height: 1},
	OSTimer:       {Name: "Timer", Group: "Blocked", R: 0x33, G: 0x66, B: 0x99, Height: 1},
	OSNetwork:     {Name: "Network", Group: "Blocked", R: 0xff, G: 0x9b, B: 0xff, Height: 1},
	OSUserInput:   {Name: "User input", Group: "Blocked", R: 0x5a, G: 0x01, B: 0x01, Height: 1},
	OSBlockDevice: {Name: "Block device", Group: "Blocked", R: 0x66, G: 0x00, B: 0xcc, Height: 1},
	OSIPI:         {Name: "IPI", Group: "Blocked", R: 0x66, G: 0x66, B: 0xcc, Height: 1},
}

func (c OSEdgeContext) valid() bool {
	return c >= 0 && c < numOSContexts
}

func (c OSEdgeContext) Code() int { return int(c) }

func (c OSEdgeContext) EdgeState() EdgeState {
	switch c {
	case OSIPI, OSUserInput, OSBlockDevice, OSTimer, OSInterrupted, OSPreempted, OSRunning, OSUnknown, OSNoEdge:
		return StatePass
	case OSNetwork, OSBlocked:
		return StateBlock
	default:
		return StateUnknown
	}
}

func (c OSEdgeContext) Matchable() bool { return c == OSNetwork }

// Styles returns the rendering hint of the context.  Unknown values use the
// style of OSDefault.
func (c OSEdgeContext) Styles() Style {
	if !c.valid() {
		return osContextStyles[OSDefault]
	}
	return osContextStyles[c]
}

func (c OSEdgeContext) String() string {
	if !c.valid() {
		return fmt.Sprintf("OSEdgeContext(%d)", int(c))
	}
	return osContextNames[c]
}

// DecodeOSEdgeContext is the ContextDecoder for OSEdgeContext codes.
func DecodeOSEdgeContext(code int) (EdgeContextState, error) {
	c := OSEdgeContext(code)
	if !c.valid() {
		return nil, fmt.Errorf("unknown OS edge context code %d", code)
	}
	return c, nil
}
