package graph

import "fmt"

// Vertex is a timestamped point in a worker's chain.  A vertex is identified by
// its worker and timestamp: two vertices of the same worker with the same
// timestamp are the same vertex.
type Vertex struct {
	WorkerID  WorkerID
	Timestamp int64
}

func (v Vertex) String() string {
	return fmt.Sprintf("[%d@%d]", v.WorkerID, v.Timestamp)
}

// Edge is a directed link between two vertices.
type Edge struct {
	From    Vertex
	To      Vertex
	Context EdgeContextState
	Label   string
}

// Duration is the time elapsed between both ends of the edge.
func (e Edge) Duration() int64 {
	return e.To.Timestamp - e.From.Timestamp
}

// IsHorizontal returns true if both ends belong to the same worker.
func (e Edge) IsHorizontal() bool {
	return e.From.WorkerID == e.To.WorkerID
}

func (e Edge) String() string {
	if e.Label != "" {
		return fmt.Sprintf("%s->%s %s %q", e.From, e.To, e.Context, e.Label)
	}
	return fmt.Sprintf("%s->%s %s", e.From, e.To, e.Context)
}

// Direction selects one of the four edge slots of a vertex.
type Direction uint8

const (
	OutgoingVertical Direction = iota
	IncomingVertical
	OutgoingHorizontal
	IncomingHorizontal
)

// Directions lists every direction, in slot order.
var Directions = []Direction{OutgoingVertical, IncomingVertical, OutgoingHorizontal, IncomingHorizontal}

func (d Direction) String() string {
	switch d {
	case OutgoingVertical:
		return "outgoing vertical"
	case IncomingVertical:
		return "incoming vertical"
	case OutgoingHorizontal:
		return "outgoing horizontal"
	case IncomingHorizontal:
		return "incoming horizontal"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Horizontal returns true for directions following a worker's chain.
func (d Direction) Horizontal() bool {
	return d == OutgoingHorizontal || d == IncomingHorizontal
}

// Outgoing returns true for directions leaving the vertex.
func (d Direction) Outgoing() bool {
	return d == OutgoingHorizontal || d == OutgoingVertical
}

// Reverse returns the direction of the same edge seen from its other end.
func (d Direction) Reverse() Direction {
	switch d {
	case OutgoingVertical:
		return IncomingVertical
	case IncomingVertical:
		return OutgoingVertical
	case OutgoingHorizontal:
		return IncomingHorizontal
	default:
		return OutgoingHorizontal
	}
}
