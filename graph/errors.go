package graph

import (
	"errors"
	"fmt"
)

// Construction errors.  They denote a bug in the graph builder and are
// returned wrapped in a *ConstructionError.
var (
	ErrOrder            = errors.New("vertex timestamp precedes the worker's latest vertex")
	ErrInvalidTimestamp = errors.New("vertex timestamp precedes the start of the graph")
	ErrSelfLink         = errors.New("vertex cannot be linked to itself")
	ErrTopology         = errors.New("edge direction does not match the workers of its vertices")
	ErrNotAdjacent      = errors.New("horizontal edge must join consecutive vertices of a worker")
	ErrEdgeExists       = errors.New("vertex already has an edge in this direction")
	ErrUnknownWorker    = errors.New("vertex belongs to a worker unknown to this graph")
	ErrEdgeTooLarge     = errors.New("edge is too large for the graph storage")
)

// Lifecycle and persistence errors.
var (
	ErrGraphClosed     = errors.New("graph is closed for construction")
	ErrNoSerializer    = errors.New("a worker serializer is required to persist a graph")
	ErrVersionMismatch = errors.New("graph file version does not match")
	ErrUnpairedFiles   = errors.New("graph file and worker file do not belong together")
	ErrUnavailable     = errors.New("graph is unavailable")
)

// ConstructionError describes a rejected construction call with the vertices
// involved.
type ConstructionError struct {
	Op     string
	Worker WorkerID
	From   *Vertex
	To     *Vertex
	Err    error
}

func (e *ConstructionError) Error() string {
	switch {
	case e.From != nil && e.To != nil:
		return fmt.Sprintf("%s %s -> %s (worker %d): %v", e.Op, e.From, e.To, e.Worker, e.Err)
	case e.To != nil:
		return fmt.Sprintf("%s %s (worker %d): %v", e.Op, e.To, e.Worker, e.Err)
	default:
		return fmt.Sprintf("%s (worker %d): %v", e.Op, e.Worker, e.Err)
	}
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func vertexError(op string, v Vertex, err error) error {
	return &ConstructionError{Op: op, Worker: v.WorkerID, To: &v, Err: err}
}

func edgeError(op string, from, to Vertex, err error) error {
	return &ConstructionError{Op: op, Worker: from.WorkerID, From: &from, To: &to, Err: err}
}
