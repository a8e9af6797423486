package graph

import "iter"

// Reader holds the queries available on any graph, finished or not.  Queries
// never fail: a backend that cannot read its storage logs the error and answers
// as if the requested element did not exist.
type Reader interface {
	// EdgeFrom returns the edge in the given direction of v, or nil.
	EdgeFrom(v Vertex, dir Direction) *Edge

	IsVertexInGraph(v Vertex) bool

	// NodesOf returns the vertices of a worker in chronological order.  The
	// sequence is evaluated lazily and can be iterated several times.
	NodesOf(w Worker) iter.Seq[Vertex]

	// Head returns the first vertex of a worker.
	Head(w Worker) (Vertex, bool)

	// HeadOf returns the first vertex of the segment holding v, i.e., the vertex
	// reached by following incoming horizontal edges back from v.
	HeadOf(v Vertex) Vertex

	// FirstHead returns the head of the first worker added to the graph.
	FirstHead() (Vertex, bool)

	// Tail returns the latest vertex of a worker.
	Tail(w Worker) (Vertex, bool)

	// ParentOf returns the worker owning v.
	ParentOf(v Vertex) (Worker, bool)

	// Workers returns the workers having at least one vertex, in the order they
	// were first seen.
	Workers() []Worker

	// VertexAt returns the vertex of w at ts or, if there is none, the first
	// vertex after ts.
	VertexAt(w Worker, ts int64) (Vertex, bool)

	StartTime() int64

	// EndTime is the time given to CloseGraph, or the latest timestamp added
	// so far while the graph is being built.
	EndTime() int64

	IsDoneBuilding() bool
}

// Graph is an execution graph under construction.  Construction calls must come
// from a single goroutine while queries may run concurrently from others.
type Graph interface {
	Reader

	// CreateVertex returns the vertex of w at ts.  The vertex is not part of the
	// graph until added.
	CreateVertex(w Worker, ts int64) Vertex

	// Add makes v the latest vertex of its worker without linking it.
	Add(v Vertex) error

	// Append makes v the latest vertex of its worker and links the previous
	// latest vertex to it with a horizontal edge.  The context defaults to
	// OSDefault.  No edge is returned for the first vertex of a worker.
	Append(v Vertex, opts ...EdgeOption) (*Edge, error)

	// Edge links two consecutive vertices of a worker, adding either one if it
	// is not yet in the graph.
	Edge(from, to Vertex, opts ...EdgeOption) (*Edge, error)

	// EdgeVertical links vertices of two different workers, adding either one if
	// it is not yet in the graph.
	EdgeVertical(from, to Vertex, ctx EdgeContextState, opts ...EdgeOption) (*Edge, error)

	// CloseGraph ends construction, persisting whatever remains.  Further
	// construction calls fail with ErrGraphClosed.  The returned Reader stays
	// valid until Close.
	CloseGraph(end int64) (Reader, error)

	// Close releases the resources held by the graph.  Backing files of a graph
	// that was never closed with CloseGraph are removed.
	Close() error
}

// EdgeOption sets optional attributes of a new edge.
type EdgeOption func(*edgeOptions)

type edgeOptions struct {
	context EdgeContextState
	label   string
}

// WithContext sets the context of a new edge.
func WithContext(c EdgeContextState) EdgeOption {
	return func(o *edgeOptions) { o.context = c }
}

// WithLabel sets the label of a new edge.
func WithLabel(label string) EdgeOption {
	return func(o *edgeOptions) { o.label = label }
}

func newEdge(from, to Vertex, ctx EdgeContextState, opts []EdgeOption) Edge {
	o := edgeOptions{context: ctx}
	for _, opt := range opts {
		opt(&o)
	}
	if o.context == nil {
		o.context = OSDefault
	}
	return Edge{From: from, To: to, Context: o.context, Label: o.label}
}

type readOnly struct {
	Reader
}

// ReadOnly returns a view of r without its construction methods.
func ReadOnly(r Reader) Reader {
	if ro, ok := r.(readOnly); ok {
		return ro
	}
	return readOnly{r}
}
