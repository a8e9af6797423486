package graph

import (
	"container/heap"
	"context"
)

// Visitor receives the elements of a graph walked by ScanLineTraverse.
type Visitor interface {
	// VisitHead is called once for the first vertex of every segment reached.
	VisitHead(v Vertex)
	VisitVertex(v Vertex)
	// VisitEdge is called once for every edge followed.
	VisitEdge(e Edge, horizontal bool)
}

// VisitorFuncs adapts plain functions to a Visitor.  Nil functions are skipped.
type VisitorFuncs struct {
	Head   func(Vertex)
	Vertex func(Vertex)
	Edge   func(Edge, bool)
}

func (f VisitorFuncs) VisitHead(v Vertex) {
	if f.Head != nil {
		f.Head(v)
	}
}

func (f VisitorFuncs) VisitVertex(v Vertex) {
	if f.Vertex != nil {
		f.Vertex(v)
	}
}

func (f VisitorFuncs) VisitEdge(e Edge, horizontal bool) {
	if f.Edge != nil {
		f.Edge(e, horizontal)
	}
}

// cursor is the position reached in one segment.
type cursor struct {
	v    Vertex
	head bool
}

// frontier orders cursors by timestamp, then worker.
type frontier []cursor

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].v.Timestamp != f[j].v.Timestamp {
		return f[i].v.Timestamp < f[j].v.Timestamp
	}
	return f[i].v.WorkerID < f[j].v.WorkerID
}
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(cursor)) }
func (f *frontier) Pop() interface{} {
	old := *f
	c := old[len(old)-1]
	*f = old[:len(old)-1]
	return c
}

// ScanLineTraverse sweeps through time over every segment connected to start
// by vertical edges.  The segment holding start is entered at its head and a
// segment joins the sweep, also at its head, when a vertical edge from or to
// one of its vertices is reached.  Vertices are visited in timestamp order
// across the active segments.  Each vertex, segment head and edge is visited
// once; vertical edges are visited from their origin.
//
// The context is checked before each vertex.  On cancellation the visitor has
// seen a prefix of the walk and the context error is returned.
func ScanLineTraverse(ctx context.Context, r Reader, start Vertex, visitor Visitor) error {
	if !r.IsVertexInGraph(start) {
		return nil
	}
	var f frontier
	active := make(map[Vertex]struct{})
	activate := func(v Vertex) {
		head := r.HeadOf(v)
		if _, found := active[head]; found {
			return
		}
		active[head] = struct{}{}
		heap.Push(&f, cursor{v: head, head: true})
	}

	activate(start)
	for f.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := heap.Pop(&f).(cursor)
		if c.head {
			visitor.VisitHead(c.v)
		}
		visitor.VisitVertex(c.v)

		if e := r.EdgeFrom(c.v, OutgoingVertical); e != nil {
			visitor.VisitEdge(*e, false)
			activate(e.To)
		}
		if e := r.EdgeFrom(c.v, IncomingVertical); e != nil {
			activate(e.From)
		}
		if e := r.EdgeFrom(c.v, OutgoingHorizontal); e != nil {
			visitor.VisitEdge(*e, true)
			heap.Push(&f, cursor{v: e.To})
		}
	}
	return nil
}

// ScanLineTraverseWorker is ScanLineTraverse from the first vertex of w.
func ScanLineTraverseWorker(ctx context.Context, r Reader, w Worker, visitor Visitor) error {
	head, found := r.Head(w)
	if !found {
		return nil
	}
	return ScanLineTraverse(ctx, r, head, visitor)
}
