package graph

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/janelia-flyem/egraph/egraph"
)

// Store is the persistence layer of a backend.  Base validates every
// construction call before handing it to the Store, so implementations only
// record what they are given.
type Store interface {
	// PutVertex makes v the latest vertex of its worker.  When the worker
	// already has vertices, prev is the previous latest vertex and e, if not nil,
	// is the horizontal edge prev->v.  A nil e joins both without an edge.
	PutVertex(v Vertex, prev *Vertex, e *Edge) error

	// PutHorizontal records an edge between two consecutive vertices of a
	// worker that were joined without an edge.
	PutHorizontal(e Edge) error

	// PutVertical records an edge between vertices of two workers.
	PutVertical(e Edge) error

	EdgeFrom(v Vertex, dir Direction) *Edge

	// Next returns the vertex following v in its worker's chain.
	Next(v Vertex) (Vertex, bool)

	// Contains reports whether v is a vertex of the graph.  It is only called
	// for timestamps strictly between the first and latest vertices of the
	// worker.
	Contains(v Vertex) bool

	// Ceiling returns the first vertex of a worker at or after ts.  It is only
	// called for timestamps strictly between the first and latest vertices of
	// the worker.
	Ceiling(id WorkerID, ts int64) (Vertex, bool)

	// Finish persists whatever remains once construction ends.
	Finish(end int64) error
}

// EdgeLimiter is implemented by stores that cannot hold every edge, e.g.,
// because records have a maximum size.  CheckEdge must not modify the store.
type EdgeLimiter interface {
	CheckEdge(e Edge) error
}

// Base implements the construction rules and the queries shared by every
// backend on top of a Store.  Backends embed it.
type Base struct {
	workers *WorkerTable
	store   Store
	start   int64

	mu      sync.Mutex // serializes construction calls
	failure error      // sticky storage failure

	done atomic.Bool
	end  atomic.Int64
}

// NewBase returns the shared part of a graph whose vertices may not precede
// start.  Negative start times are treated as zero.
func NewBase(start int64, workers *WorkerTable, store Store) *Base {
	if start < 0 {
		start = 0
	}
	if workers == nil {
		workers = NewWorkerTable()
	}
	b := &Base{workers: workers, store: store, start: start}
	b.end.Store(start)
	return b
}

// MarkDone flags a graph reopened from storage as finished.
func (b *Base) MarkDone(end int64) {
	b.end.Store(end)
	b.done.Store(true)
}

// Table returns the worker table of the graph.
func (b *Base) Table() *WorkerTable {
	return b.workers
}

func (b *Base) CreateVertex(w Worker, ts int64) Vertex {
	return Vertex{WorkerID: b.workers.Register(w), Timestamp: ts}
}

func (b *Base) StartTime() int64 { return b.start }

func (b *Base) EndTime() int64 {
	if b.done.Load() {
		return b.end.Load()
	}
	if latest, ok := b.workers.latest(); ok && latest > b.start {
		return latest
	}
	return b.start
}

func (b *Base) IsDoneBuilding() bool { return b.done.Load() }

// --- Construction ---

func (b *Base) checkOpen() error {
	if b.failure != nil {
		return b.failure
	}
	if b.done.Load() {
		return ErrGraphClosed
	}
	return nil
}

// checkAppendable verifies v may become the latest vertex of its worker.  It
// returns the current latest vertex, if any, and whether v is that vertex.
func (b *Base) checkAppendable(op string, v Vertex) (prev *Vertex, same bool, err error) {
	info, found := b.workers.Info(v.WorkerID)
	if !found {
		return nil, false, vertexError(op, v, ErrUnknownWorker)
	}
	if v.Timestamp < b.start {
		return nil, false, vertexError(op, v, ErrInvalidTimestamp)
	}
	if info.Count == 0 {
		return nil, false, nil
	}
	last := Vertex{WorkerID: v.WorkerID, Timestamp: info.Last}
	if v.Timestamp < info.Last {
		return nil, false, vertexError(op, v, ErrOrder)
	}
	return &last, v == last, nil
}

// checkEdge rejects, before anything is stored, an edge the store cannot hold.
func (b *Base) checkEdge(op string, e Edge) error {
	l, ok := b.store.(EdgeLimiter)
	if !ok {
		return nil
	}
	if err := l.CheckEdge(e); err != nil {
		return edgeError(op, e.From, e.To, fmt.Errorf("%w: %w", ErrEdgeTooLarge, err))
	}
	return nil
}

func (b *Base) put(v Vertex, prev *Vertex, e *Edge) error {
	if err := b.store.PutVertex(v, prev, e); err != nil {
		b.fail(err)
		return b.failure
	}
	b.workers.record(v)
	return nil
}

func (b *Base) fail(err error) {
	egraph.Errorf("Graph construction aborted after storage failure: %v\n", err)
	b.failure = fmt.Errorf("graph storage failed, construction aborted: %w", err)
}

func (b *Base) Add(v Vertex) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	prev, same, err := b.checkAppendable("add", v)
	if err != nil || same {
		return err
	}
	return b.put(v, prev, nil)
}

func (b *Base) Append(v Vertex, opts ...EdgeOption) (*Edge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	prev, same, err := b.checkAppendable("append", v)
	if err != nil || same {
		return nil, err
	}
	if prev == nil {
		return nil, b.put(v, nil, nil)
	}
	e := newEdge(*prev, v, nil, opts)
	if err := b.checkEdge("append", e); err != nil {
		return nil, err
	}
	if err := b.put(v, prev, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (b *Base) Edge(from, to Vertex, opts ...EdgeOption) (*Edge, error) {
	const op = "edge"
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	switch {
	case from == to:
		return nil, edgeError(op, from, to, ErrSelfLink)
	case from.WorkerID != to.WorkerID:
		return nil, edgeError(op, from, to, ErrTopology)
	case to.Timestamp < from.Timestamp:
		return nil, edgeError(op, from, to, ErrOrder)
	}
	e := newEdge(from, to, nil, opts)
	if err := b.checkEdge(op, e); err != nil {
		return nil, err
	}

	fromIn, toIn := b.IsVertexInGraph(from), b.IsVertexInGraph(to)
	switch {
	case fromIn && toIn:
		if next, found := b.store.Next(from); !found || next != to {
			return nil, edgeError(op, from, to, ErrNotAdjacent)
		}
		if b.store.EdgeFrom(from, OutgoingHorizontal) != nil {
			return nil, edgeError(op, from, to, ErrEdgeExists)
		}
		if err := b.store.PutHorizontal(e); err != nil {
			b.fail(err)
			return nil, b.failure
		}
	case fromIn:
		prev, _, err := b.checkAppendable(op, to)
		if err != nil {
			return nil, err
		}
		if prev == nil || *prev != from {
			return nil, edgeError(op, from, to, ErrNotAdjacent)
		}
		if err := b.put(to, prev, &e); err != nil {
			return nil, err
		}
	case toIn:
		// from would have to be inserted before the worker's latest vertex.
		return nil, edgeError(op, from, to, ErrOrder)
	default:
		prev, _, err := b.checkAppendable(op, from)
		if err != nil {
			return nil, err
		}
		if err := b.put(from, prev, nil); err != nil {
			return nil, err
		}
		if err := b.put(to, &from, &e); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (b *Base) EdgeVertical(from, to Vertex, ctx EdgeContextState, opts ...EdgeOption) (*Edge, error) {
	const op = "vertical edge"
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if from.WorkerID == to.WorkerID {
		if from == to {
			return nil, edgeError(op, from, to, ErrSelfLink)
		}
		return nil, edgeError(op, from, to, ErrTopology)
	}
	e := newEdge(from, to, ctx, opts)
	if err := b.checkEdge(op, e); err != nil {
		return nil, err
	}

	fromIn, toIn := b.IsVertexInGraph(from), b.IsVertexInGraph(to)
	var fromPrev, toPrev *Vertex
	var err error
	if fromIn {
		if b.store.EdgeFrom(from, OutgoingVertical) != nil {
			return nil, edgeError(op, from, to, ErrEdgeExists)
		}
	} else if fromPrev, _, err = b.checkAppendable(op, from); err != nil {
		return nil, err
	}
	if toIn {
		if b.store.EdgeFrom(to, IncomingVertical) != nil {
			return nil, edgeError(op, from, to, ErrEdgeExists)
		}
	} else if toPrev, _, err = b.checkAppendable(op, to); err != nil {
		return nil, err
	}

	if !fromIn {
		if err := b.put(from, fromPrev, nil); err != nil {
			return nil, err
		}
	}
	if !toIn {
		if err := b.put(to, toPrev, nil); err != nil {
			return nil, err
		}
	}
	if err := b.store.PutVertical(e); err != nil {
		b.fail(err)
		return nil, b.failure
	}
	return &e, nil
}

// Seal ends construction.  The end time is raised to the latest vertex if
// needed.
func (b *Base) Seal(end int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	if latest, ok := b.workers.latest(); ok && latest > end {
		egraph.Warningf("Graph end time %d precedes its latest vertex, using %d\n", end, latest)
		end = latest
	}
	if end < b.start {
		end = b.start
	}
	if err := b.store.Finish(end); err != nil {
		b.fail(err)
		return b.failure
	}
	b.MarkDone(end)
	return nil
}

// Release empties the graph once its storage is closed.  Queries then answer
// as for an empty graph and construction fails with ErrGraphClosed.
func (b *Base) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers.reset()
	b.done.Store(true)
}

// --- Queries ---

func (b *Base) EdgeFrom(v Vertex, dir Direction) *Edge {
	if !b.IsVertexInGraph(v) {
		return nil
	}
	return b.store.EdgeFrom(v, dir)
}

func (b *Base) IsVertexInGraph(v Vertex) bool {
	info, found := b.workers.Info(v.WorkerID)
	if !found || info.Count == 0 || v.Timestamp < info.First || v.Timestamp > info.Last {
		return false
	}
	if v.Timestamp == info.First || v.Timestamp == info.Last {
		return true
	}
	return b.store.Contains(v)
}

func (b *Base) NodesOf(w Worker) iter.Seq[Vertex] {
	return func(yield func(Vertex) bool) {
		info, found := b.workers.InfoOf(w)
		if !found || info.Count == 0 {
			return
		}
		v := Vertex{WorkerID: info.ID, Timestamp: info.First}
		for {
			if !yield(v) || v.Timestamp >= info.Last {
				return
			}
			next, found := b.store.Next(v)
			if !found {
				return
			}
			v = next
		}
	}
}

func (b *Base) Head(w Worker) (Vertex, bool) {
	info, found := b.workers.InfoOf(w)
	if !found || info.Count == 0 {
		return Vertex{}, false
	}
	return Vertex{WorkerID: info.ID, Timestamp: info.First}, true
}

func (b *Base) HeadOf(v Vertex) Vertex {
	for {
		e := b.EdgeFrom(v, IncomingHorizontal)
		if e == nil {
			return v
		}
		v = e.From
	}
}

func (b *Base) FirstHead() (Vertex, bool) {
	for _, info := range b.workers.Infos() {
		if info.Count > 0 {
			return Vertex{WorkerID: info.ID, Timestamp: info.First}, true
		}
	}
	return Vertex{}, false
}

func (b *Base) Tail(w Worker) (Vertex, bool) {
	info, found := b.workers.InfoOf(w)
	if !found || info.Count == 0 {
		return Vertex{}, false
	}
	return Vertex{WorkerID: info.ID, Timestamp: info.Last}, true
}

func (b *Base) ParentOf(v Vertex) (Worker, bool) {
	return b.workers.Worker(v.WorkerID)
}

func (b *Base) Workers() []Worker {
	return b.workers.Workers()
}

func (b *Base) VertexAt(w Worker, ts int64) (Vertex, bool) {
	info, found := b.workers.InfoOf(w)
	if !found || info.Count == 0 || ts > info.Last {
		return Vertex{}, false
	}
	switch {
	case ts <= info.First:
		return Vertex{WorkerID: info.ID, Timestamp: info.First}, true
	case ts == info.Last:
		return Vertex{WorkerID: info.ID, Timestamp: info.Last}, true
	}
	return b.store.Ceiling(info.ID, ts)
}
