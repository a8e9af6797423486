package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ComputeCriticalPath returns the critical path of the worker owning start.
// The path follows the worker's chain from start through every edge ending at
// or before end.  Each blocked interval is replaced by the chain of work that
// woke the worker up, found by walking vertical edges backward from the end of
// the blocking.  Blockings that cannot be explained are kept as they are.
//
// Pass math.MaxInt64 as end to follow the chain up to its tail.  The returned
// graph holds the same workers as r and is closed for construction.
func ComputeCriticalPath(ctx context.Context, r Reader, start Vertex, end int64) (Graph, error) {
	owner, found := r.ParentOf(start)
	if !found || !r.IsVertexInGraph(start) {
		return nil, fmt.Errorf("critical path start %s is not in the graph", start)
	}
	cp := &criticalPath{r: r, owner: owner, path: newPathGraph(start.Timestamp)}
	if err := cp.path.Add(cp.path.CreateVertex(owner, start.Timestamp)); err != nil {
		return nil, err
	}

	cur := start
	for next := r.EdgeFrom(cur, OutgoingHorizontal); next != nil && next.To.Timestamp <= end; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := cp.follow(ctx, cur, *next); err != nil {
			return nil, fmt.Errorf("unable to build critical path at %s: %w", next, err)
		}
		cur = next.To
		if next = r.EdgeFrom(cur, OutgoingHorizontal); next != nil && isOSContext(next.Context, OSNoEdge) {
			break
		}
	}

	last := cur.Timestamp
	if tail, found := cp.path.Tail(owner); found && tail.Timestamp > last {
		last = tail.Timestamp
	}
	if err := cp.path.Seal(last); err != nil {
		return nil, err
	}
	return cp.path, nil
}

// ComputeWorkerCriticalPath is ComputeCriticalPath over the whole chain of w.
func ComputeWorkerCriticalPath(ctx context.Context, r Reader, w Worker) (Graph, error) {
	head, found := r.Head(w)
	if !found {
		return nil, fmt.Errorf("worker %v has no vertex", w)
	}
	return ComputeCriticalPath(ctx, r, head, math.MaxInt64)
}

type criticalPath struct {
	r     Reader
	owner Worker
	path  *pathGraph
}

func isOSContext(c EdgeContextState, want OSEdgeContext) bool {
	oc, ok := c.(OSEdgeContext)
	return ok && oc == want
}

// follow adds to the path what explains the horizontal edge e leaving cur.
func (cp *criticalPath) follow(ctx context.Context, cur Vertex, e Edge) error {
	switch {
	case isOSContext(e.Context, OSNoEdge):
		return nil
	case isOSContext(e.Context, OSEpsilon):
		if e.Duration() != 0 {
			return fmt.Errorf("epsilon edge lasts %d", e.Duration())
		}
		return nil
	}
	switch e.Context.EdgeState() {
	case StatePass:
		v := cp.path.CreateVertex(cp.owner, e.To.Timestamp)
		_, err := cp.path.Append(v, WithContext(e.Context), WithLabel(e.Label))
		return err
	case StateBlock:
		links, err := cp.resolve(ctx, e, e.From.Timestamp)
		if err != nil {
			return err
		}
		for i, j := 0, len(links)-1; i < j; i, j = i+1, j-1 {
			links[i], links[j] = links[j], links[i]
		}
		return cp.glue(cur, links)
	default:
		return fmt.Errorf("edge context %s cannot be followed", e.Context)
	}
}

// wakeup returns the vertex where the worker was woken up after a blocking
// ending at v, skipping zero-length epsilon edges.
func (cp *criticalPath) wakeup(v Vertex) (Vertex, bool) {
	for {
		if cp.r.EdgeFrom(v, IncomingVertical) != nil {
			return v, true
		}
		e := cp.r.EdgeFrom(v, OutgoingHorizontal)
		if e == nil || !isOSContext(e.Context, OSEpsilon) {
			return Vertex{}, false
		}
		v = e.To
	}
}

// resolve walks backward from the wake-up of a blocking edge and returns, latest
// first, the edges explaining it.  The walk stops at bound or at the start of
// the blocking, whichever is later.
func (cp *criticalPath) resolve(ctx context.Context, blocking Edge, bound int64) ([]Edge, error) {
	junction, found := cp.wakeup(blocking.To)
	if !found {
		return nil, nil
	}
	down := cp.r.EdgeFrom(junction, IncomingVertical)
	if down == nil {
		return nil, nil
	}
	if blocking.From.Timestamp > bound {
		bound = blocking.From.Timestamp
	}

	sub := []Edge{*down}
	from := down.From
	var stack []Vertex // vertices with an unexplored incoming vertical edge
	for from.Timestamp > bound {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := cp.r.EdgeFrom(from, IncomingVertical)
		if in != nil && in.From.Timestamp <= bound {
			sub = append(sub, *in)
			break
		}
		prev := cp.r.EdgeFrom(from, IncomingHorizontal)
		if in != nil && (prev == nil || prev.Context.EdgeState() != StateBlock) {
			stack = append(stack, from)
		}
		if prev != nil {
			if prev.Context.EdgeState() == StateBlock {
				links, err := cp.resolve(ctx, *prev, bound)
				if err != nil {
					return nil, err
				}
				if len(links) == 0 && prev.Context.Matchable() {
					sub = append(sub, *prev)
				} else {
					sub = append(sub, links...)
				}
			} else {
				sub = append(sub, *prev)
			}
			from = prev.From
			continue
		}

		// Dead end: rewind to the latest vertex with a vertical edge left.
		if len(stack) == 0 {
			break
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for len(sub) > 0 && sub[len(sub)-1].From != v {
			sub = sub[:len(sub)-1]
		}
		e := cp.r.EdgeFrom(v, IncomingVertical)
		if e == nil {
			break
		}
		sub = append(sub, *e)
		from = e.From
	}
	return sub, nil
}

// glue appends the chronological links explaining the blocking that starts at
// cur to the owner's chain in the path.
func (cp *criticalPath) glue(cur Vertex, links []Edge) error {
	if len(links) == 0 {
		next := cp.r.EdgeFrom(cur, OutgoingHorizontal)
		if next == nil {
			return nil
		}
		v := cp.path.CreateVertex(cp.owner, next.To.Timestamp)
		_, err := cp.path.Append(v, WithContext(next.Context), WithLabel(next.Label))
		return err
	}

	anchor, found := cp.path.Tail(cp.owner)
	if !found {
		return fmt.Errorf("worker %v has no vertex in the path", cp.owner)
	}
	first := links[0]
	src, found := cp.r.ParentOf(first.From)
	if !found {
		return fmt.Errorf("no worker owns %s", first.From)
	}
	if src != cp.owner {
		v := cp.path.CreateVertex(src, cur.Timestamp)
		if _, err := cp.path.EdgeVertical(anchor, v, OSDefault); err != nil {
			return err
		}
		anchor = v
		if first.From.Timestamp > anchor.Timestamp {
			anchor = cp.path.CreateVertex(src, first.From.Timestamp)
			if _, err := cp.path.Append(anchor, WithContext(OSUnknown)); err != nil {
				return err
			}
		}
	}

	var err error
	for i, link := range links {
		if i > 0 && links[i-1].To != link.From {
			ts := max(links[i-1].To.Timestamp, link.From.Timestamp)
			if anchor, err = cp.copyLink(anchor, link.From, ts, nil, link.Label); err != nil {
				return err
			}
		}
		if anchor, err = cp.copyLink(anchor, link.To, link.To.Timestamp, link.Context, link.Label); err != nil {
			return err
		}
	}
	return nil
}

// copyLink links anchor to the path vertex standing for to at ts and returns
// that vertex.
func (cp *criticalPath) copyLink(anchor, to Vertex, ts int64, c EdgeContextState, label string) (Vertex, error) {
	w, found := cp.r.ParentOf(to)
	if !found {
		return anchor, fmt.Errorf("no worker owns %s", to)
	}
	v := cp.path.CreateVertex(w, ts)
	if v == anchor {
		return anchor, nil
	}
	var err error
	if v.WorkerID == anchor.WorkerID {
		_, err = cp.path.Append(v, WithContext(c), WithLabel(label))
	} else {
		_, err = cp.path.EdgeVertical(anchor, v, c, WithLabel(label))
	}
	return v, err
}

// pathGraph is a small in-memory graph holding a computed critical path.
type pathGraph struct {
	*Base
}

func newPathGraph(start int64) *pathGraph {
	s := &pathStore{
		edges:  make(map[Vertex]*[4]*Edge),
		chains: make(map[WorkerID][]int64),
	}
	return &pathGraph{Base: NewBase(start, NewWorkerTable(), s)}
}

func (g *pathGraph) CloseGraph(end int64) (Reader, error) {
	if err := g.Seal(end); err != nil {
		return nil, err
	}
	return ReadOnly(g), nil
}

func (g *pathGraph) Close() error { return nil }

// pathStore keeps the edges of each vertex in a map and the timestamps of each
// worker in a sorted slice.
type pathStore struct {
	mu     sync.RWMutex
	edges  map[Vertex]*[4]*Edge
	chains map[WorkerID][]int64
}

func (s *pathStore) slots(v Vertex) *[4]*Edge {
	sl, found := s.edges[v]
	if !found {
		sl = new([4]*Edge)
		s.edges[v] = sl
	}
	return sl
}

func (s *pathStore) link(e Edge, out, in Direction) {
	s.slots(e.From)[out] = &e
	s.slots(e.To)[in] = &e
}

func (s *pathStore) PutVertex(v Vertex, prev *Vertex, e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots(v)
	s.chains[v.WorkerID] = append(s.chains[v.WorkerID], v.Timestamp)
	if e != nil {
		s.link(*e, OutgoingHorizontal, IncomingHorizontal)
	}
	return nil
}

func (s *pathStore) PutHorizontal(e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(e, OutgoingHorizontal, IncomingHorizontal)
	return nil
}

func (s *pathStore) PutVertical(e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(e, OutgoingVertical, IncomingVertical)
	return nil
}

func (s *pathStore) EdgeFrom(v Vertex, dir Direction) *Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, found := s.edges[v]
	if !found || sl[dir] == nil {
		return nil
	}
	e := *sl[dir]
	return &e
}

// ceiling returns the index of the first timestamp of id at or after ts.
func (s *pathStore) ceiling(id WorkerID, ts int64) ([]int64, int) {
	chain := s.chains[id]
	return chain, sort.Search(len(chain), func(i int) bool { return chain[i] >= ts })
}

func (s *pathStore) Next(v Vertex) (Vertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, i := s.ceiling(v.WorkerID, v.Timestamp+1)
	if i == len(chain) {
		return Vertex{}, false
	}
	return Vertex{WorkerID: v.WorkerID, Timestamp: chain[i]}, true
}

func (s *pathStore) Contains(v Vertex) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.edges[v]
	return found
}

func (s *pathStore) Ceiling(id WorkerID, ts int64) (Vertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, i := s.ceiling(id, ts)
	if i == len(chain) {
		return Vertex{}, false
	}
	return Vertex{WorkerID: id, Timestamp: chain[i]}, true
}

func (s *pathStore) Finish(end int64) error { return nil }
