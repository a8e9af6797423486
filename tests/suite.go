package tests

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/janelia-flyem/egraph/graph"
)

// NewGraphFunc returns an empty graph.  Persistent backends also return a
// function reopening the graph from storage once it was finished and closed;
// others return nil.
type NewGraphFunc func(t *testing.T) (g graph.Graph, reopen func() (graph.Graph, error))

// RunGraphSuite runs the conformance tests against the graphs returned by
// newGraph.  Every backend must pass it unmodified.
func RunGraphSuite(t *testing.T, newGraph NewGraphFunc) {
	cases := []struct {
		name string
		fn   func(*testing.T, NewGraphFunc)
	}{
		{"CreateVertex", testCreateVertex},
		{"IllegalVertex", testIllegalVertex},
		{"Append", testAppend},
		{"HorizontalSelfLink", testHorizontalSelfLink},
		{"EdgeAddsEndpoints", testEdgeAddsEndpoints},
		{"EdgeOverGap", testEdgeOverGap},
		{"EdgeVertical", testEdgeVertical},
		{"ImplicitAddOrdering", testImplicitAddOrdering},
		{"DirectionSymmetry", testDirectionSymmetry},
		{"Tail", testTail},
		{"Head", testHead},
		{"HeadSequence", testHeadSequence},
		{"Parent", testParent},
		{"Workers", testWorkers},
		{"NodesOf", testNodesOf},
		{"VertexAt", testVertexAt},
		{"CloseGraph", testCloseGraph},
		{"ScanCount", testScanCount},
		{"ScanCancel", testScanCancel},
		{"GraphStatistics", testGraphStatistics},
		{"ReRead", testReRead},
		{"CriticalPath", testCriticalPath},
		{"ConcurrentReaders", testConcurrentReaders},
		{"QueriesAfterClose", testQueriesAfterClose},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) { c.fn(t, newGraph) })
	}
}

func newTestGraph(t *testing.T, newGraph NewGraphFunc) graph.Graph {
	g, _ := newGraph(t)
	t.Cleanup(func() { g.Close() })
	return g
}

func mustAdd(t *testing.T, g graph.Graph, v graph.Vertex) {
	t.Helper()
	if err := g.Add(v); err != nil {
		t.Fatalf("Can't add vertex %s: %v\n", v, err)
	}
}

func mustAppend(t *testing.T, g graph.Graph, v graph.Vertex, opts ...graph.EdgeOption) *graph.Edge {
	t.Helper()
	e, err := g.Append(v, opts...)
	if err != nil {
		t.Fatalf("Can't append vertex %s: %v\n", v, err)
	}
	return e
}

func countNodes(g graph.Reader, w graph.Worker) int {
	var n int
	for range g.NodesOf(w) {
		n++
	}
	return n
}

func expectError(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("Expected error %q, got %v\n", target, err)
	}
}

func testCreateVertex(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v := g.CreateVertex(Worker1, 5)
	if v.Timestamp != 5 {
		t.Errorf("Expected timestamp 5, got %d\n", v.Timestamp)
	}
	if g.IsVertexInGraph(v) {
		t.Errorf("Created vertex should not be in graph until added\n")
	}
	if len(g.Workers()) != 0 {
		t.Errorf("Expected no workers in graph, got %v\n", g.Workers())
	}
	if v2 := g.CreateVertex(Worker1, 5); v2 != v {
		t.Errorf("Vertices of same worker and time should be equal: %s != %s\n", v, v2)
	}
}

func testIllegalVertex(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v1 := g.CreateVertex(Worker1, 1)
	v0 := g.CreateVertex(Worker1, 0)
	mustAdd(t, g, v1)

	err := g.Add(v0)
	expectError(t, err, graph.ErrOrder)
	var cerr *graph.ConstructionError
	if !errors.As(err, &cerr) || cerr.Worker != v0.WorkerID {
		t.Errorf("Expected construction error for worker %d, got %v\n", v0.WorkerID, err)
	}
	if g.IsVertexInGraph(v0) {
		t.Errorf("Rejected vertex %s should not be in graph\n", v0)
	}
	_, err = g.Append(v0)
	expectError(t, err, graph.ErrOrder)

	// Same vertex again is not an error and adds nothing.
	mustAdd(t, g, v1)
	if e := mustAppend(t, g, v1); e != nil {
		t.Errorf("Appending the latest vertex again should not create edge %s\n", e)
	}
	if n := countNodes(g, Worker1); n != 1 {
		t.Errorf("Expected 1 vertex, got %d\n", n)
	}

	expectError(t, g.Add(g.CreateVertex(Worker2, -1)), graph.ErrInvalidTimestamp)
}

func testAppend(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker1, 3)
	v2 := g.CreateVertex(Worker1, 5)

	if e := mustAppend(t, g, v0); e != nil {
		t.Fatalf("First vertex of a worker should not have an edge, got %s\n", e)
	}
	e1 := mustAppend(t, g, v1)
	if e1 == nil {
		t.Fatalf("Expected edge when appending %s\n", v1)
	}
	if e1.From != v0 || e1.To != v1 {
		t.Errorf("Bad edge endpoints: %s\n", e1)
	}
	if e1.Duration() != 3 {
		t.Errorf("Expected duration 3, got %d\n", e1.Duration())
	}
	if e1.Context != graph.OSDefault || e1.Label != "" {
		t.Errorf("Expected default context without label, got %s\n", e1)
	}
	if !e1.IsHorizontal() {
		t.Errorf("Appended edge should be horizontal\n")
	}

	e2 := mustAppend(t, g, v2, graph.WithContext(graph.OSRunning), graph.WithLabel("cpu0"))
	if e2 == nil || e2.Context != graph.OSRunning || e2.Label != "cpu0" {
		t.Fatalf("Expected running edge labeled cpu0, got %v\n", e2)
	}
	if got := g.EdgeFrom(v1, graph.OutgoingHorizontal); got == nil || *got != *e2 {
		t.Errorf("Expected %s from %s, got %v\n", e2, v1, got)
	}
	if got := g.EdgeFrom(v1, graph.IncomingHorizontal); got == nil || *got != *e1 {
		t.Errorf("Expected %s into %s, got %v\n", e1, v1, got)
	}
	if n := countNodes(g, Worker1); n != 3 {
		t.Errorf("Expected 3 vertices, got %d\n", n)
	}
}

func testHorizontalSelfLink(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v1 := g.CreateVertex(Worker1, 1)
	mustAdd(t, g, v1)
	_, err := g.Edge(v1, v1)
	expectError(t, err, graph.ErrSelfLink)

	// Not yet in graph either.
	v2 := g.CreateVertex(Worker1, 2)
	_, err = g.Edge(v2, v2)
	expectError(t, err, graph.ErrSelfLink)
	if g.IsVertexInGraph(v2) {
		t.Errorf("Vertex %s should not be added by a rejected edge\n", v2)
	}
}

func testEdgeAddsEndpoints(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker1, 1)
	v2 := g.CreateVertex(Worker1, 2)
	v3 := g.CreateVertex(Worker1, 3)
	v5 := g.CreateVertex(Worker1, 5)

	e, err := g.Edge(v0, v1)
	if err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v0, v1, err)
	}
	if !g.IsVertexInGraph(v0) || !g.IsVertexInGraph(v1) {
		t.Fatalf("Edge should add both of its endpoints\n")
	}
	if e.Context != graph.OSDefault {
		t.Errorf("Expected default context, got %s\n", e.Context)
	}
	if _, err := g.Edge(v1, v2, graph.WithContext(graph.OSNetwork)); err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v1, v2, err)
	}
	if n := countNodes(g, Worker1); n != 3 {
		t.Errorf("Expected 3 vertices, got %d\n", n)
	}

	_, err = g.Edge(v0, v2)
	expectError(t, err, graph.ErrNotAdjacent)
	_, err = g.Edge(v1, v2)
	expectError(t, err, graph.ErrEdgeExists)
	_, err = g.Edge(v2, v1)
	expectError(t, err, graph.ErrOrder)
	_, err = g.Edge(v1, v5)
	expectError(t, err, graph.ErrNotAdjacent)
	if g.IsVertexInGraph(v5) {
		t.Errorf("Vertex %s should not be added by a rejected edge\n", v5)
	}
	_, err = g.Edge(g.CreateVertex(Worker1, 1), g.CreateVertex(Worker2, 4))
	expectError(t, err, graph.ErrTopology)

	mustAdd(t, g, v5)
	_, err = g.Edge(v3, v5)
	expectError(t, err, graph.ErrOrder)
	if g.IsVertexInGraph(v3) {
		t.Errorf("Vertex %s should not be added by a rejected edge\n", v3)
	}
}

func testEdgeOverGap(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker1, 4)
	mustAdd(t, g, v0)
	mustAdd(t, g, v1)
	if e := g.EdgeFrom(v0, graph.OutgoingHorizontal); e != nil {
		t.Fatalf("Added vertices should not be linked, got %s\n", e)
	}
	if head := g.HeadOf(v1); head != v1 {
		t.Errorf("Expected %s to be its own head, got %s\n", v1, head)
	}

	e, err := g.Edge(v0, v1, graph.WithContext(graph.OSBlocked))
	if err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v0, v1, err)
	}
	if got := g.EdgeFrom(v0, graph.OutgoingHorizontal); got == nil || *got != *e {
		t.Errorf("Expected %s from %s, got %v\n", e, v0, got)
	}
	if got := g.EdgeFrom(v1, graph.IncomingHorizontal); got == nil || got.Context != graph.OSBlocked {
		t.Errorf("Expected blocked edge into %s, got %v\n", v1, got)
	}
	if head := g.HeadOf(v1); head != v0 {
		t.Errorf("Expected head %s, got %s\n", v0, head)
	}
	if n := countNodes(g, Worker1); n != 2 {
		t.Errorf("Expected 2 vertices, got %d\n", n)
	}
}

func testEdgeVertical(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker2, 1)

	e, err := g.EdgeVertical(v0, v1, graph.OSNetwork, graph.WithLabel("eth0"))
	if err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v0, v1, err)
	}
	if !g.IsVertexInGraph(v0) || !g.IsVertexInGraph(v1) {
		t.Fatalf("Vertical edge should add both of its endpoints\n")
	}
	if e.IsHorizontal() || e.Duration() != 1 || e.Context != graph.OSNetwork || e.Label != "eth0" {
		t.Errorf("Bad vertical edge %s\n", e)
	}
	if got := g.EdgeFrom(v0, graph.OutgoingVertical); got == nil || *got != *e {
		t.Errorf("Expected %s from %s, got %v\n", e, v0, got)
	}
	if got := g.EdgeFrom(v1, graph.IncomingVertical); got == nil || *got != *e {
		t.Errorf("Expected %s into %s, got %v\n", e, v1, got)
	}

	_, err = g.EdgeVertical(v0, g.CreateVertex(Worker1, 2), graph.OSNetwork)
	expectError(t, err, graph.ErrTopology)
	_, err = g.EdgeVertical(v0, v0, graph.OSNetwork)
	expectError(t, err, graph.ErrSelfLink)

	v2 := g.CreateVertex(Worker3, 1)
	_, err = g.EdgeVertical(v0, v2, graph.OSNetwork)
	expectError(t, err, graph.ErrEdgeExists)
	if g.IsVertexInGraph(v2) {
		t.Errorf("Vertex %s should not be added by a rejected edge\n", v2)
	}
	_, err = g.EdgeVertical(v2, v1, graph.OSNetwork)
	expectError(t, err, graph.ErrEdgeExists)

	e2, err := g.EdgeVertical(v1, v2, nil)
	if err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v1, v2, err)
	}
	if e2.Context != graph.OSDefault || e2.Duration() != 0 {
		t.Errorf("Expected default context and no duration, got %s\n", e2)
	}
}

func testImplicitAddOrdering(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	mustAppend(t, g, g.CreateVertex(Worker2, 5))
	from := g.CreateVertex(Worker1, 2)
	to := g.CreateVertex(Worker2, 4)

	_, err := g.EdgeVertical(from, to, graph.OSNetwork)
	expectError(t, err, graph.ErrOrder)
	if g.IsVertexInGraph(from) || g.IsVertexInGraph(to) {
		t.Errorf("Rejected vertical edge should leave the graph unchanged\n")
	}
	if len(g.Workers()) != 1 {
		t.Errorf("Expected a single worker, got %v\n", g.Workers())
	}
}

func testDirectionSymmetry(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	buildFullGraph(t, g)

	var edges []graph.Edge
	for _, w := range g.Workers() {
		for v := range g.NodesOf(w) {
			for _, dir := range []graph.Direction{graph.OutgoingHorizontal, graph.OutgoingVertical} {
				if e := g.EdgeFrom(v, dir); e != nil {
					edges = append(edges, *e)
				}
			}
		}
	}
	if len(edges) != 20 {
		t.Fatalf("Expected 20 edges, got %d\n", len(edges))
	}
	for _, e := range edges {
		out, in := graph.OutgoingVertical, graph.IncomingVertical
		if e.IsHorizontal() {
			out, in = graph.OutgoingHorizontal, graph.IncomingHorizontal
		}
		for _, dir := range graph.Directions {
			got := g.EdgeFrom(e.From, dir)
			if (dir == out) != (got != nil && *got == e) {
				t.Errorf("Edge %s: bad %s edge of its origin: %v\n", e, dir, got)
			}
			got = g.EdgeFrom(e.To, dir)
			if (dir == in) != (got != nil && *got == e) {
				t.Errorf("Edge %s: bad %s edge of its target: %v\n", e, dir, got)
			}
		}
	}
}

func testTail(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker1, 1)
	v2 := g.CreateVertex(Worker2, 2)
	v3 := g.CreateVertex(Worker2, 3)
	mustAppend(t, g, v0)
	mustAppend(t, g, v1)
	mustAppend(t, g, v2)
	mustAppend(t, g, v3)
	if _, err := g.CloseGraph(3); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	if tail, found := g.Tail(Worker1); !found || tail != v1 {
		t.Errorf("Expected tail %s, got %s\n", v1, tail)
	}
	if tail, found := g.Tail(Worker2); !found || tail != v3 {
		t.Errorf("Expected tail %s, got %s\n", v3, tail)
	}
	if _, found := g.Tail(Worker3); found {
		t.Errorf("Worker without vertices should have no tail\n")
	}
}

func testHead(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker1, 1)
	v2 := g.CreateVertex(Worker2, 2)
	v3 := g.CreateVertex(Worker2, 3)
	mustAppend(t, g, v0)
	mustAppend(t, g, v1)
	mustAppend(t, g, v2)
	mustAppend(t, g, v3)
	if _, err := g.CloseGraph(3); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}

	if head, found := g.Head(Worker1); !found || head != v0 {
		t.Errorf("Expected head %s, got %s\n", v0, head)
	}
	if head, found := g.Head(Worker2); !found || head != v2 {
		t.Errorf("Expected head %s, got %s\n", v2, head)
	}
	if head, found := g.FirstHead(); !found || head != v0 {
		t.Errorf("Expected first head %s, got %s\n", v0, head)
	}
	for v, expected := range map[graph.Vertex]graph.Vertex{v0: v0, v1: v0, v2: v2, v3: v2} {
		if head := g.HeadOf(v); head != expected {
			t.Errorf("Expected head of %s to be %s, got %s\n", v, expected, head)
		}
	}
}

func testHeadSequence(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker1, 1)
	v2 := g.CreateVertex(Worker1, 2)
	v3 := g.CreateVertex(Worker1, 3)
	mustAppend(t, g, v0)
	mustAppend(t, g, v1)
	mustAdd(t, g, v2)
	mustAppend(t, g, v3)
	if _, err := g.CloseGraph(3); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}

	for v, expected := range map[graph.Vertex]graph.Vertex{v0: v0, v1: v0, v2: v2, v3: v2} {
		if head := g.HeadOf(v); head != expected {
			t.Errorf("Expected head of %s to be %s, got %s\n", v, expected, head)
		}
	}
	if head, _ := g.Head(Worker1); head != v0 {
		t.Errorf("Expected worker head %s, got %s\n", v0, head)
	}
}

func testParent(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker2, 1)
	mustAdd(t, g, v0)
	mustAdd(t, g, v1)
	if w, found := g.ParentOf(v0); !found || w != Worker1 {
		t.Errorf("Expected parent %s of %s, got %v\n", Worker1, v0, w)
	}
	if w, found := g.ParentOf(v1); !found || w != Worker2 {
		t.Errorf("Expected parent %s of %s, got %v\n", Worker2, v1, w)
	}
}

func testWorkers(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	a := g.CreateVertex(Worker2, 1)
	g.CreateVertex(Worker3, 1)
	b := g.CreateVertex(Worker1, 2)
	mustAdd(t, g, b)
	mustAdd(t, g, a)

	workers := g.Workers()
	if len(workers) != 2 || workers[0] != Worker2 || workers[1] != Worker1 {
		t.Errorf("Expected workers [%s %s], got %v\n", Worker2, Worker1, workers)
	}
	if head, found := g.FirstHead(); !found || head != a {
		t.Errorf("Expected first head %s, got %s\n", a, head)
	}
}

func testNodesOf(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	times := []int64{0, 2, 4, 6}
	for i, ts := range times {
		v := g.CreateVertex(Worker1, ts)
		if i == len(times)-1 {
			mustAdd(t, g, v)
		} else {
			mustAppend(t, g, v)
		}
	}
	for pass := 0; pass < 2; pass++ {
		var got []int64
		for v := range g.NodesOf(Worker1) {
			if v.WorkerID != g.CreateVertex(Worker1, 0).WorkerID {
				t.Fatalf("Vertex %s does not belong to %s\n", v, Worker1)
			}
			got = append(got, v.Timestamp)
		}
		if len(got) != len(times) {
			t.Fatalf("Pass %d: expected %v, got %v\n", pass, times, got)
		}
		for i := range times {
			if got[i] != times[i] {
				t.Fatalf("Pass %d: expected %v, got %v\n", pass, times, got)
			}
		}
	}
	var n int
	for range g.NodesOf(Worker1) {
		n++
		if n == 2 {
			break
		}
	}
	if countNodes(g, Worker3) != 0 {
		t.Errorf("Unknown worker should have no vertices\n")
	}
}

func testVertexAt(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	for _, ts := range []int64{10, 20, 30} {
		mustAppend(t, g, g.CreateVertex(Worker1, ts))
	}
	for ts, expected := range map[int64]int64{5: 10, 10: 10, 15: 20, 20: 20, 25: 30, 30: 30} {
		v, found := g.VertexAt(Worker1, ts)
		if !found || v.Timestamp != expected {
			t.Errorf("Expected vertex at %d for %d, got %s (found %t)\n", expected, ts, v, found)
		}
	}
	if v, found := g.VertexAt(Worker1, 31); found {
		t.Errorf("Expected no vertex after the tail, got %s\n", v)
	}
	if _, found := g.VertexAt(Worker2, 0); found {
		t.Errorf("Expected no vertex for worker without vertices\n")
	}
}

func testCloseGraph(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	v0 := g.CreateVertex(Worker1, 1)
	v1 := g.CreateVertex(Worker1, 5)
	mustAppend(t, g, v0)
	mustAppend(t, g, v1)
	if g.IsDoneBuilding() {
		t.Fatalf("Graph should not be done before closing\n")
	}
	if g.EndTime() != 5 {
		t.Errorf("Expected end time 5 while building, got %d\n", g.EndTime())
	}

	r, err := g.CloseGraph(10)
	if err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	if !g.IsDoneBuilding() || !r.IsDoneBuilding() {
		t.Errorf("Graph should be done after closing\n")
	}
	if r.EndTime() != 10 {
		t.Errorf("Expected end time 10, got %d\n", r.EndTime())
	}
	if _, ok := r.(graph.Graph); ok {
		t.Errorf("Closed graph handle should be read-only\n")
	}
	if tail, _ := r.Tail(Worker1); tail != v1 {
		t.Errorf("Expected tail %s after closing, got %s\n", v1, tail)
	}
	if e := r.EdgeFrom(v0, graph.OutgoingHorizontal); e == nil || e.To != v1 {
		t.Errorf("Expected edge to %s after closing, got %v\n", v1, e)
	}

	_, err = g.Append(g.CreateVertex(Worker1, 6))
	expectError(t, err, graph.ErrGraphClosed)
	expectError(t, g.Add(g.CreateVertex(Worker2, 6)), graph.ErrGraphClosed)
	_, err = g.CloseGraph(12)
	expectError(t, err, graph.ErrGraphClosed)
}

// buildFullGraph builds the following graph:
//
//	____0___1___2___3___4___5___6___7___8___9___10___11___12___13___14___15
//
//	A   *-------*       *---*-------*---*---*    *---*----*----*---------*
//	            |           |           |            |    |
//	B       *---*---*-------*   *-------*------------*    *----------*
func buildFullGraph(t *testing.T, g graph.Graph) {
	t.Helper()
	timesA := []int64{0, 2, 4, 5, 7, 8, 9, 10, 11, 12, 13, 15}
	timesB := []int64{1, 2, 3, 5, 6, 8, 11, 12, 14}
	a := make([]graph.Vertex, len(timesA))
	b := make([]graph.Vertex, len(timesB))
	for i, ts := range timesA {
		a[i] = g.CreateVertex(Worker1, ts)
	}
	for i, ts := range timesB {
		b[i] = g.CreateVertex(Worker2, ts)
	}
	for i, v := range a {
		if i == 2 || i == 7 {
			mustAdd(t, g, v)
		} else {
			mustAppend(t, g, v)
		}
	}
	for i, v := range b {
		if i == 4 || i == 7 {
			mustAdd(t, g, v)
		} else {
			mustAppend(t, g, v)
		}
	}
	links := [][2]graph.Vertex{{a[1], b[1]}, {b[3], a[3]}, {a[5], b[5]}, {b[6], a[8]}, {a[9], b[7]}}
	for _, l := range links {
		if _, err := g.EdgeVertical(l[0], l[1], graph.OSDefault); err != nil {
			t.Fatalf("Can't link %s and %s: %v\n", l[0], l[1], err)
		}
	}
}

type scanCount struct {
	vertices, heads, vertical, horizontal int
}

func (c *scanCount) VisitHead(graph.Vertex)   { c.heads++ }
func (c *scanCount) VisitVertex(graph.Vertex) { c.vertices++ }
func (c *scanCount) VisitEdge(e graph.Edge, horizontal bool) {
	if horizontal {
		c.horizontal++
	} else {
		c.vertical++
	}
}

func testScanCount(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	buildFullGraph(t, g)

	check := func(r graph.Reader, when string) {
		var c scanCount
		if err := graph.ScanLineTraverseWorker(context.Background(), r, Worker1, &c); err != nil {
			t.Fatalf("Scan %s failed: %v\n", when, err)
		}
		expected := scanCount{vertices: 21, heads: 6, vertical: 5, horizontal: 15}
		if c != expected {
			t.Errorf("Scan %s: expected %+v, got %+v\n", when, expected, c)
		}
	}
	check(g, "while building")
	r, err := g.CloseGraph(15)
	if err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	check(r, "after closing")
}

func testScanCancel(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	buildFullGraph(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var visited int
	err := graph.ScanLineTraverseWorker(ctx, g, Worker1, graph.VisitorFuncs{
		Vertex: func(graph.Vertex) {
			visited++
			if visited == 5 {
				cancel()
			}
		},
	})
	expectError(t, err, context.Canceled)
	if visited != 5 {
		t.Errorf("Expected scan to stop after 5 vertices, visited %d\n", visited)
	}
}

func testGraphStatistics(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	buildFullGraph(t, g)

	stats, err := graph.ComputeStatistics(context.Background(), g, Worker1)
	if err != nil {
		t.Fatalf("Can't compute statistics: %v\n", err)
	}
	if stats.Sum(Worker1) != 12 {
		t.Errorf("Expected sum 12 for %s, got %d\n", Worker1, stats.Sum(Worker1))
	}
	if stats.Sum(Worker2) != 11 {
		t.Errorf("Expected sum 11 for %s, got %d\n", Worker2, stats.Sum(Worker2))
	}
	if stats.Total() != 23 {
		t.Errorf("Expected total 23, got %d\n", stats.Total())
	}
	if len(stats.Workers()) != 2 || stats.Aborted() {
		t.Errorf("Expected 2 workers in complete statistics, got %v (aborted %t)\n", stats.Workers(), stats.Aborted())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err = graph.ComputeStatistics(ctx, g, Worker1)
	expectError(t, err, context.Canceled)
	if !stats.Aborted() || stats.Total() != 0 {
		t.Errorf("Expected empty aborted statistics, got total %d (aborted %t)\n", stats.Total(), stats.Aborted())
	}
}

type slot struct {
	v   graph.Vertex
	dir graph.Direction
}

func edgeSnapshot(r graph.Reader) map[slot]graph.Edge {
	edges := make(map[slot]graph.Edge)
	for _, w := range r.Workers() {
		for v := range r.NodesOf(w) {
			for _, dir := range graph.Directions {
				if e := r.EdgeFrom(v, dir); e != nil {
					edges[slot{v, dir}] = *e
				}
			}
		}
	}
	return edges
}

func testReRead(t *testing.T, newGraph NewGraphFunc) {
	g, reopen := newGraph(t)
	defer g.Close()
	if reopen == nil {
		t.Skip("backend does not persist graphs")
	}

	v0 := g.CreateVertex(Worker1, 0)
	v1 := g.CreateVertex(Worker1, 1)
	v2 := g.CreateVertex(Worker1, 2)
	v3 := g.CreateVertex(Worker2, 3)
	v4 := g.CreateVertex(Worker3, 3)
	mustAdd(t, g, v0)
	if _, err := g.Edge(v0, v1); err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v0, v1, err)
	}
	if _, err := g.Edge(v1, v2, graph.WithContext(graph.OSNetwork)); err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v1, v2, err)
	}
	if _, err := g.EdgeVertical(v2, v3, graph.OSNetwork); err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v2, v3, err)
	}
	if _, err := g.EdgeVertical(v3, v4, graph.OSNetwork, graph.WithLabel("test")); err != nil {
		t.Fatalf("Can't link %s and %s: %v\n", v3, v4, err)
	}
	if _, err := g.CloseGraph(3); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	expected := edgeSnapshot(g)
	if len(expected) != 8 {
		t.Fatalf("Expected 8 edge slots before reopening, got %d\n", len(expected))
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Can't close graph files: %v\n", err)
	}

	g2, err := reopen()
	if err != nil {
		t.Fatalf("Can't reopen graph: %v\n", err)
	}
	defer g2.Close()

	if !g2.IsDoneBuilding() || g2.EndTime() != 3 {
		t.Errorf("Reopened graph should be done at 3, got end %d (done %t)\n", g2.EndTime(), g2.IsDoneBuilding())
	}
	for w, n := range map[graph.Worker]int{Worker1: 3, Worker2: 1, Worker3: 1} {
		if got := countNodes(g2, w); got != n {
			t.Errorf("Expected %d vertices for %s after reopening, got %d\n", n, w, got)
		}
	}
	if w := g2.CreateVertex(Worker2, 3); w != v3 {
		t.Errorf("Worker ids changed after reopening: %s != %s\n", w, v3)
	}
	if w, _ := g2.ParentOf(v4); w != Worker3 {
		t.Errorf("Expected parent %s of %s after reopening, got %v\n", Worker3, v4, w)
	}
	got := edgeSnapshot(g2)
	if len(got) != len(expected) {
		t.Errorf("Expected %d edge slots after reopening, got %d\n", len(expected), len(got))
	}
	for s, e := range expected {
		if ge, found := got[s]; !found || ge != e || ge.Duration() != e.Duration() {
			t.Errorf("Edge %s of %s: expected %s, got %s\n", s.dir, s.v, e, ge)
		}
	}
	if e := g2.EdgeFrom(v3, graph.OutgoingVertical); e == nil || e.Label != "test" {
		t.Errorf("Expected labeled vertical edge from %s, got %v\n", v3, e)
	}

	_, err = g2.Append(g2.CreateVertex(Worker1, 4))
	expectError(t, err, graph.ErrGraphClosed)
}

// pathEdges lists the edges of r worker by worker, leaving edges first.
func pathEdges(r graph.Reader) []string {
	name := func(v graph.Vertex) string {
		w, _ := r.ParentOf(v)
		return fmt.Sprintf("%v@%d", w, v.Timestamp)
	}
	var edges []string
	for _, w := range r.Workers() {
		for v := range r.NodesOf(w) {
			for _, dir := range []graph.Direction{graph.OutgoingHorizontal, graph.OutgoingVertical} {
				if e := r.EdgeFrom(v, dir); e != nil {
					s := fmt.Sprintf("%s->%s %s", name(e.From), name(e.To), e.Context)
					if e.Label != "" {
						s += fmt.Sprintf(" %q", e.Label)
					}
					edges = append(edges, s)
				}
			}
		}
	}
	return edges
}

func testCriticalPath(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	q := graph.WithLabel("q")
	mustAdd(t, g, g.CreateVertex(Worker1, 0))
	mustAppend(t, g, g.CreateVertex(Worker1, 2), graph.WithContext(graph.OSRunning))
	mustAppend(t, g, g.CreateVertex(Worker1, 4), graph.WithContext(graph.OSRunning), q)
	mustAppend(t, g, g.CreateVertex(Worker1, 6), graph.WithContext(graph.OSBlocked))
	mustAppend(t, g, g.CreateVertex(Worker1, 8), graph.WithContext(graph.OSRunning), q)
	mustAdd(t, g, g.CreateVertex(Worker2, 3))
	mustAppend(t, g, g.CreateVertex(Worker2, 6), graph.WithContext(graph.OSRunning), q)
	links := [][2]graph.Vertex{
		{g.CreateVertex(Worker1, 2), g.CreateVertex(Worker2, 3)},
		{g.CreateVertex(Worker2, 6), g.CreateVertex(Worker1, 6)},
	}
	for _, l := range links {
		if _, err := g.EdgeVertical(l[0], l[1], graph.OSDefault); err != nil {
			t.Fatalf("Can't link %s and %s: %v\n", l[0], l[1], err)
		}
	}

	expected := []string{
		"test/1@0->test/1@2 RUNNING",
		"test/1@2->test/1@4 RUNNING \"q\"",
		"test/1@4->test/2@4 DEFAULT",
		"test/1@6->test/1@8 RUNNING \"q\"",
		"test/2@4->test/2@6 RUNNING \"q\"",
		"test/2@6->test/1@6 DEFAULT",
	}
	check := func(r graph.Reader, when string) {
		path, err := graph.ComputeWorkerCriticalPath(context.Background(), r, Worker1)
		if err != nil {
			t.Fatalf("Can't compute critical path %s: %v\n", when, err)
		}
		if got := pathEdges(path); !reflect.DeepEqual(got, expected) {
			t.Errorf("Critical path %s: expected\n%v\ngot\n%v\n", when, expected, got)
		}
		if path.StartTime() != 0 || path.EndTime() != 8 {
			t.Errorf("Critical path %s: expected [0, 8], got [%d, %d]\n", when, path.StartTime(), path.EndTime())
		}
	}
	check(g, "while building")
	r, err := g.CloseGraph(8)
	if err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	check(r, "after closing")
}

func testConcurrentReaders(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	const n = 200
	mustAdd(t, g, g.CreateVertex(Worker1, 0))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				head, found := g.Head(Worker1)
				if !found {
					t.Errorf("Head of %s missing while building\n", Worker1)
					return
				}
				last := int64(-1)
				for v := range g.NodesOf(Worker1) {
					if v.Timestamp <= last {
						t.Errorf("Vertices of %s out of order: %d after %d\n", Worker1, v.Timestamp, last)
						return
					}
					last = v.Timestamp
					if e := g.EdgeFrom(v, graph.IncomingHorizontal); e != nil && e.To != v {
						t.Errorf("Incoming edge of %s ends at %s\n", v, e.To)
						return
					}
				}
				if tail, found := g.Tail(Worker1); found && g.HeadOf(tail) != head {
					t.Errorf("Expected head %s for tail %s, got %s\n", head, tail, g.HeadOf(tail))
					return
				}
				if _, err := graph.ComputeStatistics(context.Background(), g, Worker1); err != nil {
					t.Errorf("Can't compute statistics while building: %v\n", err)
					return
				}
			}
		}()
	}

	for ts := int64(1); ts <= n; ts++ {
		mustAppend(t, g, g.CreateVertex(Worker1, 2*ts))
		if ts%10 == 0 {
			from, to := g.CreateVertex(Worker1, 2*ts), g.CreateVertex(Worker2, 2*ts+1)
			if ts == 10 {
				mustAdd(t, g, to)
			} else {
				mustAppend(t, g, to)
			}
			if _, err := g.EdgeVertical(from, to, graph.OSNetwork); err != nil {
				close(done)
				wg.Wait()
				t.Fatalf("Can't link %s and %s: %v\n", from, to, err)
			}
		}
	}
	close(done)
	wg.Wait()

	if got := countNodes(g, Worker1); got != n+1 {
		t.Errorf("Expected %d vertices for %s, got %d\n", n+1, Worker1, got)
	}
	if got := countNodes(g, Worker2); got != n/10 {
		t.Errorf("Expected %d vertices for %s, got %d\n", n/10, Worker2, got)
	}
}

func testQueriesAfterClose(t *testing.T, newGraph NewGraphFunc) {
	g := newTestGraph(t, newGraph)
	buildFullGraph(t, g)
	v := g.CreateVertex(Worker1, 4)
	if !g.IsVertexInGraph(v) {
		t.Fatalf("Expected %s in graph before closing\n", v)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	if g.IsVertexInGraph(v) {
		t.Errorf("Expected %s gone after closing\n", v)
	}
	if workers := g.Workers(); len(workers) != 0 {
		t.Errorf("Expected no workers after closing, got %v\n", workers)
	}
	if _, found := g.Tail(Worker1); found {
		t.Errorf("Expected no tail after closing\n")
	}
	if _, found := g.VertexAt(Worker2, 5); found {
		t.Errorf("Expected no vertex after closing\n")
	}
	if got := countNodes(g, Worker1); got != 0 {
		t.Errorf("Expected no vertices after closing, got %d\n", got)
	}
}
