package graph_test

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage/memory"
)

var (
	client = graph.KeyWorker("client")
	server = graph.KeyWorker("server")
)

// exchange builds
//
//	client  0 ---- 10 ---------- 20
//	               |
//	server      5 ---- 15
func exchange(t *testing.T) *memory.Graph {
	g := memory.New(0)
	for _, v := range []graph.Vertex{
		g.CreateVertex(client, 0), g.CreateVertex(client, 10), g.CreateVertex(client, 20),
		g.CreateVertex(server, 5), g.CreateVertex(server, 15),
	} {
		if _, err := g.Append(v, graph.WithContext(graph.OSRunning)); err != nil {
			t.Fatalf("Can't append %s: %v\n", v, err)
		}
	}
	if _, err := g.EdgeVertical(g.CreateVertex(client, 10), g.CreateVertex(server, 15), graph.OSNetwork); err != nil {
		t.Fatalf("Can't add vertical edge: %v\n", err)
	}
	return g
}

type recorder struct {
	events []string
}

func (r *recorder) VisitHead(v graph.Vertex)   { r.events = append(r.events, "head "+v.String()) }
func (r *recorder) VisitVertex(v graph.Vertex) { r.events = append(r.events, "vertex "+v.String()) }
func (r *recorder) VisitEdge(e graph.Edge, horizontal bool) {
	kind := "vertical"
	if horizontal {
		kind = "horizontal"
	}
	r.events = append(r.events, fmt.Sprintf("%s %s->%s", kind, e.From, e.To))
}

func TestScanLineOrder(t *testing.T) {
	g := exchange(t)
	var rec recorder
	if err := graph.ScanLineTraverseWorker(context.Background(), g, client, &rec); err != nil {
		t.Fatalf("Traversal failed: %v\n", err)
	}
	expected := []string{
		"head [0@0]", "vertex [0@0]", "horizontal [0@0]->[0@10]",
		"vertex [0@10]", "vertical [0@10]->[1@15]", "horizontal [0@10]->[0@20]",
		"head [1@5]", "vertex [1@5]", "horizontal [1@5]->[1@15]",
		"vertex [1@15]",
		"vertex [0@20]",
	}
	if !reflect.DeepEqual(rec.events, expected) {
		t.Errorf("Expected traversal:\n%v\ngot:\n%v\n", expected, rec.events)
	}
}

func TestScanLineFromMiddle(t *testing.T) {
	g := exchange(t)
	var rec recorder
	start := g.CreateVertex(server, 15)
	if err := graph.ScanLineTraverse(context.Background(), graph.ReadOnly(g), start, &rec); err != nil {
		t.Fatalf("Traversal failed: %v\n", err)
	}
	if len(rec.events) != 11 || rec.events[0] != "head [1@5]" {
		t.Errorf("Expected a walk of the whole graph from the server head, got %v\n", rec.events)
	}

	rec.events = nil
	missing := g.CreateVertex(server, 7)
	if err := graph.ScanLineTraverse(context.Background(), g, missing, &rec); err != nil || len(rec.events) != 0 {
		t.Errorf("Expected empty walk from a vertex outside the graph, got %v (%v)\n", rec.events, err)
	}
	if err := graph.ScanLineTraverseWorker(context.Background(), g, graph.KeyWorker("nobody"), &rec); err != nil || len(rec.events) != 0 {
		t.Errorf("Expected empty walk from an unknown worker\n")
	}
}

func TestStatistics(t *testing.T) {
	g := exchange(t)
	r, err := g.CloseGraph(30)
	if err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	for _, w := range []graph.Worker{client, server} {
		stats, err := graph.ComputeStatistics(context.Background(), r, w)
		if err != nil {
			t.Fatalf("Can't compute statistics: %v\n", err)
		}
		if stats.Sum(client) != 20 || stats.Sum(server) != 10 || stats.Total() != 30 {
			t.Errorf("From %s: expected sums 20/10/30, got %d/%d/%d\n", w, stats.Sum(client), stats.Sum(server), stats.Total())
		}
		if math.Abs(stats.Percent(client)-200.0/3) > 1e-9 {
			t.Errorf("Expected client at 66.67%%, got %f\n", stats.Percent(client))
		}
		if stats.Workers()[0] != w || len(stats.Workers()) != 2 {
			t.Errorf("Expected %s reached first, got %v\n", w, stats.Workers())
		}
	}

	stats, err := graph.ComputeStatistics(context.Background(), r, graph.KeyWorker("nobody"))
	if err != nil || stats.Total() != 0 || stats.Percent(client) != 0 {
		t.Errorf("Expected empty statistics for unknown worker\n")
	}
}

func TestStatisticsCancelled(t *testing.T) {
	g := exchange(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := graph.ComputeStatistics(ctx, g, client)
	if err != context.Canceled {
		t.Errorf("Expected cancellation, got %v\n", err)
	}
	if !stats.Aborted() || stats.Total() != 0 {
		t.Errorf("Expected aborted empty statistics\n")
	}
}
