package badger

import (
	"errors"
	"os"
	"testing"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
	"github.com/janelia-flyem/egraph/tests"
)

var testOptions = storage.Options{Serializer: tests.Serializer{}}

func testConfig(t *testing.T) egraph.StoreConfig {
	config := tests.TempStoreConfig(t, "badger")
	config.Set("memtable_mb", 8)
	config.Set("value_log_mb", 16)
	config.Set("cache_entries", 64)
	return config
}

func openGraph(t *testing.T, config egraph.StoreConfig) *Graph {
	g, err := storage.NewGraph(config, testOptions)
	if err != nil {
		t.Fatalf("Can't open badger graph: %v\n", err)
	}
	return g.(*Graph)
}

func TestGraph(t *testing.T) {
	tests.RunGraphSuite(t, func(t *testing.T) (graph.Graph, func() (graph.Graph, error)) {
		config := testConfig(t)
		reopen := func() (graph.Graph, error) {
			return storage.NewGraph(config, testOptions)
		}
		return openGraph(t, config), reopen
	})
}

func TestVertexKeyOrder(t *testing.T) {
	a, b := vertexKey(1, 255), vertexKey(1, 256)
	if string(a) >= string(b) {
		t.Errorf("Vertex keys should sort by timestamp: %x >= %x\n", a, b)
	}
	if string(vertexKey(1, 1<<40)) >= string(vertexKey(2, 0)) {
		t.Errorf("Vertex keys should sort by worker first\n")
	}
	v, err := decodeVertexKey(vertexKey(7, 12345))
	if err != nil || v != (graph.Vertex{WorkerID: 7, Timestamp: 12345}) {
		t.Errorf("Bad decoded vertex key: %s (%v)\n", v, err)
	}
	if _, err := decodeVertexKey(workerKey(7)); err == nil {
		t.Errorf("Expected error decoding a worker key as vertex key\n")
	}
}

func TestVertexRecord(t *testing.T) {
	var rec vertexRecord
	rec[graph.OutgoingVertical] = slot{set: true, worker: 2, ts: 40, context: int(graph.OSNetwork), label: "socket"}
	rec[graph.IncomingHorizontal] = slot{set: true, worker: 1, ts: 10, context: int(graph.OSRunning)}
	got, err := unmarshalVertexRecord(rec.marshal())
	if err != nil {
		t.Fatalf("Can't decode vertex record: %v\n", err)
	}
	if got != rec {
		t.Errorf("Expected record %v, got %v\n", rec, got)
	}
	if _, err := unmarshalVertexRecord(metadata{}.marshal()); err == nil {
		t.Errorf("Expected error decoding metadata as vertex record\n")
	}
}

func TestReopenRules(t *testing.T) {
	config := testConfig(t)
	config.Set("provider_version", 3)

	g := openGraph(t, config)
	id := g.GraphID()
	for ts := int64(0); ts < 4; ts++ {
		if _, err := g.Append(g.CreateVertex(tests.Worker1, ts)); err != nil {
			t.Fatalf("Can't append vertex: %v\n", err)
		}
	}
	// Leave the database behind as a crashed builder would.
	if err := g.store.db.Close(); err != nil {
		t.Fatalf("Can't close database: %v\n", err)
	}

	config.Set("existing", true)
	if _, err := storage.NewGraph(config, testOptions); !errors.Is(err, graph.ErrUnavailable) {
		t.Errorf("Expected unfinished graph to be unavailable, got %v\n", err)
	}
	config.Set("existing", false)

	// Unfinished graphs are dropped.
	g = openGraph(t, config)
	if g.IsDoneBuilding() || len(g.Workers()) != 0 || g.GraphID() == id {
		t.Errorf("Expected a new empty graph after unfinished build\n")
	}
	if _, err := g.Append(g.CreateVertex(tests.Worker2, 7)); err != nil {
		t.Fatalf("Can't append vertex: %v\n", err)
	}
	if _, err := g.CloseGraph(9); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	g.Close()

	config.Set("provider_version", 4)
	if _, err := storage.NewGraph(config, testOptions); !errors.Is(err, graph.ErrVersionMismatch) {
		t.Errorf("Expected version mismatch, got %v\n", err)
	}

	config.Set("provider_version", 3)
	config.Set("existing", true)
	g = openGraph(t, config)
	defer g.Close()
	if !g.IsDoneBuilding() || g.EndTime() != 9 {
		t.Errorf("Expected finished graph ending at 9, got end %d\n", g.EndTime())
	}
	if tail, found := g.Tail(tests.Worker2); !found || tail.Timestamp != 7 {
		t.Errorf("Expected tail at 7, got %s\n", tail)
	}
}

func TestCloseUnfinished(t *testing.T) {
	config := testConfig(t)
	g := openGraph(t, config)
	for ts := int64(0); ts < 10; ts++ {
		if _, err := g.Append(g.CreateVertex(tests.Worker1, ts)); err != nil {
			t.Fatalf("Can't append vertex: %v\n", err)
		}
	}
	dir := g.Directory()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Expected database directory while building: %v\n", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Expected %s removed after closing unfinished graph, got %v\n", dir, err)
	}
	if len(g.Workers()) != 0 || g.IsVertexInGraph(g.CreateVertex(tests.Worker1, 3)) {
		t.Errorf("Expected closed graph to be empty\n")
	}
	if _, found := g.Tail(tests.Worker1); found {
		t.Errorf("Expected no tail after close\n")
	}

	g = openGraph(t, config)
	defer g.Close()
	if g.IsDoneBuilding() || len(g.Workers()) != 0 {
		t.Errorf("Expected a new empty graph after closing an unfinished one\n")
	}
}

func TestCloseFinishedKeepsData(t *testing.T) {
	config := testConfig(t)
	g := openGraph(t, config)
	if _, err := g.Append(g.CreateVertex(tests.Worker1, 1)); err != nil {
		t.Fatalf("Can't append vertex: %v\n", err)
	}
	if _, err := g.CloseGraph(2); err != nil {
		t.Fatalf("Can't finish graph: %v\n", err)
	}
	dir := g.Directory()
	if err := g.Close(); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected finished graph kept in %s: %v\n", dir, err)
	}
}
