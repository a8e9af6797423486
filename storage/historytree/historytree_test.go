package historytree

import (
	"errors"
	"math/rand"
	"os"
	"strings"
	"testing"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
	"github.com/janelia-flyem/egraph/storage/memory"
	"github.com/janelia-flyem/egraph/tests"
)

var testOptions = storage.Options{Serializer: tests.Serializer{}}

func testConfig(t *testing.T, settings egraph.Config) egraph.StoreConfig {
	config := tests.TempStoreConfig(t, "historytree")
	for k, v := range settings {
		config.Set(k, v)
	}
	return config
}

func openGraph(t *testing.T, config egraph.StoreConfig) *Graph {
	g, err := storage.NewGraph(config, testOptions)
	if err != nil {
		t.Fatalf("Can't open history tree graph: %v\n", err)
	}
	return g.(*Graph)
}

func suiteGraphs(settings egraph.Config) tests.NewGraphFunc {
	return func(t *testing.T) (graph.Graph, func() (graph.Graph, error)) {
		config := testConfig(t, settings)
		reopen := func() (graph.Graph, error) {
			return storage.NewGraph(config, testOptions)
		}
		return openGraph(t, config), reopen
	}
}

func TestGraph(t *testing.T) {
	tests.RunGraphSuite(t, suiteGraphs(nil))
}

func TestGraphSmallBlocks(t *testing.T) {
	tests.RunGraphSuite(t, suiteGraphs(egraph.Config{"block_size": 320, "max_children": 2}))
}

func TestGraphZstd(t *testing.T) {
	tests.RunGraphSuite(t, suiteGraphs(egraph.Config{"block_size": 512, "max_children": 3, "compression": "zstd"}))
}

func TestBadConfig(t *testing.T) {
	for _, settings := range []egraph.Config{
		{"max_children": 1},
		{"block_size": 256, "max_children": 50},
		{"compression": "lz4"},
		{"block_size": "big"},
	} {
		config := testConfig(t, settings)
		if _, err := storage.NewGraph(config, testOptions); err == nil {
			t.Errorf("Expected configuration %v to be rejected\n", settings)
		}
	}
	config := tests.TempStoreConfig(t, "historytree")
	delete(config.Config, "path")
	if _, err := storage.NewGraph(config, testOptions); err == nil {
		t.Errorf("Expected configuration without path to be rejected\n")
	}
}

func TestNoSerializer(t *testing.T) {
	config := testConfig(t, nil)
	if _, err := storage.NewGraph(config, storage.Options{}); !errors.Is(err, graph.ErrNoSerializer) {
		t.Errorf("Expected missing serializer error, got %v\n", err)
	}
}

func TestDefaultEngine(t *testing.T) {
	config := testConfig(t, nil)
	config.Engine = ""
	g, err := storage.NewGraph(config, testOptions)
	if err != nil {
		t.Fatalf("Can't open graph with default engine: %v\n", err)
	}
	defer g.Close()
	if _, ok := g.(*Graph); !ok {
		t.Errorf("Expected history tree graph by default, got %T\n", g)
	}
}

// finishedGraph builds and finishes a small graph, returning its configuration.
func finishedGraph(t *testing.T, settings egraph.Config) egraph.StoreConfig {
	config := testConfig(t, settings)
	g := openGraph(t, config)
	defer g.Close()
	for ts := int64(0); ts < 10; ts++ {
		if _, err := g.Append(g.CreateVertex(tests.Worker1, ts)); err != nil {
			t.Fatalf("Can't append vertex: %v\n", err)
		}
	}
	if _, err := g.EdgeVertical(g.CreateVertex(tests.Worker1, 4), g.CreateVertex(tests.Worker2, 6), graph.OSNetwork); err != nil {
		t.Fatalf("Can't add vertical edge: %v\n", err)
	}
	if _, err := g.CloseGraph(10); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	return config
}

func TestVersionMismatch(t *testing.T) {
	config := finishedGraph(t, egraph.Config{"provider_version": 1})
	config.Set("provider_version", 2)
	if _, err := storage.NewGraph(config, testOptions); !errors.Is(err, graph.ErrVersionMismatch) {
		t.Errorf("Expected version mismatch, got %v\n", err)
	}
	config.Set("provider_version", 1)
	g := openGraph(t, config)
	defer g.Close()
	if !g.IsDoneBuilding() || g.EndTime() != 10 {
		t.Errorf("Expected finished graph ending at 10, got end %d\n", g.EndTime())
	}
}

func TestMissingWorkerFile(t *testing.T) {
	config := finishedGraph(t, nil)
	o, err := parseConfig(config)
	if err != nil {
		t.Fatalf("Can't parse configuration: %v\n", err)
	}
	_, workerFile := o.filenames()
	if err := os.Remove(workerFile); err != nil {
		t.Fatalf("Can't remove worker file: %v\n", err)
	}
	if _, err := storage.NewGraph(config, testOptions); !errors.Is(err, graph.ErrUnpairedFiles) {
		t.Errorf("Expected unpaired files error, got %v\n", err)
	}
}

func TestMissingGraphFile(t *testing.T) {
	config := finishedGraph(t, nil)
	o, err := parseConfig(config)
	if err != nil {
		t.Fatalf("Can't parse configuration: %v\n", err)
	}
	graphFile, workerFile := o.filenames()
	if err := os.Remove(graphFile); err != nil {
		t.Fatalf("Can't remove graph file: %v\n", err)
	}
	if _, err := storage.NewGraph(config, testOptions); !errors.Is(err, graph.ErrUnpairedFiles) {
		t.Errorf("Expected unpaired files error, got %v\n", err)
	}
	if _, err := os.Stat(workerFile); err != nil {
		t.Errorf("Expected orphan worker file left in place: %v\n", err)
	}
}

func TestUnpairedFiles(t *testing.T) {
	configA := finishedGraph(t, nil)
	configB := finishedGraph(t, nil)
	oA, _ := parseConfig(configA)
	oB, _ := parseConfig(configB)
	_, workersA := oA.filenames()
	_, workersB := oB.filenames()
	data, err := os.ReadFile(workersB)
	if err != nil {
		t.Fatalf("Can't read worker file: %v\n", err)
	}
	if err := os.WriteFile(workersA, data, 0644); err != nil {
		t.Fatalf("Can't write worker file: %v\n", err)
	}
	if _, err := storage.NewGraph(configA, testOptions); !errors.Is(err, graph.ErrUnpairedFiles) {
		t.Errorf("Expected unpaired files error, got %v\n", err)
	}
}

func TestCorruptGraphFile(t *testing.T) {
	config := finishedGraph(t, nil)
	o, _ := parseConfig(config)
	graphFile, _ := o.filenames()
	if err := os.WriteFile(graphFile, []byte(strings.Repeat("garbage", 1000)), 0644); err != nil {
		t.Fatalf("Can't overwrite graph file: %v\n", err)
	}
	if _, err := storage.NewGraph(config, testOptions); !errors.Is(err, graph.ErrUnavailable) {
		t.Errorf("Expected unavailable graph, got %v\n", err)
	}
}

func TestCloseUnfinished(t *testing.T) {
	config := testConfig(t, nil)
	g := openGraph(t, config)
	for ts := int64(0); ts < 10; ts++ {
		if _, err := g.Append(g.CreateVertex(tests.Worker1, ts)); err != nil {
			t.Fatalf("Can't append vertex: %v\n", err)
		}
	}
	graphFile, workerFile := g.Filenames()
	if _, err := os.Stat(graphFile); err != nil {
		t.Fatalf("Expected graph file while building: %v\n", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	for _, filename := range []string{graphFile, workerFile} {
		if _, err := os.Stat(filename); !os.IsNotExist(err) {
			t.Errorf("Expected %s removed after closing unfinished graph, got %v\n", filename, err)
		}
	}
	if err := g.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got %v\n", err)
	}
	if g.IsVertexInGraph(g.CreateVertex(tests.Worker1, 9)) {
		t.Errorf("Expected closed graph to be empty\n")
	}
}

func TestUnfinishedDiscarded(t *testing.T) {
	config := testConfig(t, nil)
	g := openGraph(t, config)
	id := g.GraphID()
	for ts := int64(0); ts < 5; ts++ {
		if _, err := g.Append(g.CreateVertex(tests.Worker1, ts)); err != nil {
			t.Fatalf("Can't append vertex: %v\n", err)
		}
	}
	// Leave the files behind as a crashed builder would.
	if err := g.store.io.close(); err != nil {
		t.Fatalf("Can't close graph file: %v\n", err)
	}

	existing := testConfig(t, nil)
	for k, v := range config.GetAll() {
		existing.Set(k, v)
	}
	existing.Set("existing", true)
	if _, err := storage.NewGraph(existing, testOptions); !errors.Is(err, graph.ErrUnavailable) {
		t.Errorf("Expected unfinished graph to be unavailable, got %v\n", err)
	}

	g2 := openGraph(t, config)
	defer g2.Close()
	if g2.IsDoneBuilding() {
		t.Errorf("Unfinished graph should have been replaced by a new one\n")
	}
	if g2.GraphID() == id {
		t.Errorf("Expected a new graph id after discarding\n")
	}
	if len(g2.Workers()) != 0 {
		t.Errorf("Expected empty graph, got workers %v\n", g2.Workers())
	}
}

func TestExistingOnly(t *testing.T) {
	config := testConfig(t, egraph.Config{"existing": true})
	if _, err := storage.NewGraph(config, testOptions); !errors.Is(err, graph.ErrUnavailable) {
		t.Errorf("Expected missing graph to be unavailable, got %v\n", err)
	}

	config = finishedGraph(t, nil)
	config.Set("existing", true)
	g := openGraph(t, config)
	defer g.Close()
	if !g.IsDoneBuilding() {
		t.Errorf("Expected finished graph\n")
	}
}

func TestRecordTooLarge(t *testing.T) {
	g := openGraph(t, testConfig(t, egraph.Config{"block_size": 320, "max_children": 2}))
	defer g.Close()
	if _, err := g.Append(g.CreateVertex(tests.Worker1, 0)); err != nil {
		t.Fatalf("Can't append vertex: %v\n", err)
	}
	long := graph.WithLabel(strings.Repeat("x", 500))
	_, err := g.Append(g.CreateVertex(tests.Worker1, 1), long)
	if !errors.Is(err, graph.ErrEdgeTooLarge) || !errors.Is(err, errRecordTooLarge) {
		t.Fatalf("Expected edge too large error, got %v\n", err)
	}
	var cerr *graph.ConstructionError
	if !errors.As(err, &cerr) {
		t.Errorf("Expected a construction error, got %T\n", err)
	}
	if _, found := g.VertexAt(tests.Worker1, 1); found {
		t.Errorf("Rejected vertex should not be in the graph\n")
	}
	_, err = g.EdgeVertical(g.CreateVertex(tests.Worker1, 0), g.CreateVertex(tests.Worker2, 3), graph.OSNetwork, long)
	if !errors.Is(err, graph.ErrEdgeTooLarge) {
		t.Errorf("Expected edge too large error for vertical edge, got %v\n", err)
	}
	if len(g.Workers()) != 1 {
		t.Errorf("Rejected vertical edge should not add vertices, got workers %v\n", g.Workers())
	}

	// The graph is still usable and matches a memory graph given the same calls.
	mem := memory.New(0)
	mustAppend(t, mem, mem.CreateVertex(tests.Worker1, 0))
	for _, gr := range []graph.Graph{mem, g} {
		mustAppend(t, gr, gr.CreateVertex(tests.Worker1, 2), graph.WithLabel("short"))
		mustAppend(t, gr, gr.CreateVertex(tests.Worker2, 3))
	}
	compareGraphs(t, mem, g)
	if _, err := g.CloseGraph(5); err != nil {
		t.Errorf("Expected graph to close after a rejected edge, got %v\n", err)
	}
}

func mustAppend(t *testing.T, g graph.Graph, v graph.Vertex, opts ...graph.EdgeOption) {
	t.Helper()
	if _, err := g.Append(v, opts...); err != nil {
		t.Fatalf("Can't append %s: %v\n", v, err)
	}
}

func TestDecodedNodeCache(t *testing.T) {
	config := finishedGraph(t, egraph.Config{"block_size": 320, "max_children": 2})
	g := openGraph(t, config)
	defer g.Close()
	nio := g.store.io
	ref := g.store.t.rootAt

	first, err := nio.readNode(ref)
	if err != nil {
		t.Fatalf("Can't read root: %v\n", err)
	}
	nio.cache.Clear()
	second, err := nio.readNode(ref)
	if err != nil {
		t.Fatalf("Can't read root again: %v\n", err)
	}
	if first != second {
		t.Errorf("Expected decoded root served from the node cache\n")
	}
	if nio.decoded.Len() == 0 {
		t.Errorf("Expected decoded nodes cached\n")
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	if nio.decoded.Len() != 0 {
		t.Errorf("Expected node cache cleared on close, got %d nodes\n", nio.decoded.Len())
	}
}

type chainState struct {
	prev, last int64
	count      int
	gap        bool // prev and last are joined without an edge
}

// buildRandom applies the same random construction calls to every graph.
func buildRandom(t *testing.T, seed int64, n int, graphs ...graph.Graph) {
	rnd := rand.New(rand.NewSource(seed))
	workers := []graph.Worker{tests.Worker1, tests.Worker2, tests.Worker3}
	chains := make(map[graph.Worker]*chainState)
	ts := int64(0)
	for i := 0; i < n; i++ {
		ts += int64(rnd.Intn(3))
		wi := rnd.Intn(len(workers))
		w, other := workers[wi], workers[(wi+1+rnd.Intn(len(workers)-1))%len(workers)]
		op := rnd.Intn(10)
		ctx := graph.OSEdgeContext(rnd.Intn(13))

		c, found := chains[w]
		if !found {
			c = &chainState{}
			chains[w] = c
		}
		latest := c.count > 0 && c.last == ts
		link := op == 7 && c.gap
		vertical := op >= 8 && !latest

		for _, g := range graphs {
			v := g.CreateVertex(w, ts)
			var err error
			switch {
			case link:
				_, err = g.Edge(g.CreateVertex(w, c.prev), g.CreateVertex(w, c.last), graph.WithLabel("late"))
			case vertical:
				from, found := g.Tail(other)
				if found && g.EdgeFrom(from, graph.OutgoingVertical) == nil {
					_, err = g.EdgeVertical(from, v, graph.OSNetwork)
				} else {
					err = g.Add(v)
				}
			case op < 5:
				_, err = g.Append(v, graph.WithContext(ctx))
			default:
				err = g.Add(v)
			}
			if err != nil {
				t.Fatalf("Operation %d on %s at %d failed: %v\n", i, w, ts, err)
			}
		}

		switch {
		case link:
			c.gap = false
		case latest:
		default:
			c.gap = c.count > 0 && op >= 5
			c.prev, c.last = c.last, ts
			c.count++
		}
	}
}

// compareGraphs checks every query of got against expected.
func compareGraphs(t *testing.T, expected, got graph.Reader) {
	t.Helper()
	for _, w := range expected.Workers() {
		var want, have []graph.Vertex
		for v := range expected.NodesOf(w) {
			want = append(want, v)
		}
		for v := range got.NodesOf(w) {
			have = append(have, v)
		}
		if len(want) != len(have) {
			t.Fatalf("Worker %s: expected %d vertices, got %d\n", w, len(want), len(have))
		}
		for i, v := range want {
			if have[i] != v {
				t.Fatalf("Worker %s: expected vertex %s at %d, got %s\n", w, v, i, have[i])
			}
			if !got.IsVertexInGraph(v) {
				t.Errorf("Vertex %s missing\n", v)
			}
			if eh, gh := expected.HeadOf(v), got.HeadOf(v); eh != gh {
				t.Errorf("Vertex %s: expected head %s, got %s\n", v, eh, gh)
			}
			for _, dir := range graph.Directions {
				ee, ge := expected.EdgeFrom(v, dir), got.EdgeFrom(v, dir)
				if (ee == nil) != (ge == nil) || (ee != nil && *ee != *ge) {
					t.Errorf("Vertex %s: expected %s edge %v, got %v\n", v, dir, ee, ge)
				}
			}
			missing := graph.Vertex{WorkerID: v.WorkerID, Timestamp: v.Timestamp + 1}
			if expected.IsVertexInGraph(missing) != got.IsVertexInGraph(missing) {
				t.Errorf("Vertex %s: existence differs\n", missing)
			}
			ev, efound := expected.VertexAt(w, v.Timestamp+1)
			gv, gfound := got.VertexAt(w, v.Timestamp+1)
			if ev != gv || efound != gfound {
				t.Errorf("Expected vertex %s at %d, got %s\n", ev, v.Timestamp+1, gv)
			}
		}
	}
}

func TestCompareWithMemory(t *testing.T) {
	config := testConfig(t, egraph.Config{"block_size": 320, "max_children": 3})
	g := openGraph(t, config)
	defer g.Close()
	mem := memory.New(0)
	buildRandom(t, 42, 2000, mem, g)

	compareGraphs(t, mem, g)
	if g.NodeCount() < 10 || g.Depth() < 3 {
		t.Errorf("Expected a deep tree, got %d nodes over %d levels\n", g.NodeCount(), g.Depth())
	}

	end := mem.EndTime() + 5
	if _, err := mem.CloseGraph(end); err != nil {
		t.Fatalf("Can't close memory graph: %v\n", err)
	}
	if _, err := g.CloseGraph(end); err != nil {
		t.Fatalf("Can't close graph: %v\n", err)
	}
	compareGraphs(t, mem, g)
	nodes := g.NodeCount()
	if err := g.Close(); err != nil {
		t.Fatalf("Can't close graph file: %v\n", err)
	}

	g2 := openGraph(t, config)
	defer g2.Close()
	if g2.NodeCount() != nodes {
		t.Errorf("Expected %d nodes after reopening, got %d\n", nodes, g2.NodeCount())
	}
	if g2.EndTime() != end {
		t.Errorf("Expected end time %d after reopening, got %d\n", end, g2.EndTime())
	}
	compareGraphs(t, mem, g2)
}

func TestTreeStab(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "tree")
	if err != nil {
		t.Fatalf("Can't create file: %v\n", err)
	}
	nio := newNodeIO(f, egraph.Uncompressed, 1)
	defer nio.close()
	tr := newTree(nio, 320, 2, 0)
	for i := int64(0); i < 200; i++ {
		if err := tr.insert(record{kind: gapRecord, worker: 1, from: i, to: i + 1}); err != nil {
			t.Fatalf("Can't insert record %d: %v\n", i, err)
		}
	}
	// A long interval starting early goes up the tree.
	if err := tr.insert(record{kind: verticalRecord, worker: 1, from: 3, toWorker: 2, to: 150}); err != nil {
		t.Fatalf("Can't insert vertical record: %v\n", err)
	}

	count := func(ts int64) int {
		var n int
		tr.stab(ts, func(r *record) bool { n++; return true })
		return n
	}
	check := func(when string) {
		if n := count(100); n != 3 {
			t.Errorf("%s: expected 3 records at 100, got %d\n", when, n)
		}
		if n := count(0); n != 1 {
			t.Errorf("%s: expected 1 record at 0, got %d\n", when, n)
		}
		if n := count(175); n != 2 {
			t.Errorf("%s: expected 2 records at 175, got %d\n", when, n)
		}
		if n := count(250); n != 0 {
			t.Errorf("%s: expected no record at 250, got %d\n", when, n)
		}
	}
	check("building")
	if tr.depth() < 3 {
		t.Errorf("Expected tree of depth 3 or more, got %d\n", tr.depth())
	}
	if err := tr.finish(200); err != nil {
		t.Fatalf("Can't finish tree: %v\n", err)
	}
	check("finished")
	if err := tr.insert(record{kind: gapRecord, worker: 1, from: 200, to: 201}); err == nil {
		t.Errorf("Expected insert in finished tree to fail\n")
	}
}
