/*
	Package memory implements an execution graph held entirely in memory on top of
	the NodeGraph representation.  Nothing is persisted, so it suits small graphs
	and tests.
*/
package memory

import (
	"fmt"
	"sync"

	"github.com/DmitriyVTitov/size"
	"github.com/blang/semver"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
)

func init() {
	ver, err := semver.Make("1.0.0")
	if err != nil {
		egraph.Errorf("Unable to make semver in memory: %v\n", err)
	}
	e := Engine{"memory", "In-memory execution graph", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) IsPersistent() bool {
	return false
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewGraph returns an empty in-memory graph.  Only the "start_time" setting is
// used.
func (e Engine) NewGraph(config egraph.StoreConfig, opts storage.Options) (graph.Graph, error) {
	start, err := storage.StartTime(config)
	if err != nil {
		return nil, err
	}
	return New(start), nil
}

// Graph adapts a NodeGraph to the graph.Graph interface.
type Graph struct {
	*graph.Base
	nodes *nodeStore
}

// New returns an empty graph whose vertices may not precede start.
func New(start int64) *Graph {
	s := &nodeStore{
		ng:     NewNodeGraph(),
		lookup: make(map[graph.Vertex]*Node),
	}
	return &Graph{
		Base:  graph.NewBase(start, graph.NewWorkerTable(), s),
		nodes: s,
	}
}

// NodeGraph returns the underlying representation.
func (g *Graph) NodeGraph() *NodeGraph {
	return g.nodes.ng
}

// CloseGraph ends construction.
func (g *Graph) CloseGraph(end int64) (graph.Reader, error) {
	if err := g.Seal(end); err != nil {
		return nil, err
	}
	egraph.Debugf("Closed in-memory graph with %d vertices (%s)\n",
		g.nodes.ng.NodeCount(), humanize.Bytes(uint64(g.MemSize())))
	return graph.ReadOnly(g), nil
}

// Close drops the graph's content.  The graph is empty afterwards.
func (g *Graph) Close() error {
	g.Release()
	g.nodes.mu.Lock()
	defer g.nodes.mu.Unlock()
	g.nodes.ng = NewNodeGraph()
	g.nodes.lookup = make(map[graph.Vertex]*Node)
	return nil
}

// MemSize returns the approximate number of bytes held by the graph.
func (g *Graph) MemSize() int {
	g.nodes.mu.RLock()
	defer g.nodes.mu.RUnlock()
	return size.Of(g.nodes.lookup)
}

// nodeStore implements graph.Store on a NodeGraph.
type nodeStore struct {
	mu     sync.RWMutex
	ng     *NodeGraph
	lookup map[graph.Vertex]*Node
}

func (s *nodeStore) node(v graph.Vertex) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup[v]
}

func (s *nodeStore) PutVertex(v graph.Vertex, prev *graph.Vertex, e *graph.Edge) error {
	n := &Node{Timestamp: v.Timestamp}
	s.mu.Lock()
	s.lookup[v] = n
	s.mu.Unlock()
	s.ng.Append(v.WorkerID, n)
	if e != nil {
		from := s.node(*prev)
		if from == nil {
			return fmt.Errorf("previous vertex %s missing from node graph", *prev)
		}
		s.ng.LinkHorizontal(from, n, e.Context, e.Label)
	}
	return nil
}

func (s *nodeStore) PutHorizontal(e graph.Edge) error {
	from, to := s.node(e.From), s.node(e.To)
	if from == nil || to == nil {
		return fmt.Errorf("edge %s joins vertices missing from node graph", e)
	}
	s.ng.LinkHorizontal(from, to, e.Context, e.Label)
	return nil
}

func (s *nodeStore) PutVertical(e graph.Edge) error {
	from, to := s.node(e.From), s.node(e.To)
	if from == nil || to == nil {
		return fmt.Errorf("edge %s joins vertices missing from node graph", e)
	}
	s.ng.LinkVertical(from, to, e.Context, e.Label)
	return nil
}

func (s *nodeStore) vertexOf(n *Node) (graph.Vertex, bool) {
	id, found := s.ng.Owner(n)
	return graph.Vertex{WorkerID: id, Timestamp: n.Timestamp}, found
}

func (s *nodeStore) EdgeFrom(v graph.Vertex, dir graph.Direction) *graph.Edge {
	n := s.node(v)
	if n == nil {
		return nil
	}
	l := s.ng.Edge(n, dir)
	if l == nil {
		return nil
	}
	from, okFrom := s.vertexOf(l.From)
	to, okTo := s.vertexOf(l.To)
	if !okFrom || !okTo {
		return nil
	}
	return &graph.Edge{From: from, To: to, Context: l.Context, Label: l.Label}
}

func (s *nodeStore) Next(v graph.Vertex) (graph.Vertex, bool) {
	nodes, i := s.ng.Search(v.WorkerID, v.Timestamp+1)
	if i >= len(nodes) {
		return graph.Vertex{}, false
	}
	return graph.Vertex{WorkerID: v.WorkerID, Timestamp: nodes[i].Timestamp}, true
}

func (s *nodeStore) Contains(v graph.Vertex) bool {
	return s.node(v) != nil
}

func (s *nodeStore) Ceiling(id graph.WorkerID, ts int64) (graph.Vertex, bool) {
	nodes, i := s.ng.Search(id, ts)
	if i >= len(nodes) {
		return graph.Vertex{}, false
	}
	return graph.Vertex{WorkerID: id, Timestamp: nodes[i].Timestamp}, true
}

func (s *nodeStore) Finish(end int64) error {
	return nil
}
