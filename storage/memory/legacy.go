package memory

import (
	"sort"
	"sync"

	"github.com/janelia-flyem/egraph/graph"
)

// Node is a vertex of a NodeGraph.  Its edges are held directly, one slot per
// direction.
type Node struct {
	Timestamp int64
	edges     [4]*Link
}

// Link is an edge of a NodeGraph.
type Link struct {
	From, To *Node
	Context  graph.EdgeContextState
	Label    string
}

// EdgeAt returns the link in direction dir, or nil.
func (n *Node) EdgeAt(dir graph.Direction) *Link {
	return n.edges[dir]
}

// NodeGraph is the in-memory graph representation: per worker, the nodes in
// chronological order, each pointing directly at its links.
type NodeGraph struct {
	mu     sync.RWMutex
	nodes  map[graph.WorkerID][]*Node
	owners map[*Node]graph.WorkerID
}

func NewNodeGraph() *NodeGraph {
	return &NodeGraph{
		nodes:  make(map[graph.WorkerID][]*Node),
		owners: make(map[*Node]graph.WorkerID),
	}
}

// Append adds a node at the end of a worker's list.
func (ng *NodeGraph) Append(id graph.WorkerID, n *Node) {
	ng.mu.Lock()
	defer ng.mu.Unlock()
	ng.nodes[id] = append(ng.nodes[id], n)
	ng.owners[n] = id
}

// LinkHorizontal links two nodes of one worker.
func (ng *NodeGraph) LinkHorizontal(from, to *Node, ctx graph.EdgeContextState, label string) *Link {
	return ng.link(from, to, graph.OutgoingHorizontal, ctx, label)
}

// LinkVertical links nodes of two workers.
func (ng *NodeGraph) LinkVertical(from, to *Node, ctx graph.EdgeContextState, label string) *Link {
	return ng.link(from, to, graph.OutgoingVertical, ctx, label)
}

func (ng *NodeGraph) link(from, to *Node, out graph.Direction, ctx graph.EdgeContextState, label string) *Link {
	ng.mu.Lock()
	defer ng.mu.Unlock()
	l := &Link{From: from, To: to, Context: ctx, Label: label}
	from.edges[out] = l
	to.edges[out.Reverse()] = l
	return l
}

// Edge returns the link of n in direction dir.
func (ng *NodeGraph) Edge(n *Node, dir graph.Direction) *Link {
	ng.mu.RLock()
	defer ng.mu.RUnlock()
	return n.edges[dir]
}

// Owner returns the worker of a node.
func (ng *NodeGraph) Owner(n *Node) (graph.WorkerID, bool) {
	ng.mu.RLock()
	defer ng.mu.RUnlock()
	id, found := ng.owners[n]
	return id, found
}

// NodesOf returns the nodes of a worker.  The returned slice must not be
// modified.
func (ng *NodeGraph) NodesOf(id graph.WorkerID) []*Node {
	ng.mu.RLock()
	defer ng.mu.RUnlock()
	return ng.nodes[id]
}

// Search returns the position of the first node of a worker at or after ts.
func (ng *NodeGraph) Search(id graph.WorkerID, ts int64) (nodes []*Node, i int) {
	nodes = ng.NodesOf(id)
	i = sort.Search(len(nodes), func(i int) bool { return nodes[i].Timestamp >= ts })
	return
}

// NodeCount returns the number of nodes of every worker.
func (ng *NodeGraph) NodeCount() int {
	ng.mu.RLock()
	defer ng.mu.RUnlock()
	return len(ng.owners)
}
