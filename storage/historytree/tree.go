package historytree

import (
	"errors"
	"fmt"

	"github.com/janelia-flyem/egraph/egraph"
)

var errRecordTooLarge = errors.New("record does not fit in a tree node")

// tree is the history tree of interval records.  While the graph is built,
// the nodes from the root to the latest leaf stay in memory and every other
// node has been written to the graph file.  Once finished, every node is on
// disk and only the root is kept.
type tree struct {
	blockSize   int
	maxChildren int
	io          *nodeIO

	start     int64
	end       int64 // greatest record end
	nodeCount int32

	latest []*node
	root   *node
	rootAt childRef
}

func newTree(io *nodeIO, blockSize, maxChildren int, start int64) *tree {
	t := &tree{
		blockSize:   blockSize,
		maxChildren: maxChildren,
		io:          io,
		start:       start,
		end:         start,
	}
	t.latest = []*node{t.newNode(-1, start, true)}
	return t
}

// openTree returns a finished tree whose root was written at rootAt.
func openTree(io *nodeIO, hdr fileHeader) (*tree, error) {
	t := &tree{
		blockSize:   int(hdr.BlockSize),
		maxChildren: int(hdr.MaxChildren),
		io:          io,
		start:       hdr.Start,
		end:         hdr.End,
		nodeCount:   int32(hdr.NodeCount),
		rootAt:      childRef{seq: int32(hdr.RootSeq), offset: hdr.RootOffset, length: hdr.RootLength, start: hdr.Start, end: hdr.End},
	}
	root, err := io.readNode(t.rootAt)
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

func (t *tree) newNode(parent int32, start int64, leaf bool) *node {
	n := newNode(t.nodeCount, parent, start, leaf)
	t.nodeCount++
	return n
}

func (t *tree) finished() bool {
	return t.root != nil
}

// depth returns the number of levels of the tree.
func (t *tree) depth() int {
	if !t.finished() {
		return len(t.latest)
	}
	depth := 1
	for n := t.root; !n.leaf && len(n.children) > 0; depth++ {
		child, err := t.io.readNode(n.children[len(n.children)-1])
		if err != nil {
			egraph.Errorf("Unable to read node %d: %v\n", n.children[len(n.children)-1].seq, err)
			break
		}
		n = child
	}
	return depth
}

func (t *tree) insert(r record) error {
	if t.finished() {
		return fmt.Errorf("can't insert %s record in finished tree", r.kind)
	}
	size, err := t.fit(r)
	if err != nil {
		return err
	}
	if r.start() < t.start {
		return fmt.Errorf("%s record starting at %d precedes tree start %d", r.kind, r.start(), t.start)
	}
	return t.tryInsertAtNode(r, size, len(t.latest)-1)
}

// fit returns the size of r, or errRecordTooLarge if no node can hold it.
func (t *tree) fit(r record) (int, error) {
	size := r.size()
	if size > capacity(t.blockSize, t.maxChildren, false) {
		return size, fmt.Errorf("%w: %s record of %d bytes with block size %d", errRecordTooLarge, r.kind, size, t.blockSize)
	}
	return size, nil
}

// tryInsertAtNode adds r to the node at the given depth of the latest branch
// or, if r starts before that node, to one of its ancestors.  A full node is
// closed and replaced by a new sibling.
func (t *tree) tryInsertAtNode(r record, size, depth int) error {
	n := t.latest[depth]
	if r.start() < n.start {
		return t.tryInsertAtNode(r, size, depth-1)
	}
	if size > n.free(t.blockSize, t.maxChildren) {
		if err := t.addSiblingNode(depth, r.start()); err != nil {
			return err
		}
		return t.tryInsertAtNode(r, size, len(t.latest)-1)
	}
	n.add(r, size)
	if r.end() > t.end {
		t.end = r.end()
	}
	return nil
}

// addSiblingNode closes the latest branch from the leaf up to depth and starts
// a new branch from there.  If the parent at depth is full, the new branch
// starts higher up.
func (t *tree) addSiblingNode(depth int, start int64) error {
	if depth == 0 {
		return t.addNewRootNode(start)
	}
	parent := t.latest[depth-1]
	if len(parent.children) >= t.maxChildren || start < parent.start {
		return t.addSiblingNode(depth-1, start)
	}
	splitTime := t.end
	for i := len(t.latest) - 1; i >= depth; i-- {
		if _, err := t.closeNode(i, splitTime); err != nil {
			return err
		}
	}
	for i := depth; i < len(t.latest); i++ {
		prev := t.latest[i-1]
		n := t.newNode(prev.seq, start, t.latest[i].leaf)
		prev.linkChild(n)
		t.latest[i] = n
	}
	return nil
}

// addNewRootNode closes the whole latest branch, puts a new root above the old
// one and starts a new branch one level deeper.
func (t *tree) addNewRootNode(start int64) error {
	splitTime := t.end
	oldRoot := t.latest[0]
	newRoot := t.newNode(-1, t.start, false)
	oldRoot.parent = newRoot.seq

	var rootRef childRef
	for i := len(t.latest) - 1; i >= 0; i-- {
		ref, err := t.closeNode(i, splitTime)
		if err != nil {
			return err
		}
		rootRef = ref
	}
	newRoot.children = append(newRoot.children, rootRef)

	depth := len(t.latest)
	t.latest = append(t.latest[:0], newRoot)
	for i := 1; i <= depth; i++ {
		prev := t.latest[i-1]
		n := t.newNode(prev.seq, start, i == depth)
		prev.linkChild(n)
		t.latest = append(t.latest, n)
	}
	egraph.Debugf("History tree grew to depth %d with %d nodes\n", len(t.latest), t.nodeCount)
	return nil
}

// closeNode writes the node at the given depth of the latest branch and
// records where it went in its parent.
func (t *tree) closeNode(depth int, end int64) (childRef, error) {
	n := t.latest[depth]
	if end < n.start {
		end = n.start
	}
	n.end = end
	offset, length, err := t.io.writeNode(n)
	if err != nil {
		return childRef{}, fmt.Errorf("unable to write node %d: %w", n.seq, err)
	}
	ref := childRef{seq: n.seq, start: n.start, end: n.end, offset: offset, length: length}
	if depth > 0 {
		parent := t.latest[depth-1]
		parent.children[len(parent.children)-1] = ref
	}
	return ref, nil
}

// finish writes the latest branch.  Afterwards the tree is read-only.
func (t *tree) finish(end int64) error {
	if t.finished() {
		return nil
	}
	if end < t.end {
		end = t.end
	}
	for i := len(t.latest) - 1; i >= 0; i-- {
		ref, err := t.closeNode(i, end)
		if err != nil {
			return err
		}
		t.rootAt = ref
	}
	t.end = end
	t.root = t.latest[0]
	t.latest = nil
	return nil
}

// stab calls fn on every record whose interval contains ts until fn returns
// false.  Nodes that can't be read are logged and skipped.
func (t *tree) stab(ts int64, fn func(r *record) bool) {
	switch {
	case t.root != nil:
		t.stabNode(t.root, -1, ts, fn)
	case len(t.latest) > 0:
		t.stabNode(t.latest[0], 0, ts, fn)
	}
}

// stabNode searches the subtree of n.  depth is the position of n in the
// latest branch or -1 for a node read from disk.
func (t *tree) stabNode(n *node, depth int, ts int64, fn func(r *record) bool) bool {
	for i := range n.records {
		if n.records[i].contains(ts) && !fn(&n.records[i]) {
			return false
		}
	}
	for _, c := range n.children {
		if ts < c.start || ts > c.end {
			continue
		}
		var child *node
		childDepth := -1
		switch {
		case c.written():
			var err error
			if child, err = t.io.readNode(c); err != nil {
				egraph.Errorf("Unable to read history tree node %d: %v\n", c.seq, err)
				continue
			}
		case depth >= 0 && depth+1 < len(t.latest):
			child = t.latest[depth+1]
			childDepth = depth + 1
		default:
			continue
		}
		if !t.stabNode(child, childDepth, ts, fn) {
			return false
		}
	}
	return true
}
