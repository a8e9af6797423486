/*
	Package historytree stores an execution graph on disk as a history tree of
	interval records, written once in fixed-size blocks as the graph is built.

	A graph uses two files in the configured directory: <name>.ht holds the
	tree and <name>.workers holds the worker keys.  Both carry the graph id, so
	a finished graph can be reopened read-only with the same configuration.
*/
package historytree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blang/semver"
	"github.com/dustin/go-humanize"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
	"github.com/janelia-flyem/egraph/storage/workerlog"
)

func init() {
	ver, err := semver.Make("1.0.0")
	if err != nil {
		egraph.Errorf("Unable to make semver in historytree: %v\n", err)
	}
	e := Engine{"historytree", "History tree of graph intervals in a block file", ver}
	storage.RegisterEngine(e)
}

const (
	DefaultName        = "egraph"
	DefaultBlockSize   = 64 * 1024
	DefaultMaxChildren = 50
	DefaultCacheMB     = 64
)

var errUnfinished = errors.New("graph file was not finished")

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
	return true
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewGraph reopens the finished graph at the configured path and name or, if
// there is none, creates a new one.  Files left by an unfinished build are
// discarded unless the "existing" setting is true, in which case only a
// finished graph is opened.
func (e Engine) NewGraph(config egraph.StoreConfig, opts storage.Options) (graph.Graph, error) {
	if opts.Serializer == nil {
		return nil, graph.ErrNoSerializer
	}
	o, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(o.path); os.IsNotExist(err) {
		if o.existing {
			return nil, fmt.Errorf("%w: no directory %s", graph.ErrUnavailable, o.path)
		}
		egraph.Infof("Graph directory not already at path (%s). Creating ...\n", o.path)
		if err := os.MkdirAll(o.path, 0755); err != nil {
			return nil, err
		}
	}
	graphFile, workerFile := o.filenames()

	_, err = os.Stat(graphFile)
	switch {
	case err == nil:
		g, err := open(o, opts)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, errUnfinished) {
			return nil, err
		}
		if o.existing {
			return nil, fmt.Errorf("%w: %s: %v", graph.ErrUnavailable, graphFile, err)
		}
		egraph.Warningf("Discarding unfinished graph %s\n", graphFile)
		for _, filename := range []string{graphFile, workerFile} {
			if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
			}
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	case fileExists(workerFile):
		return nil, fmt.Errorf("%w: worker file %s has no graph file", graph.ErrUnpairedFiles, workerFile)
	case o.existing:
		return nil, fmt.Errorf("%w: no graph at %s", graph.ErrUnavailable, graphFile)
	}
	return create(o, opts)
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

type options struct {
	path            string
	name            string
	blockSize       int
	maxChildren     int
	cacheMB         int
	compression     egraph.Compression
	providerVersion int
	start           int64

	// existing requires a finished graph and never creates or discards files.
	existing bool
}

func (o options) filenames() (graphFile, workerFile string) {
	base := filepath.Join(o.path, o.name)
	return base + ".ht", base + ".workers"
}

func parseConfig(config egraph.StoreConfig) (o options, err error) {
	c := config.GetAll()

	var found bool
	if o.path, found, err = c.GetString("path"); err != nil {
		return
	}
	if !found {
		err = fmt.Errorf("%q must be specified for history tree configuration", "path")
		return
	}
	var testing bool
	if testing, _, err = c.GetBool("testing"); err != nil {
		return
	}
	if testing {
		o.path = filepath.Join(os.TempDir(), o.path)
	}
	if o.name, found, err = c.GetString("name"); err != nil {
		return
	}
	if !found || o.name == "" {
		o.name = DefaultName
	}
	if o.existing, _, err = c.GetBool("existing"); err != nil {
		return
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"block_size", &o.blockSize, DefaultBlockSize},
		{"max_children", &o.maxChildren, DefaultMaxChildren},
		{"cache_mb", &o.cacheMB, DefaultCacheMB},
		{"provider_version", &o.providerVersion, 0},
	}
	for _, setting := range ints {
		if *setting.dst, found, err = c.GetInt(setting.key); err != nil {
			return
		}
		if !found {
			*setting.dst = setting.def
		}
	}
	if o.maxChildren < 2 {
		err = fmt.Errorf("%q must be at least 2, got %d", "max_children", o.maxChildren)
		return
	}
	if room := capacity(o.blockSize, o.maxChildren, false); room < minNodeRoom {
		err = fmt.Errorf("%q of %d leaves %d bytes for records with %d children, need %d",
			"block_size", o.blockSize, room, o.maxChildren, minNodeRoom)
		return
	}
	if o.cacheMB < 1 {
		o.cacheMB = 1
	}

	o.compression = egraph.Snappy
	var s string
	if s, found, err = c.GetString("compression"); err != nil {
		return
	}
	if found {
		if o.compression, err = egraph.ParseCompression(s); err != nil {
			return
		}
	}
	o.start, err = storage.StartTime(config)
	return
}

// Graph is an execution graph backed by a history tree.
type Graph struct {
	*graph.Base
	store *treeStore
}

// CloseGraph ends construction, writes the rest of the tree and the worker
// file, and returns a read-only handle.
func (g *Graph) CloseGraph(end int64) (graph.Reader, error) {
	sw := egraph.Start()
	if err := g.Seal(end); err != nil {
		return nil, err
	}
	g.store.mu.RLock()
	sw.Infof("Finished graph %s: %d nodes, depth %d, %s", g.store.graphFile,
		g.store.t.nodeCount, g.store.t.depth(), humanize.Bytes(uint64(g.store.io.size())))
	g.store.mu.RUnlock()
	return graph.ReadOnly(g), nil
}

// Close releases the graph file and empties the graph.  Both files of a graph
// closed before CloseGraph are removed.
func (g *Graph) Close() error {
	err := g.store.close()
	g.Release()
	return err
}

// Filenames returns the graph file and worker file.
func (g *Graph) Filenames() (graphFile, workerFile string) {
	return g.store.graphFile, g.store.workerFile
}

// NodeCount returns the number of tree nodes.
func (g *Graph) NodeCount() int {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	return int(g.store.t.nodeCount)
}

// Depth returns the number of levels of the tree.
func (g *Graph) Depth() int {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	return g.store.t.depth()
}

// GraphID returns the id shared by both files of the graph.
func (g *Graph) GraphID() string {
	return g.store.hdr.graphID()
}

func create(o options, opts storage.Options) (*Graph, error) {
	graphFile, workerFile := o.filenames()
	f, err := os.OpenFile(graphFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	hdr := fileHeader{
		Magic:           Magic,
		FileVersion:     FileVersion,
		ProviderVersion: uint32(o.providerVersion),
		BlockSize:       uint32(o.blockSize),
		MaxChildren:     uint32(o.maxChildren),
		Compression:     uint8(o.compression),
		Start:           o.start,
		End:             o.start,
		Created:         time.Now().UnixNano(),
	}
	copy(hdr.GraphID[:], uuid.NewV4().Bytes())
	if hdr.Start < 0 {
		hdr.Start, hdr.End = 0, 0
	}

	nio := newNodeIO(f, o.compression, o.cacheMB)
	if err := nio.writeHeader(hdr); err != nil {
		f.Close()
		return nil, err
	}
	workers := graph.NewWorkerTable()
	s := &treeStore{
		t:          newTree(nio, o.blockSize, o.maxChildren, hdr.Start),
		io:         nio,
		hdr:        hdr,
		workers:    workers,
		ser:        opts.Serializer,
		contexts:   opts.ContextDecoder(),
		graphFile:  graphFile,
		workerFile: workerFile,
	}
	egraph.Debugf("Created graph %s (id %s)\n", graphFile, hdr.graphID())
	return &Graph{Base: graph.NewBase(hdr.Start, workers, s), store: s}, nil
}

func open(o options, opts storage.Options) (*Graph, error) {
	graphFile, _ := o.filenames()
	f, err := os.Open(graphFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	g, err := openFile(f, o, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	egraph.Infof("Opened graph %s (id %s) with %d workers\n", graphFile, g.GraphID(), g.Table().Len())
	return g, nil
}

func openFile(f *os.File, o options, opts storage.Options) (*Graph, error) {
	sw := egraph.Start()
	graphFile, workerFile := o.filenames()
	hdr, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	if hdr.FileVersion != FileVersion {
		return nil, fmt.Errorf("%w: %s has file version %d, expected %d",
			graph.ErrVersionMismatch, graphFile, hdr.FileVersion, FileVersion)
	}
	if hdr.ProviderVersion != uint32(o.providerVersion) {
		return nil, fmt.Errorf("%w: %s has provider version %d, expected %d",
			graph.ErrVersionMismatch, graphFile, hdr.ProviderVersion, o.providerVersion)
	}
	if hdr.Finished == 0 {
		return nil, errUnfinished
	}

	whdr, infos, err := workerlog.Read(workerFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: no worker file %s", graph.ErrUnpairedFiles, workerFile)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	case whdr.GraphID != hdr.graphID():
		return nil, fmt.Errorf("%w: worker file %s belongs to graph %s, not %s",
			graph.ErrUnpairedFiles, workerFile, whdr.GraphID, hdr.graphID())
	case whdr.Version != FileVersion:
		return nil, fmt.Errorf("%w: %s has file version %d, expected %d",
			graph.ErrVersionMismatch, workerFile, whdr.Version, FileVersion)
	}
	workers, err := graph.RestoreWorkerTable(infos, opts.Serializer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}

	nio := newNodeIO(f, hdr.compression(), o.cacheMB)
	if fi, err := f.Stat(); err == nil {
		nio.tail = fi.Size()
	}
	t, err := openTree(nio, hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read root of %s: %v", graph.ErrUnavailable, graphFile, err)
	}
	s := &treeStore{
		t:          t,
		io:         nio,
		hdr:        hdr,
		workers:    workers,
		ser:        opts.Serializer,
		contexts:   opts.ContextDecoder(),
		graphFile:  graphFile,
		workerFile: workerFile,
	}
	base := graph.NewBase(hdr.Start, workers, s)
	base.MarkDone(hdr.End)
	sw.Debugf("Read header, %d workers and root of %s", len(infos), graphFile)
	return &Graph{Base: base, store: s}, nil
}

// treeStore implements graph.Store on a history tree.  Writers hold the write
// lock, queries the read lock.
type treeStore struct {
	mu       sync.RWMutex
	t        *tree
	io       *nodeIO
	hdr      fileHeader
	workers  *graph.WorkerTable
	ser      graph.WorkerSerializer
	contexts graph.ContextDecoder
	closed   bool

	graphFile  string
	workerFile string
}

func (s *treeStore) insert(r record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.ErrUnavailable
	}
	return s.t.insert(r)
}

func (s *treeStore) PutVertex(v graph.Vertex, prev *graph.Vertex, e *graph.Edge) error {
	if prev == nil {
		return nil
	}
	return s.insert(chainRecord(*prev, v, e))
}

// CheckEdge fails if the record of e would not fit in a tree node.
func (s *treeStore) CheckEdge(e graph.Edge) error {
	_, err := s.t.fit(edgeRecord(e))
	return err
}

func (s *treeStore) PutHorizontal(e graph.Edge) error {
	return s.insert(edgeRecord(e))
}

func (s *treeStore) PutVertical(e graph.Edge) error {
	return s.insert(edgeRecord(e))
}

// find returns a copy of the first record containing ts that matches.
func (s *treeStore) find(ts int64, match func(r *record) bool) (record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *record
	s.t.stab(ts, func(r *record) bool {
		if match(r) {
			found = r
			return false
		}
		return true
	})
	if found == nil {
		return record{}, false
	}
	return *found, true
}

func (s *treeStore) EdgeFrom(v graph.Vertex, dir graph.Direction) *graph.Edge {
	ts, id := v.Timestamp, v.WorkerID
	var match func(r *record) bool
	switch dir {
	case graph.OutgoingHorizontal:
		match = func(r *record) bool { return r.kind == horizontalRecord && r.worker == id && r.from == ts }
	case graph.IncomingHorizontal:
		match = func(r *record) bool { return r.kind == horizontalRecord && r.worker == id && r.to == ts }
	case graph.OutgoingVertical:
		match = func(r *record) bool { return r.kind == verticalRecord && r.worker == id && r.from == ts }
	case graph.IncomingVertical:
		match = func(r *record) bool { return r.kind == verticalRecord && r.toWorker == id && r.to == ts }
	default:
		return nil
	}
	r, found := s.find(ts, match)
	if !found {
		return nil
	}
	e, err := r.edge(s.contexts)
	if err != nil {
		egraph.Errorf("Unable to decode %s edge of %s: %v\n", dir, v, err)
		return nil
	}
	return e
}

func (s *treeStore) Next(v graph.Vertex) (graph.Vertex, bool) {
	r, found := s.find(v.Timestamp, func(r *record) bool {
		return r.chain(v.WorkerID) && r.from == v.Timestamp
	})
	if !found {
		return graph.Vertex{}, false
	}
	return graph.Vertex{WorkerID: v.WorkerID, Timestamp: r.to}, true
}

func (s *treeStore) Contains(v graph.Vertex) bool {
	_, found := s.find(v.Timestamp, func(r *record) bool {
		return r.chain(v.WorkerID) && (r.from == v.Timestamp || r.to == v.Timestamp)
	})
	return found
}

func (s *treeStore) Ceiling(id graph.WorkerID, ts int64) (graph.Vertex, bool) {
	r, found := s.find(ts, func(r *record) bool {
		return r.chain(id) && r.from <= ts
	})
	if !found {
		return graph.Vertex{}, false
	}
	if r.from == ts {
		return graph.Vertex{WorkerID: id, Timestamp: ts}, true
	}
	return graph.Vertex{WorkerID: id, Timestamp: r.to}, true
}

// Finish writes the rest of the tree, then the worker file, and last the
// header marking the graph finished.
func (s *treeStore) Finish(end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.ErrUnavailable
	}
	if err := s.t.finish(end); err != nil {
		return err
	}
	infos, err := s.workers.Serialize(s.ser)
	if err != nil {
		return err
	}
	wh := workerlog.Header{GraphID: s.hdr.graphID(), Version: FileVersion}
	if err := workerlog.Write(s.workerFile, wh, infos); err != nil {
		return fmt.Errorf("unable to write worker file %s: %w", s.workerFile, err)
	}

	s.hdr.End = s.t.end
	s.hdr.NodeCount = uint32(s.t.nodeCount)
	s.hdr.RootSeq = uint32(s.t.rootAt.seq)
	s.hdr.RootOffset = s.t.rootAt.offset
	s.hdr.RootLength = s.t.rootAt.length
	s.hdr.Finished = 1
	if err := s.io.writeHeader(s.hdr); err != nil {
		return err
	}
	return s.io.f.Sync()
}

func (s *treeStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.io.close()
	if s.t.finished() {
		return err
	}
	egraph.Infof("Removing unfinished graph %s\n", s.graphFile)
	for _, filename := range []string{s.graphFile, s.workerFile} {
		if rerr := os.Remove(filename); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	return err
}
