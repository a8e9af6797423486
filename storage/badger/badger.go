/*
	Package badger stores an execution graph in a BadgerDB key-value store, one
	record per vertex holding its four edge slots.
*/
package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
)

const (
	// FileVersion is the layout version of the keys and values.
	FileVersion uint32 = 1

	DefaultName         = "egraph"
	DefaultCacheEntries = 100000

	// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
	// at cost of speed.
	DefaultSyncWrites = false
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		egraph.Errorf("Unable to make semver in badger: %v\n", err)
	}
	e := Engine{"badger", "BadgerDB", ver}
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
	return true
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

type options struct {
	path            string
	name            string
	syncWrites      bool
	cacheEntries    int
	memTableMB      int
	valueLogMB      int
	providerVersion int
	start           int64
	existing        bool
}

func (o options) directory() string {
	return filepath.Join(o.path, o.name+".badger")
}

func parseConfig(config egraph.StoreConfig) (o options, err error) {
	c := config.GetAll()

	var found bool
	if o.path, found, err = c.GetString("path"); err != nil {
		return
	}
	if !found {
		err = fmt.Errorf("%q must be specified for BadgerDB configuration", "path")
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
	if o.syncWrites, found, err = c.GetBool("sync_writes"); err != nil {
		return
	}
	if !found {
		o.syncWrites = DefaultSyncWrites
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"cache_entries", &o.cacheEntries, DefaultCacheEntries},
		{"memtable_mb", &o.memTableMB, 64},
		{"value_log_mb", &o.valueLogMB, 1024},
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
	// badger rejects a value threshold (1 MB) above 15% of the memtable.
	if o.memTableMB < 8 || o.valueLogMB < 2 {
		err = fmt.Errorf("memtable_mb (%d) and value_log_mb (%d) are too small", o.memTableMB, o.valueLogMB)
		return
	}
	o.start, err = storage.StartTime(config)
	if o.start < 0 {
		o.start = 0
	}
	return
}

func getOptions(o options) badger.Options {
	return badger.DefaultOptions(o.directory()).
		WithLogger(badgerLogger{}).
		WithSyncWrites(o.syncWrites).
		WithNumVersionsToKeep(1).
		WithMemTableSize(int64(o.memTableMB) << 20).
		WithValueLogFileSize(int64(o.valueLogMB) << 20)
}

// NewGraph reopens the finished graph in the configured directory or creates a
// new one.  The content of an unfinished build is dropped unless the
// "existing" setting is true, which only opens a finished graph.
func (e Engine) NewGraph(config egraph.StoreConfig, opts storage.Options) (graph.Graph, error) {
	if opts.Serializer == nil {
		return nil, graph.ErrNoSerializer
	}
	o, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	dir := o.directory()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if o.existing {
			return nil, fmt.Errorf("%w: no graph at %s", graph.ErrUnavailable, dir)
		}
		egraph.Infof("Database not already at path (%s). Creating directory...\n", dir)
		if err := os.MkdirAll(dir, 0744); err != nil {
			return nil, fmt.Errorf("Can't make directory at %s: %v", dir, err)
		}
	}

	egraph.Debugf("Opening badger @ path %s\n", dir)
	db, err := badger.Open(getOptions(o))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	s := newKVStore(db, o.cacheEntries, opts.ContextDecoder())

	g, err := openGraph(s, o, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func openGraph(s *kvStore, o options, opts storage.Options) (*Graph, error) {
	meta, found, err := s.getMeta()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	if o.existing && (!found || !meta.Finished) {
		return nil, fmt.Errorf("%w: no finished graph in %s", graph.ErrUnavailable, s.db.Opts().Dir)
	}
	if found {
		switch {
		case meta.Version != FileVersion:
			return nil, fmt.Errorf("%w: %s has version %d, expected %d",
				graph.ErrVersionMismatch, s.db.Opts().Dir, meta.Version, FileVersion)
		case meta.ProviderVersion != uint32(o.providerVersion):
			return nil, fmt.Errorf("%w: %s has provider version %d, expected %d",
				graph.ErrVersionMismatch, s.db.Opts().Dir, meta.ProviderVersion, o.providerVersion)
		case meta.Finished:
			return reopen(s, meta, opts)
		}
		egraph.Warningf("Discarding unfinished graph in %s\n", s.db.Opts().Dir)
		if err := s.db.DropAll(); err != nil {
			return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
		}
	}

	meta = metadata{
		GraphID:         fmt.Sprintf("%x", uuid.NewV4().Bytes()),
		Version:         FileVersion,
		ProviderVersion: uint32(o.providerVersion),
		Start:           o.start,
		End:             o.start,
	}
	if err := s.putMeta(meta); err != nil {
		return nil, err
	}
	s.meta = meta
	workers := graph.NewWorkerTable()
	s.workers, s.ser = workers, opts.Serializer
	egraph.Debugf("Created graph %s in %s\n", meta.GraphID, s.db.Opts().Dir)
	return &Graph{Base: graph.NewBase(meta.Start, workers, s), store: s}, nil
}

func reopen(s *kvStore, meta metadata, opts storage.Options) (*Graph, error) {
	sw := egraph.Start()
	infos, err := s.getWorkers()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	workers, err := graph.RestoreWorkerTable(infos, opts.Serializer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	s.meta = meta
	s.workers, s.ser = workers, opts.Serializer
	base := graph.NewBase(meta.Start, workers, s)
	base.MarkDone(meta.End)
	sw.Infof("Opened graph %s in %s with %d workers", meta.GraphID, s.db.Opts().Dir, workers.Len())
	return &Graph{Base: base, store: s}, nil
}

// Graph is an execution graph backed by BadgerDB.
type Graph struct {
	*graph.Base
	store *kvStore
}

// CloseGraph ends construction, saves the workers and returns a read-only
// handle.
func (g *Graph) CloseGraph(end int64) (graph.Reader, error) {
	if err := g.Seal(end); err != nil {
		return nil, err
	}
	lsm, vlog := g.store.db.Size()
	egraph.Infof("Finished graph %s: LSM %d bytes, value log %d bytes\n", g.store.meta.GraphID, lsm, vlog)
	return graph.ReadOnly(g), nil
}

// Close closes the database.  The directory of a graph closed before
// CloseGraph is removed.
func (g *Graph) Close() error {
	err := g.store.close()
	g.Release()
	return err
}

// GraphID returns the id of the graph.
func (g *Graph) GraphID() string {
	return g.store.meta.GraphID
}

// Directory returns the database directory.
func (g *Graph) Directory() string {
	return g.store.db.Opts().Dir
}

var errClosed = errors.New("badger graph is closed")

// badgerLogger routes badger's messages to the egraph log.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	egraph.Errorf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	egraph.Warningf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	egraph.Debugf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	egraph.Debugf("badger: "+format, args...)
}
