package badger

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/golang/groupcache/lru"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
	"github.com/janelia-flyem/egraph/storage/workerlog"
)

// Key prefixes
const (
	vertexPrefix byte = 'v'
	workerPrefix byte = 'w'
	metaPrefix   byte = 'm'
)

const vertexKeySize = 1 + 4 + 8

// vertexKey returns v|id|ts with big endian numbers so keys of a worker sort by
// timestamp.
func vertexKey(id graph.WorkerID, ts int64) []byte {
	key := make([]byte, vertexKeySize)
	key[0] = vertexPrefix
	binary.BigEndian.PutUint32(key[1:5], uint32(id))
	binary.BigEndian.PutUint64(key[5:], uint64(ts))
	return key
}

func workerVertexPrefix(id graph.WorkerID) []byte {
	return vertexKey(id, 0)[:5]
}

func decodeVertexKey(key []byte) (graph.Vertex, error) {
	if len(key) != vertexKeySize || key[0] != vertexPrefix {
		return graph.Vertex{}, fmt.Errorf("bad vertex key %x", key)
	}
	return graph.Vertex{
		WorkerID:  graph.WorkerID(binary.BigEndian.Uint32(key[1:5])),
		Timestamp: int64(binary.BigEndian.Uint64(key[5:])),
	}, nil
}

func workerKey(id graph.WorkerID) []byte {
	key := make([]byte, 5)
	key[0] = workerPrefix
	binary.BigEndian.PutUint32(key[1:], uint32(id))
	return key
}

func metaKey() []byte {
	return []byte{metaPrefix}
}

// kvStore implements graph.Store on BadgerDB.  Decoded vertex records are kept
// in an LRU cache that every write goes through.
type kvStore struct {
	db       *badger.DB
	contexts graph.ContextDecoder
	meta     metadata
	workers  *graph.WorkerTable
	ser      graph.WorkerSerializer

	mu     sync.Mutex
	cache  *lru.Cache
	closed bool
}

func newKVStore(db *badger.DB, cacheEntries int, contexts graph.ContextDecoder) *kvStore {
	return &kvStore{
		db:       db,
		contexts: contexts,
		cache:    lru.New(cacheEntries),
	}
}

func (s *kvStore) cached(v graph.Vertex) (vertexRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, found := s.cache.Get(v); found {
		return rec.(vertexRecord), true
	}
	return vertexRecord{}, false
}

func (s *kvStore) remember(v graph.Vertex, rec vertexRecord) {
	s.mu.Lock()
	s.cache.Add(v, rec)
	s.mu.Unlock()
}

func getRecord(txn *badger.Txn, v graph.Vertex) (rec vertexRecord, found bool, err error) {
	item, err := txn.Get(vertexKey(v.WorkerID, v.Timestamp))
	if err == badger.ErrKeyNotFound {
		return rec, false, nil
	}
	if err != nil {
		return
	}
	err = item.Value(func(val []byte) error {
		storage.StoreRead(len(val))
		rec, err = unmarshalVertexRecord(val)
		return err
	})
	return rec, err == nil, err
}

// record returns the stored record of v.
func (s *kvStore) record(v graph.Vertex) (rec vertexRecord, found bool) {
	if rec, found = s.cached(v); found {
		return
	}
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = getRecord(txn, v)
		return err
	})
	if err != nil {
		egraph.Errorf("Unable to read vertex %s: %v\n", v, err)
		return rec, false
	}
	if found {
		s.remember(v, rec)
	}
	return
}

// update modifies the records of the given vertices in one transaction.
// Missing records start empty.
func (s *kvStore) update(vertices []graph.Vertex, modify func(i int, rec *vertexRecord)) error {
	if s.isClosed() {
		return errClosed
	}
	recs := make([]vertexRecord, len(vertices))
	err := s.db.Update(func(txn *badger.Txn) error {
		for i, v := range vertices {
			rec, _, err := getRecord(txn, v)
			if err != nil {
				return err
			}
			modify(i, &rec)
			val := rec.marshal()
			if err := txn.Set(vertexKey(v.WorkerID, v.Timestamp), val); err != nil {
				return err
			}
			storage.StoreWritten(len(val))
			recs[i] = rec
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, v := range vertices {
		s.remember(v, recs[i])
	}
	return nil
}

func (s *kvStore) putEdge(e graph.Edge, out graph.Direction) error {
	return s.update([]graph.Vertex{e.From, e.To}, func(i int, rec *vertexRecord) {
		if i == 0 {
			rec[out] = edgeSlot(e.To, e)
		} else {
			rec[out.Reverse()] = edgeSlot(e.From, e)
		}
	})
}

func (s *kvStore) PutVertex(v graph.Vertex, prev *graph.Vertex, e *graph.Edge) error {
	if e == nil {
		return s.update([]graph.Vertex{v}, func(int, *vertexRecord) {})
	}
	return s.putEdge(*e, graph.OutgoingHorizontal)
}

func (s *kvStore) PutHorizontal(e graph.Edge) error {
	return s.putEdge(e, graph.OutgoingHorizontal)
}

func (s *kvStore) PutVertical(e graph.Edge) error {
	return s.putEdge(e, graph.OutgoingVertical)
}

func (s *kvStore) EdgeFrom(v graph.Vertex, dir graph.Direction) *graph.Edge {
	rec, found := s.record(v)
	if !found || !rec[dir].set {
		return nil
	}
	sl := rec[dir]
	ctx, err := s.contexts(sl.context)
	if err != nil {
		egraph.Errorf("Unable to decode %s edge of %s: %v\n", dir, v, err)
		return nil
	}
	other := graph.Vertex{WorkerID: sl.worker, Timestamp: sl.ts}
	e := &graph.Edge{From: v, To: other, Context: ctx, Label: sl.label}
	if !dir.Outgoing() {
		e.From, e.To = other, v
	}
	return e
}

// seek returns the first vertex of worker id at or after ts.
func (s *kvStore) seek(id graph.WorkerID, ts int64) (v graph.Vertex, found bool) {
	prefix := workerVertexPrefix(id)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // key only
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(vertexKey(id, ts))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var err error
		v, err = decodeVertexKey(it.Item().Key())
		found = err == nil
		return err
	})
	if err != nil {
		egraph.Errorf("Unable to seek vertex of worker %d at %d: %v\n", id, ts, err)
		return graph.Vertex{}, false
	}
	return
}

func (s *kvStore) Next(v graph.Vertex) (graph.Vertex, bool) {
	return s.seek(v.WorkerID, v.Timestamp+1)
}

func (s *kvStore) Contains(v graph.Vertex) bool {
	_, found := s.record(v)
	return found
}

func (s *kvStore) Ceiling(id graph.WorkerID, ts int64) (graph.Vertex, bool) {
	return s.seek(id, ts)
}

// Finish saves the workers and marks the graph finished.
func (s *kvStore) Finish(end int64) error {
	if s.isClosed() {
		return errClosed
	}
	infos, err := s.workers.Serialize(s.ser)
	if err != nil {
		return err
	}
	meta := s.meta
	meta.End = end
	meta.Finished = true
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, info := range infos {
			if err := txn.Set(workerKey(info.ID), workerlog.MarshalWorker(info)); err != nil {
				return err
			}
		}
		return txn.Set(metaKey(), meta.marshal())
	})
	if err != nil {
		return err
	}
	s.meta = meta
	return s.db.Sync()
}

func (s *kvStore) getMeta() (meta metadata, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey())
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			meta, err = unmarshalMetadata(val)
			return err
		})
	})
	return
}

func (s *kvStore) putMeta(meta metadata) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(), meta.marshal())
	})
}

func (s *kvStore) getWorkers() ([]graph.WorkerInfo, error) {
	var infos []graph.WorkerInfo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{workerPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				info, err := workerlog.UnmarshalWorker(val)
				if err != nil {
					return err
				}
				infos = append(infos, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return infos, err
}

func (s *kvStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *kvStore) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cache.Clear()
	s.mu.Unlock()
	dir := s.db.Opts().Dir
	if s.meta.Finished {
		err := s.db.Close()
		egraph.Infof("Closed Badger DB @ %s\n", dir)
		return err
	}

	egraph.Infof("Removing unfinished graph %s in %s\n", s.meta.GraphID, dir)
	err := s.db.DropAll()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
