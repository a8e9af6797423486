package graph

import (
	"fmt"
	"sync"
)

// WorkerInfo is what a graph tracks about one worker.
type WorkerInfo struct {
	ID     WorkerID
	Worker Worker

	// Key is the serialized form of Worker.  It is only set for tables
	// produced by Serialize or restored from storage.
	Key string

	// First and Last are the timestamps of the first and latest vertices.  They
	// are meaningless when Count is zero.
	First int64
	Last  int64
	Count uint64
}

// WorkerTable assigns compact ids to workers and tracks the extent of their
// chains.  It is safe for concurrent use.
type WorkerTable struct {
	mu    sync.RWMutex
	ids   map[Worker]WorkerID
	infos []WorkerInfo
}

func NewWorkerTable() *WorkerTable {
	return &WorkerTable{ids: make(map[Worker]WorkerID)}
}

// RestoreWorkerTable rebuilds a table from persisted worker records, which must
// carry dense ids starting at zero.
func RestoreWorkerTable(infos []WorkerInfo, ser WorkerSerializer) (*WorkerTable, error) {
	if ser == nil {
		return nil, ErrNoSerializer
	}
	t := &WorkerTable{
		ids:   make(map[Worker]WorkerID, len(infos)),
		infos: make([]WorkerInfo, len(infos)),
	}
	seen := make([]bool, len(infos))
	for _, info := range infos {
		if int(info.ID) >= len(infos) || seen[info.ID] {
			return nil, fmt.Errorf("bad worker id %d in table of %d workers", info.ID, len(infos))
		}
		seen[info.ID] = true
		w, err := ser.Deserialize(info.Key)
		if err != nil {
			return nil, fmt.Errorf("unable to deserialize worker %q: %w", info.Key, err)
		}
		info.Worker = w
		t.infos[info.ID] = info
		if _, found := t.ids[w]; !found {
			t.ids[w] = info.ID
		}
	}
	return t, nil
}

// Register returns the id of w, assigning a new one on first use.
func (t *WorkerTable) Register(w Worker) WorkerID {
	t.mu.RLock()
	id, found := t.ids[w]
	t.mu.RUnlock()
	if found {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, found = t.ids[w]; found {
		return id
	}
	id = WorkerID(len(t.infos))
	t.ids[w] = id
	t.infos = append(t.infos, WorkerInfo{ID: id, Worker: w})
	return id
}

// ID returns the id of w if it was registered.
func (t *WorkerTable) ID(w Worker) (WorkerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, found := t.ids[w]
	return id, found
}

func (t *WorkerTable) Info(id WorkerID) (WorkerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.infos) {
		return WorkerInfo{}, false
	}
	return t.infos[id], true
}

func (t *WorkerTable) InfoOf(w Worker) (WorkerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, found := t.ids[w]
	if !found {
		return WorkerInfo{}, false
	}
	return t.infos[id], true
}

func (t *WorkerTable) Worker(id WorkerID) (Worker, bool) {
	info, found := t.Info(id)
	return info.Worker, found
}

// Workers returns the workers with at least one vertex in id order.
func (t *WorkerTable) Workers() []Worker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var workers []Worker
	for _, info := range t.infos {
		if info.Count > 0 {
			workers = append(workers, info.Worker)
		}
	}
	return workers
}

// Infos returns a snapshot of every registered worker.
func (t *WorkerTable) Infos() []WorkerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	infos := make([]WorkerInfo, len(t.infos))
	copy(infos, t.infos)
	return infos
}

// Serialize returns a snapshot of every registered worker with its key set.
func (t *WorkerTable) Serialize(ser WorkerSerializer) ([]WorkerInfo, error) {
	if ser == nil {
		return nil, ErrNoSerializer
	}
	infos := t.Infos()
	for i := range infos {
		key, err := ser.Serialize(infos[i].Worker)
		if err != nil {
			return nil, fmt.Errorf("unable to serialize worker %d: %w", infos[i].ID, err)
		}
		infos[i].Key = key
	}
	return infos, nil
}

// Len returns the number of registered workers.
func (t *WorkerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.infos)
}

// latest returns the largest timestamp of any vertex, or ok false if there
// are none.
func (t *WorkerTable) latest() (ts int64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, info := range t.infos {
		if info.Count > 0 && (!ok || info.Last > ts) {
			ts, ok = info.Last, true
		}
	}
	return
}

// record notes v as the new latest vertex of its worker.
func (t *WorkerTable) record(v Vertex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := &t.infos[v.WorkerID]
	if info.Count == 0 {
		info.First = v.Timestamp
	}
	info.Last = v.Timestamp
	info.Count++
}

// reset forgets every worker.
func (t *WorkerTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = make(map[Worker]WorkerID)
	t.infos = nil
}
