package graph

// Worker is an independent thread of control whose events form one chain of
// vertices, e.g., a thread, a process or a virtual CPU.  The graph only
// references workers; they are owned by the caller.
//
// Workers are used as map keys, so implementations must be comparable and two
// values describing the same worker must be equal with ==.
type Worker interface {
	// HostID returns the identifier of the host this worker runs on.
	HostID() string
}

// WorkerSerializer converts workers to and from stable string keys so a
// persisted graph can be reopened.  The mapping must be round-trippable and
// collision-free for the lifetime of a graph.  Implementations must be safe
// for concurrent use.
type WorkerSerializer interface {
	Serialize(Worker) (string, error)
	Deserialize(key string) (Worker, error)
}

// WorkerID is the compact identifier a graph assigns to each distinct worker.
type WorkerID uint32

// KeyWorker is a worker known only by its serialized key.  It is what tools
// get back when they open a graph without the serializer that produced it.
type KeyWorker string

func (w KeyWorker) HostID() string { return "" }

func (w KeyWorker) String() string { return string(w) }

// KeySerializer returns the key itself as a KeyWorker.
type KeySerializer struct{}

func (KeySerializer) Serialize(w Worker) (string, error) {
	kw, ok := w.(KeyWorker)
	if !ok {
		return "", ErrUnknownWorker
	}
	return string(kw), nil
}

func (KeySerializer) Deserialize(key string) (Worker, error) {
	return KeyWorker(key), nil
}
