/*
	Package storage provides a unified way to create execution graphs backed by a
	number of storage engines.

	Each engine registers itself in an init() function, so programs import the
	engines they want for their side effects:

		import (
			"github.com/janelia-flyem/egraph/storage"
			_ "github.com/janelia-flyem/egraph/storage/historytree"
		)

	and then obtain a graph through NewGraph using a store configuration whose
	Engine field names the engine.
*/
package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blang/semver"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
)

// DefaultEngine is used when a store configuration does not name an engine.
const DefaultEngine = "historytree"

var ErrUnknownEngine = errors.New("unknown storage engine")

// Engine is a storage engine that can back an execution graph.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version
	String() string

	// IsPersistent returns true if the graph survives the process and can be
	// reopened with the same configuration.
	IsPersistent() bool

	// NewGraph creates a graph or, for persistent engines, reopens the finished
	// graph described by the configuration.
	NewGraph(config egraph.StoreConfig, opts Options) (graph.Graph, error)
}

// Options are the collaborators a graph needs besides its configuration.
type Options struct {
	// Serializer converts workers to keys.  It is required by persistent engines.
	Serializer graph.WorkerSerializer

	// Contexts rebuilds edge contexts from persisted codes.  It defaults to
	// graph.DecodeOSEdgeContext.
	Contexts graph.ContextDecoder
}

// ContextDecoder returns the configured decoder or the default one.
func (o Options) ContextDecoder() graph.ContextDecoder {
	if o.Contexts == nil {
		return graph.DecodeOSEdgeContext
	}
	return o.Contexts
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine makes an engine available by name.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, found := engines[e.GetName()]; found {
		egraph.Errorf("Storage engine %q registered more than once\n", e.GetName())
	}
	engines[e.GetName()] = e
	egraph.Debugf("Registered storage engine %s\n", e)
}

// GetEngine returns a registered engine by name.
func GetEngine(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// Engines returns the registered engines sorted by name.
func Engines() []Engine {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	list := make([]Engine, 0, len(engines))
	for _, e := range engines {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].GetName() < list[j].GetName() })
	return list
}

// NewGraph creates or reopens a graph with the engine named in the config.
func NewGraph(config egraph.StoreConfig, opts Options) (graph.Graph, error) {
	name := config.Engine
	if name == "" {
		name = DefaultEngine
	}
	e, err := GetEngine(name)
	if err != nil {
		return nil, err
	}
	if e.IsPersistent() && opts.Serializer == nil {
		return nil, graph.ErrNoSerializer
	}
	g, err := e.NewGraph(config, opts)
	if err != nil {
		egraph.Errorf("Unable to open %s graph: %v\n", e, err)
		return nil, err
	}
	return g, nil
}

// StartTime returns the "start_time" setting of a store configuration, zero by
// default.
func StartTime(config egraph.StoreConfig) (int64, error) {
	start, _, err := config.GetInt64("start_time")
	return start, err
}
