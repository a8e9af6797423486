package storage_test

import (
	"errors"
	"testing"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
	_ "github.com/janelia-flyem/egraph/storage/historytree"
	_ "github.com/janelia-flyem/egraph/storage/memory"
)

func TestEngines(t *testing.T) {
	engines := storage.Engines()
	var names []string
	for _, e := range engines {
		names = append(names, e.GetName())
	}
	if len(names) != 2 || names[0] != "historytree" || names[1] != "memory" {
		t.Errorf("Expected sorted engines [historytree memory], got %v\n", names)
	}
	e, err := storage.GetEngine("historytree")
	if err != nil || !e.IsPersistent() {
		t.Errorf("Expected persistent history tree engine: %v\n", err)
	}
	if _, err := storage.GetEngine("leveldb"); !errors.Is(err, storage.ErrUnknownEngine) {
		t.Errorf("Expected unknown engine error, got %v\n", err)
	}
}

func TestNewGraph(t *testing.T) {
	config := egraph.StoreConfig{Engine: "nosuch"}
	if _, err := storage.NewGraph(config, storage.Options{}); !errors.Is(err, storage.ErrUnknownEngine) {
		t.Errorf("Expected unknown engine error, got %v\n", err)
	}

	config = egraph.StoreConfig{Config: egraph.Config{"path": t.TempDir()}}
	if _, err := storage.NewGraph(config, storage.Options{}); !errors.Is(err, graph.ErrNoSerializer) {
		t.Errorf("Expected default persistent engine to require a serializer, got %v\n", err)
	}

	config = egraph.StoreConfig{Config: egraph.Config{"start_time": int64(100)}, Engine: "memory"}
	g, err := storage.NewGraph(config, storage.Options{})
	if err != nil {
		t.Fatalf("Can't create memory graph: %v\n", err)
	}
	defer g.Close()
	if g.StartTime() != 100 {
		t.Errorf("Expected start time 100, got %d\n", g.StartTime())
	}
}

func TestContextDecoder(t *testing.T) {
	var opts storage.Options
	if c, err := opts.ContextDecoder()(int(graph.OSTimer)); err != nil || c != graph.OSTimer {
		t.Errorf("Expected default decoder to decode OS contexts\n")
	}
	opts.Contexts = func(code int) (graph.EdgeContextState, error) { return graph.OSIPI, nil }
	if c, _ := opts.ContextDecoder()(0); c != graph.OSIPI {
		t.Errorf("Expected custom decoder to be used\n")
	}
}
