/*
	The tests package provides the conformance tests every execution graph
	backend must pass, along with the workers and serializer they use.
*/
package tests

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/twinj/uuid"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
)

func init() {
	egraph.SetLevel(egraph.WarningLevel)
}

// Worker is a test worker identified by a host and a number.
type Worker struct {
	Host string
	ID   int
}

func (w Worker) HostID() string { return w.Host }

func (w Worker) String() string { return fmt.Sprintf("%s/%d", w.Host, w.ID) }

var (
	Worker1 = Worker{"test", 1}
	Worker2 = Worker{"test", 2}
	Worker3 = Worker{"test", 3}
)

// Serializer converts Worker to "host/id" keys.
type Serializer struct{}

func (Serializer) Serialize(w graph.Worker) (string, error) {
	tw, ok := w.(Worker)
	if !ok {
		return "", fmt.Errorf("unexpected worker type %T", w)
	}
	return tw.String(), nil
}

func (Serializer) Deserialize(key string) (graph.Worker, error) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return nil, fmt.Errorf("malformed worker key %q", key)
	}
	id, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return nil, fmt.Errorf("malformed worker key %q: %v", key, err)
	}
	return Worker{key[:i], id}, nil
}

// TempStoreConfig returns a configuration for the given engine rooted in a new
// temporary directory that is removed at the end of the test.
func TempStoreConfig(t testing.TB, engine string) egraph.StoreConfig {
	dir, err := os.MkdirTemp("", "egraph-test")
	if err != nil {
		t.Fatalf("Can't create temporary directory: %v\n", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return egraph.StoreConfig{
		Config: egraph.Config{
			"path": dir,
			"name": fmt.Sprintf("egraph-test-%x", uuid.NewV4().Bytes()),
		},
		Engine: engine,
	}
}
