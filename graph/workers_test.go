package graph

import (
	"errors"
	"sync"
	"testing"
)

func TestWorkerTableRegister(t *testing.T) {
	table := NewWorkerTable()
	var wg sync.WaitGroup
	ids := make([]WorkerID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = table.Register(KeyWorker("shared"))
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("Concurrent registration gave ids %v\n", ids)
		}
	}
	if id := table.Register(KeyWorker("other")); id != 1 {
		t.Errorf("Expected second worker to get id 1, got %d\n", id)
	}
	if table.Len() != 2 || len(table.Workers()) != 0 {
		t.Errorf("Expected 2 registered workers without vertices\n")
	}

	table.record(Vertex{1, 7})
	table.record(Vertex{1, 9})
	info, found := table.InfoOf(KeyWorker("other"))
	if !found || info.First != 7 || info.Last != 9 || info.Count != 2 {
		t.Errorf("Bad worker info: %+v\n", info)
	}
	if latest, ok := table.latest(); !ok || latest != 9 {
		t.Errorf("Expected latest timestamp 9, got %d\n", latest)
	}
	if _, found := table.Worker(5); found {
		t.Errorf("Expected unknown id 5\n")
	}
}

func TestWorkerTableRestore(t *testing.T) {
	table := NewWorkerTable()
	table.Register(KeyWorker("a"))
	table.Register(KeyWorker("b"))
	table.record(Vertex{0, 3})
	infos, err := table.Serialize(KeySerializer{})
	if err != nil {
		t.Fatalf("Can't serialize table: %v\n", err)
	}
	if infos[1].Key != "b" {
		t.Errorf("Expected key b, got %q\n", infos[1].Key)
	}

	// Order of persisted records does not matter.
	infos[0], infos[1] = infos[1], infos[0]
	restored, err := RestoreWorkerTable(infos, KeySerializer{})
	if err != nil {
		t.Fatalf("Can't restore table: %v\n", err)
	}
	if id, found := restored.ID(KeyWorker("a")); !found || id != 0 {
		t.Errorf("Expected worker a at id 0, got %d\n", id)
	}
	if info, _ := restored.Info(0); info.Count != 1 || info.Last != 3 {
		t.Errorf("Bad restored info: %+v\n", info)
	}

	infos[0].ID = 0
	if _, err := RestoreWorkerTable(infos, KeySerializer{}); err == nil {
		t.Errorf("Expected error for duplicate ids\n")
	}
	if _, err := RestoreWorkerTable(infos, nil); !errors.Is(err, ErrNoSerializer) {
		t.Errorf("Expected missing serializer error, got %v\n", err)
	}
	if _, err := table.Serialize(nil); !errors.Is(err, ErrNoSerializer) {
		t.Errorf("Expected missing serializer error, got %v\n", err)
	}
}
