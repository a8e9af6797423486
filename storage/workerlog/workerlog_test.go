package workerlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/egraph/graph"
)

func TestWriteRead(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "graph.workers")
	hdr := Header{GraphID: "d4f1b3b2-6b3a-4f0e-9a57-7c1b7c0f2e11", Version: 3}
	infos := []graph.WorkerInfo{
		{ID: 0, Key: "host-a/1", First: 0, Last: 15, Count: 12},
		{ID: 1, Key: "host-b/2", First: 1, Last: 14, Count: 9},
		{ID: 2, Key: "host-b/3"},
	}
	if err := Write(filename, hdr, infos); err != nil {
		t.Fatalf("Can't write worker file: %v\n", err)
	}
	if _, err := os.Stat(filename + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temporary worker file should be gone, got %v\n", err)
	}
	gotHdr, got, err := Read(filename)
	if err != nil {
		t.Fatalf("Can't read worker file: %v\n", err)
	}
	if gotHdr != hdr {
		t.Errorf("Expected header %v, got %v\n", hdr, gotHdr)
	}
	if len(got) != len(infos) {
		t.Fatalf("Expected %d workers, got %d\n", len(infos), len(got))
	}
	for i := range infos {
		if got[i] != infos[i] {
			t.Errorf("Expected worker %v, got %v\n", infos[i], got[i])
		}
	}

	// Rewriting replaces the content.
	if err := Write(filename, hdr, infos[:1]); err != nil {
		t.Fatalf("Can't rewrite worker file: %v\n", err)
	}
	if _, got, _ = Read(filename); len(got) != 1 {
		t.Errorf("Expected 1 worker after rewrite, got %d\n", len(got))
	}
}

func TestReadMissing(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "none.workers"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected missing file error, got %v\n", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "graph.workers")
	if err := Write(filename, Header{GraphID: "x", Version: 1}, []graph.WorkerInfo{{Key: "a/1", Count: 1}}); err != nil {
		t.Fatalf("Can't write worker file: %v\n", err)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("Can't read back worker file: %v\n", err)
	}
	if err := os.WriteFile(filename, data[:len(data)-3], 0644); err != nil {
		t.Fatalf("Can't truncate worker file: %v\n", err)
	}
	if _, _, err := Read(filename); err == nil {
		t.Errorf("Expected error reading truncated worker file\n")
	}

	// A file starting with a worker entry has no header.
	noHeader := filepath.Join(dir, "noheader.workers")
	f, err := os.Create(noHeader)
	if err != nil {
		t.Fatalf("Can't create file: %v\n", err)
	}
	if err := (fileLog{f}).writeEntry(Entry{WorkerEntry, MarshalWorker(graph.WorkerInfo{Key: "a/1"})}); err != nil {
		t.Fatalf("Can't write entry: %v\n", err)
	}
	f.Close()
	if _, _, err := Read(noHeader); !errors.Is(err, ErrNoHeader) {
		t.Errorf("Expected missing header error, got %v\n", err)
	}
}

func TestUnmarshalWorkerBadArray(t *testing.T) {
	b := MarshalHeader(Header{GraphID: "x", Version: 1})
	if _, err := UnmarshalWorker(b); err == nil {
		t.Errorf("Expected error decoding a header as a worker\n")
	}
}
