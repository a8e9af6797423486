/*
	Package workerlog reads and writes the worker file that accompanies a
	persisted execution graph.  The file is a sequence of entries, each a 6-byte
	header (entry type and data size, little endian) followed by MessagePack data:
	first a header entry pairing the file with its graph, then one entry per
	worker.
*/
package workerlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
)

// Entry types
const (
	HeaderEntry uint16 = iota + 1
	WorkerEntry
)

const entryHeaderSize = 6

var ErrNoHeader = errors.New("worker file has no header entry")

// Header pairs a worker file with the graph file it belongs to.
type Header struct {
	GraphID string
	Version uint32
}

// Entry is one record of a worker file.
type Entry struct {
	EntryType uint16
	Data      []byte
}

type fileLog struct {
	*os.File
}

func (f fileLog) writeEntry(e Entry) error {
	buf := make([]byte, entryHeaderSize)
	binary.LittleEndian.PutUint16(buf[:2], e.EntryType)
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(e.Data)))
	if _, err := f.Write(buf); err != nil {
		return err
	}
	_, err := f.Write(e.Data)
	return err
}

func (f fileLog) readAll() ([]Entry, error) {
	entries := []Entry{}
	for {
		hdrbuf := make([]byte, entryHeaderSize)
		_, err := io.ReadFull(f, hdrbuf)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entryType := binary.LittleEndian.Uint16(hdrbuf[0:2])
		size := binary.LittleEndian.Uint32(hdrbuf[2:])
		databuf := make([]byte, size)
		if _, err = io.ReadFull(f, databuf); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{EntryType: entryType, Data: databuf})
	}
}

// Write replaces the worker file with the given header and worker records.  The
// records must carry their serialized Key.  The file is written aside and
// renamed so a reader never sees a partial file.
func Write(filename string, hdr Header, infos []graph.WorkerInfo) error {
	tmpname := filename + ".tmp"
	f, err := os.OpenFile(tmpname, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	fl := fileLog{f}
	if err := fl.writeEntry(Entry{HeaderEntry, MarshalHeader(hdr)}); err != nil {
		f.Close()
		return fmt.Errorf("bad write of worker file header: %v", err)
	}
	for _, info := range infos {
		if err := fl.writeEntry(Entry{WorkerEntry, MarshalWorker(info)}); err != nil {
			f.Close()
			return fmt.Errorf("bad write of worker %q: %v", info.Key, err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpname, filename)
}

// Read returns the header and worker records of a worker file.  The records have
// their Key set but no Worker.  A missing file returns an error satisfying
// errors.Is(err, os.ErrNotExist).
func Read(filename string) (Header, []graph.WorkerInfo, error) {
	var hdr Header
	f, err := os.Open(filename)
	if err != nil {
		return hdr, nil, err
	}
	defer f.Close()
	entries, err := fileLog{f}.readAll()
	if err != nil {
		return hdr, nil, fmt.Errorf("unable to read worker file %s: %v", filename, err)
	}
	if len(entries) == 0 || entries[0].EntryType != HeaderEntry {
		return hdr, nil, ErrNoHeader
	}
	if hdr, err = UnmarshalHeader(entries[0].Data); err != nil {
		return hdr, nil, err
	}
	var infos []graph.WorkerInfo
	for _, e := range entries[1:] {
		switch e.EntryType {
		case WorkerEntry:
			info, err := UnmarshalWorker(e.Data)
			if err != nil {
				return hdr, nil, err
			}
			infos = append(infos, info)
		default:
			egraph.Warningf("Skipping entry of unknown type %d in worker file %s\n", e.EntryType, filename)
		}
	}
	return hdr, infos, nil
}

// MarshalHeader encodes a header as the MessagePack array [graph id, version].
func MarshalHeader(hdr Header) []byte {
	b := msgp.AppendArrayHeader(nil, 2)
	b = msgp.AppendString(b, hdr.GraphID)
	return msgp.AppendUint32(b, hdr.Version)
}

func UnmarshalHeader(b []byte) (hdr Header, err error) {
	var sz uint32
	if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	if sz != 2 {
		err = msgp.ArrayError{Wanted: 2, Got: sz}
		return
	}
	if hdr.GraphID, b, err = msgp.ReadStringBytes(b); err != nil {
		return
	}
	hdr.Version, _, err = msgp.ReadUint32Bytes(b)
	return
}

// MarshalWorker encodes a worker record as the MessagePack array
// [id, key, first, last, count].
func MarshalWorker(info graph.WorkerInfo) []byte {
	b := msgp.AppendArrayHeader(nil, 5)
	b = msgp.AppendUint32(b, uint32(info.ID))
	b = msgp.AppendString(b, info.Key)
	b = msgp.AppendInt64(b, info.First)
	b = msgp.AppendInt64(b, info.Last)
	return msgp.AppendUint64(b, info.Count)
}

func UnmarshalWorker(b []byte) (info graph.WorkerInfo, err error) {
	var sz, id uint32
	if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	if sz != 5 {
		err = msgp.ArrayError{Wanted: 5, Got: sz}
		return
	}
	if id, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	info.ID = graph.WorkerID(id)
	if info.Key, b, err = msgp.ReadStringBytes(b); err != nil {
		return
	}
	if info.First, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return
	}
	if info.Last, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return
	}
	info.Count, _, err = msgp.ReadUint64Bytes(b)
	return
}
