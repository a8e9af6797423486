package badger

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/egraph/graph"
)

// slot is one edge of a vertex: the vertex at its other end plus its context
// and label.
type slot struct {
	set     bool
	worker  graph.WorkerID
	ts      int64
	context int
	label   string
}

func edgeSlot(other graph.Vertex, e graph.Edge) slot {
	return slot{set: true, worker: other.WorkerID, ts: other.Timestamp, context: e.Context.Code(), label: e.Label}
}

// vertexRecord holds the edge slots of a vertex, indexed by graph.Direction.
type vertexRecord [4]slot

// marshal encodes the record as a MessagePack array of four slots, each nil or
// [worker, timestamp, context, label].
func (rec vertexRecord) marshal() []byte {
	b := msgp.AppendArrayHeader(nil, uint32(len(rec)))
	for _, sl := range rec {
		if !sl.set {
			b = msgp.AppendNil(b)
			continue
		}
		b = msgp.AppendArrayHeader(b, 4)
		b = msgp.AppendUint32(b, uint32(sl.worker))
		b = msgp.AppendInt64(b, sl.ts)
		b = msgp.AppendInt(b, sl.context)
		b = msgp.AppendString(b, sl.label)
	}
	return b
}

func unmarshalVertexRecord(b []byte) (rec vertexRecord, err error) {
	var sz uint32
	if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	if sz != uint32(len(rec)) {
		err = msgp.ArrayError{Wanted: uint32(len(rec)), Got: sz}
		return
	}
	for i := range rec {
		if msgp.IsNil(b) {
			if b, err = msgp.ReadNilBytes(b); err != nil {
				return
			}
			continue
		}
		if b, err = rec[i].unmarshal(b); err != nil {
			return rec, fmt.Errorf("bad %s slot: %v", graph.Direction(i), err)
		}
	}
	return
}

func (sl *slot) unmarshal(b []byte) (o []byte, err error) {
	var sz, id uint32
	if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	if sz != 4 {
		err = msgp.ArrayError{Wanted: 4, Got: sz}
		return
	}
	if id, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	sl.worker = graph.WorkerID(id)
	if sl.ts, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return
	}
	if sl.context, b, err = msgp.ReadIntBytes(b); err != nil {
		return
	}
	if sl.label, b, err = msgp.ReadStringBytes(b); err != nil {
		return
	}
	sl.set = true
	return b, nil
}

// metadata describes the graph held by a database.
type metadata struct {
	GraphID         string
	Version         uint32
	ProviderVersion uint32
	Start           int64
	End             int64
	Finished        bool
}

func (m metadata) marshal() []byte {
	b := msgp.AppendArrayHeader(nil, 6)
	b = msgp.AppendString(b, m.GraphID)
	b = msgp.AppendUint32(b, m.Version)
	b = msgp.AppendUint32(b, m.ProviderVersion)
	b = msgp.AppendInt64(b, m.Start)
	b = msgp.AppendInt64(b, m.End)
	return msgp.AppendBool(b, m.Finished)
}

func unmarshalMetadata(b []byte) (m metadata, err error) {
	var sz uint32
	if sz, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return
	}
	if sz != 6 {
		err = msgp.ArrayError{Wanted: 6, Got: sz}
		return
	}
	if m.GraphID, b, err = msgp.ReadStringBytes(b); err != nil {
		return
	}
	if m.Version, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	if m.ProviderVersion, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	if m.Start, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return
	}
	if m.End, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return
	}
	m.Finished, _, err = msgp.ReadBoolBytes(b)
	return
}
