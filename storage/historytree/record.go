package historytree

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/janelia-flyem/egraph/graph"
)

type recordKind uint8

const (
	// horizontalRecord is an edge between consecutive vertices of a worker.
	horizontalRecord recordKind = iota + 1

	// gapRecord joins consecutive vertices of a worker that have no edge.
	gapRecord

	// verticalRecord is an edge between vertices of two workers.
	verticalRecord
)

func (k recordKind) String() string {
	switch k {
	case horizontalRecord:
		return "horizontal"
	case gapRecord:
		return "gap"
	case verticalRecord:
		return "vertical"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// record is the interval stored in the tree.  Chain records (horizontal and
// gap) span [from, to] of one worker.  Vertical records span the time between
// both of their ends.
type record struct {
	kind     recordKind
	worker   graph.WorkerID
	from     int64
	toWorker graph.WorkerID
	to       int64
	context  int
	label    string
}

func chainRecord(from, to graph.Vertex, e *graph.Edge) record {
	if e == nil {
		return record{kind: gapRecord, worker: from.WorkerID, from: from.Timestamp, to: to.Timestamp}
	}
	return edgeRecord(*e)
}

func edgeRecord(e graph.Edge) record {
	r := record{
		kind:    horizontalRecord,
		worker:  e.From.WorkerID,
		from:    e.From.Timestamp,
		to:      e.To.Timestamp,
		context: e.Context.Code(),
		label:   e.Label,
	}
	if !e.IsHorizontal() {
		r.kind = verticalRecord
		r.toWorker = e.To.WorkerID
	}
	return r
}

func (r *record) start() int64 {
	if r.to < r.from {
		return r.to
	}
	return r.from
}

func (r *record) end() int64 {
	if r.to < r.from {
		return r.from
	}
	return r.to
}

func (r *record) contains(ts int64) bool {
	return r.start() <= ts && ts <= r.end()
}

// chain returns true if r joins consecutive vertices of worker id.
func (r *record) chain(id graph.WorkerID) bool {
	return r.kind != verticalRecord && r.worker == id
}

func (r *record) edge(decode graph.ContextDecoder) (*graph.Edge, error) {
	if r.kind == gapRecord {
		return nil, fmt.Errorf("gap record %d@%d-%d has no edge", r.worker, r.from, r.to)
	}
	ctx, err := decode(r.context)
	if err != nil {
		return nil, err
	}
	e := &graph.Edge{
		From:    graph.Vertex{WorkerID: r.worker, Timestamp: r.from},
		To:      graph.Vertex{WorkerID: r.worker, Timestamp: r.to},
		Context: ctx,
		Label:   r.label,
	}
	if r.kind == verticalRecord {
		e.To.WorkerID = r.toWorker
	}
	return e, nil
}

// Record fields
const (
	recKindField     protowire.Number = 1
	recWorkerField   protowire.Number = 2
	recFromField     protowire.Number = 3
	recToWorkerField protowire.Number = 4
	recToField       protowire.Number = 5
	recContextField  protowire.Number = 6
	recLabelField    protowire.Number = 7
)

func (r *record) appendTo(b []byte) []byte {
	b = appendVarint(b, recKindField, uint64(r.kind))
	b = appendVarint(b, recWorkerField, uint64(r.worker))
	b = appendVarint(b, recFromField, protowire.EncodeZigZag(r.from))
	if r.kind == verticalRecord {
		b = appendVarint(b, recToWorkerField, uint64(r.toWorker))
	}
	b = appendVarint(b, recToField, protowire.EncodeZigZag(r.to))
	if r.kind != gapRecord {
		b = appendVarint(b, recContextField, protowire.EncodeZigZag(int64(r.context)))
	}
	if r.label != "" {
		b = protowire.AppendTag(b, recLabelField, protowire.BytesType)
		b = protowire.AppendString(b, r.label)
	}
	return b
}

// size returns the bytes taken by r once embedded in a node.
func (r *record) size() int {
	n := len(r.appendTo(nil))
	return protowire.SizeTag(nodeRecordField) + protowire.SizeBytes(n)
}

func decodeRecord(b []byte) (r record, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			switch num {
			case recKindField:
				r.kind = recordKind(v)
			case recWorkerField:
				r.worker = graph.WorkerID(v)
			case recFromField:
				r.from = protowire.DecodeZigZag(v)
			case recToWorkerField:
				r.toWorker = graph.WorkerID(v)
			case recToField:
				r.to = protowire.DecodeZigZag(v)
			case recContextField:
				r.context = int(protowire.DecodeZigZag(v))
			}
		case typ == protowire.BytesType && num == recLabelField:
			r.label, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]
	}
	if r.kind < horizontalRecord || r.kind > verticalRecord {
		return r, fmt.Errorf("bad record kind %d", r.kind)
	}
	return r, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
