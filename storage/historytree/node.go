package historytree

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Upper bounds of the encoded node fields other than records and of one
	// child entry, used to reserve room in a block.
	nodeHeaderSize = 64
	childRefSize   = 48

	// minNodeRoom is the least room for records a core node must offer.
	minNodeRoom = 128
)

// childRef locates a child node.  A child still in the latest branch has no
// length yet and an open end.
type childRef struct {
	seq    int32
	start  int64
	end    int64
	offset int64
	length uint32
}

func (c childRef) written() bool {
	return c.length > 0
}

// node is a block of the history tree.  Core nodes have children, leaves only
// hold records.
type node struct {
	seq      int32
	parent   int32 // -1 for the root
	leaf     bool
	start    int64
	end      int64
	children []childRef
	records  []record
	used     int
}

func newNode(seq, parent int32, start int64, leaf bool) *node {
	return &node{seq: seq, parent: parent, leaf: leaf, start: start, end: math.MaxInt64}
}

// capacity returns the room for records in a node of the given kind.
func capacity(blockSize, maxChildren int, leaf bool) int {
	room := blockSize - nodeHeaderSize
	if !leaf {
		room -= maxChildren * childRefSize
	}
	return room
}

func (n *node) free(blockSize, maxChildren int) int {
	return capacity(blockSize, maxChildren, n.leaf) - n.used
}

func (n *node) add(r record, size int) {
	n.records = append(n.records, r)
	n.used += size
}

func (n *node) linkChild(c *node) {
	n.children = append(n.children, childRef{seq: c.seq, start: c.start, end: math.MaxInt64})
}

func (n *node) String() string {
	kind := "core"
	if n.leaf {
		kind = "leaf"
	}
	return fmt.Sprintf("%s node %d [%d, %d] (%d records, %d children)",
		kind, n.seq, n.start, n.end, len(n.records), len(n.children))
}

// Node fields
const (
	nodeSeqField    protowire.Number = 1
	nodeParentField protowire.Number = 2
	nodeLeafField   protowire.Number = 3
	nodeStartField  protowire.Number = 4
	nodeEndField    protowire.Number = 5
	nodeChildField  protowire.Number = 6
	nodeRecordField protowire.Number = 7
)

// Child entry fields
const (
	childSeqField    protowire.Number = 1
	childStartField  protowire.Number = 2
	childEndField    protowire.Number = 3
	childOffsetField protowire.Number = 4
	childLengthField protowire.Number = 5
)

func (n *node) marshal() []byte {
	b := make([]byte, 0, nodeHeaderSize+len(n.children)*childRefSize+n.used)
	b = appendVarint(b, nodeSeqField, uint64(n.seq))
	b = appendVarint(b, nodeParentField, protowire.EncodeZigZag(int64(n.parent)))
	b = appendVarint(b, nodeLeafField, protowire.EncodeBool(n.leaf))
	b = appendVarint(b, nodeStartField, protowire.EncodeZigZag(n.start))
	b = appendVarint(b, nodeEndField, protowire.EncodeZigZag(n.end))
	var sub []byte
	for _, c := range n.children {
		sub = appendVarint(sub[:0], childSeqField, uint64(c.seq))
		sub = appendVarint(sub, childStartField, protowire.EncodeZigZag(c.start))
		sub = appendVarint(sub, childEndField, protowire.EncodeZigZag(c.end))
		sub = appendVarint(sub, childOffsetField, uint64(c.offset))
		sub = appendVarint(sub, childLengthField, uint64(c.length))
		b = protowire.AppendTag(b, nodeChildField, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	for i := range n.records {
		sub = n.records[i].appendTo(sub[:0])
		b = protowire.AppendTag(b, nodeRecordField, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func unmarshalNode(b []byte) (*node, error) {
	n := &node{}
	for len(b) > 0 {
		num, typ, m := protowire.ConsumeTag(b)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		b = b[m:]
		switch typ {
		case protowire.VarintType:
			var v uint64
			v, m = protowire.ConsumeVarint(b)
			switch num {
			case nodeSeqField:
				n.seq = int32(v)
			case nodeParentField:
				n.parent = int32(protowire.DecodeZigZag(v))
			case nodeLeafField:
				n.leaf = protowire.DecodeBool(v)
			case nodeStartField:
				n.start = protowire.DecodeZigZag(v)
			case nodeEndField:
				n.end = protowire.DecodeZigZag(v)
			}
		case protowire.BytesType:
			var sub []byte
			sub, m = protowire.ConsumeBytes(b)
			if m < 0 {
				break
			}
			switch num {
			case nodeChildField:
				c, err := decodeChildRef(sub)
				if err != nil {
					return nil, fmt.Errorf("bad child of node %d: %v", n.seq, err)
				}
				n.children = append(n.children, c)
			case nodeRecordField:
				r, err := decodeRecord(sub)
				if err != nil {
					return nil, fmt.Errorf("bad record in node %d: %v", n.seq, err)
				}
				n.records = append(n.records, r)
				n.used += protowire.SizeTag(nodeRecordField) + protowire.SizeBytes(len(sub))
			}
		default:
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		b = b[m:]
	}
	return n, nil
}

func decodeChildRef(b []byte) (c childRef, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
				return c, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		var v uint64
		if v, n = protowire.ConsumeVarint(b); n < 0 {
			return c, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case childSeqField:
			c.seq = int32(v)
		case childStartField:
			c.start = protowire.DecodeZigZag(v)
		case childEndField:
			c.end = protowire.DecodeZigZag(v)
		case childOffsetField:
			c.offset = int64(v)
		case childLengthField:
			c.length = uint32(v)
		}
	}
	if !c.written() {
		return c, fmt.Errorf("child %d was never written", c.seq)
	}
	return c, nil
}
