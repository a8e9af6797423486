package historytree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/coocood/freecache"
	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/storage"
)

const (
	// Magic is the first word of every graph file.
	Magic uint32 = 0x05FFC0DE

	// FileVersion is the layout version of graph and worker files.
	FileVersion uint32 = 1

	// HeaderSize is the room reserved for the header at the start of a graph
	// file.  Nodes follow it.
	HeaderSize = 4096

	frameSize = 4

	// decodedNodes is the number of unmarshaled nodes kept in front of the
	// byte cache.
	decodedNodes = 256
)

var errBadMagic = errors.New("not a history tree graph file")

// fileHeader is written at the start of the graph file when it is created and
// again when the graph is finished.
type fileHeader struct {
	Magic           uint32
	FileVersion     uint32
	ProviderVersion uint32
	BlockSize       uint32
	MaxChildren     uint32
	NodeCount       uint32
	RootSeq         uint32
	RootOffset      int64
	RootLength      uint32
	Finished        uint8
	Compression     uint8
	Start           int64
	End             int64
	Created         int64
	GraphID         [16]byte
}

func (h fileHeader) graphID() string {
	return fmt.Sprintf("%x", h.GraphID[:])
}

func (h fileHeader) compression() egraph.Compression {
	return egraph.Compression(h.Compression)
}

func (h fileHeader) marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	data := make([]byte, HeaderSize)
	copy(data, buf.Bytes())
	return data, nil
}

func readHeader(f *os.File) (h fileHeader, err error) {
	data := make([]byte, binary.Size(h))
	if _, err = f.ReadAt(data, 0); err != nil {
		return h, fmt.Errorf("unable to read header of %s: %v", f.Name(), err)
	}
	if err = binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return
	}
	if h.Magic != Magic {
		err = fmt.Errorf("%w: %s has magic %x", errBadMagic, f.Name(), h.Magic)
	}
	return
}

// nodeIO appends nodes to the graph file and reads them back through a small
// LRU of decoded nodes, then a byte cache of serialized ones.  Concurrent
// misses on the same node share one read.  Nodes returned by readNode are
// shared and must not be modified.
type nodeIO struct {
	f           *os.File
	tail        int64
	compression egraph.Compression
	cache       *freecache.Cache
	group       singleflight.Group

	mu      sync.Mutex
	decoded *lru.Cache
}

func newNodeIO(f *os.File, compression egraph.Compression, cacheMB int) *nodeIO {
	return &nodeIO{
		f:           f,
		tail:        HeaderSize,
		compression: compression,
		cache:       freecache.NewCache(cacheMB * 1024 * 1024),
		decoded:     lru.New(decodedNodes),
	}
}

func (io *nodeIO) writeHeader(h fileHeader) error {
	data, err := h.marshal()
	if err != nil {
		return err
	}
	_, err = io.f.WriteAt(data, 0)
	return err
}

// writeNode appends a length-framed, serialized node and returns the offset
// and length of the serialized data.
func (io *nodeIO) writeNode(n *node) (offset int64, length uint32, err error) {
	data, err := egraph.SerializeData(n.marshal(), io.compression, egraph.CRC32)
	if err != nil {
		return
	}
	frame := make([]byte, frameSize+len(data))
	binary.LittleEndian.PutUint32(frame[:frameSize], uint32(len(data)))
	copy(frame[frameSize:], data)
	if _, err = io.f.WriteAt(frame, io.tail); err != nil {
		return
	}
	storage.FileWritten(len(frame))
	offset = io.tail + frameSize
	length = uint32(len(data))
	io.tail += int64(len(frame))
	io.store(offset, data)
	return
}

func (io *nodeIO) readNode(ref childRef) (*node, error) {
	io.mu.Lock()
	cached, found := io.decoded.Get(ref.offset)
	io.mu.Unlock()
	if found {
		return cached.(*node), nil
	}
	n, err := io.decodeNode(ref)
	if err != nil {
		return nil, err
	}
	io.mu.Lock()
	io.decoded.Add(ref.offset, n)
	io.mu.Unlock()
	return n, nil
}

func (io *nodeIO) decodeNode(ref childRef) (*node, error) {
	data, err := io.cache.Get(cacheKey(ref.offset))
	if err != nil {
		v, err, _ := io.group.Do(strconv.FormatInt(ref.offset, 10), func() (interface{}, error) {
			buf := make([]byte, ref.length)
			if _, err := io.f.ReadAt(buf, ref.offset); err != nil {
				return nil, err
			}
			storage.FileRead(len(buf))
			io.store(ref.offset, buf)
			return buf, nil
		})
		if err != nil {
			return nil, err
		}
		data = v.([]byte)
	}
	payload, _, err := egraph.DeserializeData(data, true)
	if err != nil {
		return nil, err
	}
	n, err := unmarshalNode(payload)
	if err != nil {
		return nil, err
	}
	if n.seq != ref.seq {
		return nil, fmt.Errorf("expected node %d at offset %d, found node %d", ref.seq, ref.offset, n.seq)
	}
	return n, nil
}

func (io *nodeIO) store(offset int64, data []byte) {
	if err := io.cache.Set(cacheKey(offset), data, 0); err != nil {
		egraph.Debugf("Node at offset %d not cached: %v\n", offset, err)
	}
}

// size returns the bytes written to the graph file.
func (io *nodeIO) size() int64 {
	return io.tail
}

func (io *nodeIO) close() error {
	io.mu.Lock()
	io.decoded.Clear()
	io.mu.Unlock()
	io.cache.Clear()
	return io.f.Close()
}

func cacheKey(offset int64) []byte {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, uint64(offset))
	return key
}
