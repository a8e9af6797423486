package egraph

import (
	"bytes"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type SerializeSuite struct{}

var _ = Suite(&SerializeSuite{})

func (s *SerializeSuite) TestFormatByte(c *C) {
	for _, compression := range []Compression{Uncompressed, Snappy, Zstd} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			format := EncodeSerializationFormat(compression, checksum)
			gotCompress, gotChecksum := DecodeSerializationFormat(format)
			c.Assert(gotCompress, Equals, compression)
			c.Assert(gotChecksum, Equals, checksum)
		}
	}
}

func (s *SerializeSuite) TestSerializeData(c *C) {
	data := bytes.Repeat([]byte("vertex 1234 worker 7 horizontal;"), 200)

	for _, compression := range []Compression{Uncompressed, Snappy, Zstd} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			ser, err := SerializeData(data, compression, checksum)
			c.Assert(err, IsNil)
			if compression != Uncompressed && len(ser) >= len(data) {
				c.Errorf("%s did not shrink repetitive data: %d -> %d bytes", compression, len(data), len(ser))
			}

			got, gotCompress, err := DeserializeData(ser, true)
			c.Assert(err, IsNil)
			c.Assert(gotCompress, Equals, compression)
			c.Assert(bytes.Equal(got, data), Equals, true)

			if checksum != NoChecksum {
				ser[len(ser)-1] ^= 0x04 // Flip a bit
				_, _, err = DeserializeData(ser, true)
				c.Assert(err, NotNil)
			}
		}
	}
}

func (s *SerializeSuite) TestDeserializeShort(c *C) {
	_, _, err := DeserializeData(nil, true)
	c.Assert(err, NotNil)

	format := EncodeSerializationFormat(Uncompressed, CRC32)
	_, _, err = DeserializeData([]byte{byte(format), 0x01}, true)
	c.Assert(err, NotNil)
}

func (s *SerializeSuite) TestParseCompression(c *C) {
	for _, compression := range []Compression{Uncompressed, Snappy, Zstd} {
		got, err := ParseCompression(compression.String())
		c.Assert(err, IsNil)
		c.Assert(got, Equals, compression)
	}
	_, err := ParseCompression("lzma")
	c.Assert(err, NotNil)
}
