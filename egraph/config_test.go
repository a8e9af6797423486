package egraph

import (
	"os"
	"path/filepath"

	. "github.com/janelia-flyem/go/gocheck"
)

type ConfigSuite struct{}

var _ = Suite(&ConfigSuite{})

const testTOML = `
[store]
engine = "historytree"
path = "graphs"
name = "kernel-trace"
block_size = 4096
cache_mb = 2
compression = "zstd"

[logging]
logfile = "logs/egraph.log"
max_log_size = 10
max_log_age = 7
`

func (s *ConfigSuite) TestDecodeConfig(c *C) {
	sc, lc, err := DecodeConfig(testTOML, "/data")
	c.Assert(err, IsNil)
	c.Assert(sc.Engine, Equals, "historytree")

	path, found, err := sc.GetString("path")
	c.Assert(err, IsNil)
	c.Assert(found, Equals, true)
	c.Assert(path, Equals, filepath.Join("/data", "graphs"))

	blockSize, found, err := sc.GetInt("block_size")
	c.Assert(err, IsNil)
	c.Assert(found, Equals, true)
	c.Assert(blockSize, Equals, 4096)

	_, found, err = sc.GetBool("testing")
	c.Assert(err, IsNil)
	c.Assert(found, Equals, false)

	_, _, err = sc.GetInt("name")
	c.Assert(err, NotNil)

	c.Assert(lc.Logfile, Equals, filepath.Join("/data", "logs/egraph.log"))
	c.Assert(lc.MaxSize, Equals, 10)
	c.Assert(lc.MaxAge, Equals, 7)
}

func (s *ConfigSuite) TestLoadConfig(c *C) {
	dir, err := os.MkdirTemp("", "egraph-config")
	c.Assert(err, IsNil)
	defer os.RemoveAll(dir)

	filename := filepath.Join(dir, "egraph.toml")
	c.Assert(os.WriteFile(filename, []byte(testTOML), 0644), IsNil)

	sc, _, err := LoadConfig(filename)
	c.Assert(err, IsNil)
	path, _, _ := sc.GetString("path")
	c.Assert(path, Equals, filepath.Join(dir, "graphs"))

	_, _, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	c.Assert(err, NotNil)
}

func (s *ConfigSuite) TestSet(c *C) {
	var config Config
	config.Set("testing", true)
	b, found, err := config.GetBool("testing")
	c.Assert(err, IsNil)
	c.Assert(found, Equals, true)
	c.Assert(b, Equals, true)
}
