package egraph

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"

	. "github.com/janelia-flyem/go/gocheck"
)

type LogSuite struct {
	buf bytes.Buffer
}

var _ = Suite(&LogSuite{})

func (s *LogSuite) SetUpTest(c *C) {
	s.buf.Reset()
	log.SetOutput(&s.buf)
}

func (s *LogSuite) TearDownTest(c *C) {
	log.SetOutput(os.Stderr)
	SetLevel(InfoLevel)
}

func (s *LogSuite) TestLevels(c *C) {
	SetLevel(WarningLevel)
	Debugf("debug\n")
	Infof("info\n")
	Warningf("warning\n")
	Errorf("error\n")
	out := s.buf.String()
	c.Assert(strings.Contains(out, "debug"), Equals, false)
	c.Assert(strings.Contains(out, "info"), Equals, false)
	c.Assert(strings.Contains(out, " WARNING warning"), Equals, true)
	c.Assert(strings.Contains(out, " ERROR error"), Equals, true)

	s.buf.Reset()
	SetLevel(SilentLevel)
	Errorf("error\n")
	c.Assert(s.buf.Len(), Equals, 0)
}

func (s *LogSuite) TestStopwatch(c *C) {
	SetLevel(DebugLevel)
	sw := Start()
	sw.Debugf("Read %d nodes", 12)
	c.Assert(strings.Contains(s.buf.String(), " DEBUG Read 12 nodes: "), Equals, true)

	s.buf.Reset()
	SetLevel(WarningLevel)
	sw.Infof("Finished")
	c.Assert(s.buf.Len(), Equals, 0)
}

func (s *LogSuite) TestLogFile(c *C) {
	logfile := filepath.Join(c.MkDir(), "egraph.log")
	lc := LogConfig{Logfile: logfile, MaxSize: 1, MaxAge: 1}
	closer := lc.SetLogger()
	Warningf("to file\n")
	c.Assert(closer.Close(), IsNil)

	data, err := os.ReadFile(logfile)
	c.Assert(err, IsNil)
	c.Assert(strings.Contains(string(data), " WARNING to file"), Equals, true)

	var none *LogConfig
	c.Assert(none.SetLogger().Close(), IsNil)
}
