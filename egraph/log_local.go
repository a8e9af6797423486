package egraph

import (
	"io"
	"log"

	"github.com/natefinch/lumberjack"
)

// stdLogger prefixes each message with its severity and writes it through the
// standard logger.
type stdLogger struct{}

var logger Logger = stdLogger{}

// LogConfig selects a rotating log file.  With no Logfile, messages go to the
// standard logger.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"`
	MaxAge  int `toml:"max_log_age"`
}

// SetLogger sends log messages to the configured file, rotated by lumberjack.
// The returned closer releases the file; it is a no-op without a Logfile.
func (c *LogConfig) SetLogger() io.Closer {
	if c == nil || c.Logfile == "" {
		Debugf("No log file specified, logging to stderr\n")
		return nopCloser{}
	}
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(l)
	Infof("Logging to %s\n", c.Logfile)
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}
