package egraph

import (
	"sync/atomic"
	"time"
)

// Level is the lowest severity a message needs to be logged.
type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	SilentLevel
)

var level atomic.Int32

func init() {
	level.Store(int32(InfoLevel))
}

// Logger receives the messages that pass the current level.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// SetLevel drops messages below l.  SilentLevel drops everything.
func SetLevel(l Level) {
	level.Store(int32(l))
}

func enabled(l Level) bool {
	return Level(level.Load()) <= l
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningLevel) {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorLevel) {
		logger.Errorf(format, args...)
	}
}

// Stopwatch appends the time elapsed since Start to its messages, e.g.,
//
//	sw := egraph.Start()
//	...
//	sw.Infof("Read %d nodes", n) // "Read 12 nodes: 3.2ms"
type Stopwatch struct {
	start time.Time
}

func Start() Stopwatch {
	return Stopwatch{time.Now()}
}

// Elapsed returns the time since the stopwatch started.
func (s Stopwatch) Elapsed() time.Duration {
	return time.Since(s.start)
}

func (s Stopwatch) Debugf(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		logger.Debugf(format+": %s\n", append(args, s.Elapsed())...)
	}
}

func (s Stopwatch) Infof(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		logger.Infof(format+": %s\n", append(args, s.Elapsed())...)
	}
}
