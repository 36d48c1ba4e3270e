// Package logging implements Marlin's log sink (spec.md §4.A / component
// A): a time-stamped, level-filtered, cached line writer with rotation
// and an optional fan-out hook for an OS event log.
//
// The sink wraps a logrus.Logger the way the teacher threads a shared
// logger through its constructors (jobs.Runtime's asynq logger shim);
// the in-memory line cache reuses the container/ring pattern from
// sse/session.go's per-session event buffer.
package logging

import (
	"container/ring"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level mirrors spec.md §6's LogLevel (0..5), least to most verbose.
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelOff:
		return logrus.PanicLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// EventSink is the optional fan-out hook for an OS event log. Marlin
// ships only NopEventSink; a host process that needs Windows Event Log
// or syslog integration supplies its own implementation (spec.md §1:
// the OS event-log plumbing is a supervisor-owned external concern).
type EventSink interface {
	Notify(level Level, message string)
}

type NopEventSink struct{}

func (NopEventSink) Notify(Level, string) {}

// Options configures a Sink. Cache must be 100..100000 per spec.md §6;
// NewSink clamps out-of-range values rather than erroring, since the
// cache is a soft operational knob, not a correctness invariant.
type Options struct {
	Logfile   string
	Cache     int
	Level     Level
	Rotate    bool
	MaxBytes  int64 // rotate when the file exceeds this size; <= 0 means 64MiB
	EventSink EventSink
}

func (o Options) withDefaults() Options {
	if o.Cache < 100 {
		o.Cache = 100
	}
	if o.Cache > 100000 {
		o.Cache = 100000
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 64 << 20 // 64MiB
	}
	if o.EventSink == nil {
		o.EventSink = NopEventSink{}
	}
	return o
}

// Sink is Marlin's log sink. It is safe for concurrent use; the teacher's
// doc comment for single-producer-friendly buffers (spec.md §5) is
// honored here with a dedicated mutex guarding both the file handle and
// the ring cache, matching spec.md's "single-producer-friendly buffer
// guarded by a mutex; batched flush on a dedicated thread" note for the
// log sink's concurrency model — Write itself writes to the file inline
// (os.File is unbuffered, so each line reaches the file as it is
// logged), so no separate flush goroutine is needed.
type Sink struct {
	mu      sync.Mutex
	log     *logrus.Logger
	file    *os.File
	path    string
	maxByte int64
	rotate  bool
	size    int64

	cache *ring.Ring
	evt   EventSink
	level Level
}

// NewSink constructs a Sink. If opts.Logfile is empty, output goes to
// stderr only (no rotation, no file handle to manage) — useful for
// development and for the BDD test harness.
func NewSink(opts Options) (*Sink, error) {
	opts = opts.withDefaults()

	s := &Sink{
		log:     logrus.New(),
		maxByte: opts.MaxBytes,
		rotate:  opts.Rotate,
		cache:   ring.New(opts.Cache),
		evt:     opts.EventSink,
		level:   opts.Level,
	}
	s.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	s.log.SetLevel(opts.Level.logrus())

	if opts.Logfile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Logfile), 0o755); err != nil {
			return nil, fmt.Errorf("logging: creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.Logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file: %w", err)
		}
		if fi, err := f.Stat(); err == nil {
			s.size = fi.Size()
		}
		s.file = f
		s.path = opts.Logfile
		s.log.SetOutput(f)
	}

	return s, nil
}

type cachedLine struct {
	At    time.Time
	Level Level
	Line  string
}

// Log writes a level-filtered, time-stamped line, appends it to the
// in-memory cache, rotates the file if needed, and fans the line out to
// the configured EventSink.
func (s *Sink) Log(level Level, format string, args ...interface{}) {
	if level > s.level {
		return
	}
	line := fmt.Sprintf(format, args...)

	s.mu.Lock()
	s.cache.Value = cachedLine{At: time.Now(), Level: level, Line: line}
	s.cache = s.cache.Next()
	s.mu.Unlock()

	switch level {
	case LevelError:
		s.log.Error(line)
	case LevelWarn:
		s.log.Warn(line)
	case LevelInfo:
		s.log.Info(line)
	case LevelDebug:
		s.log.Debug(line)
	default:
		s.log.Trace(line)
	}

	s.evt.Notify(level, line)
	s.maybeRotate(int64(len(line)) + 32)
}

func (s *Sink) Errorf(format string, args ...interface{}) { s.Log(LevelError, format, args...) }
func (s *Sink) Warnf(format string, args ...interface{})  { s.Log(LevelWarn, format, args...) }
func (s *Sink) Infof(format string, args ...interface{})  { s.Log(LevelInfo, format, args...) }
func (s *Sink) Debugf(format string, args ...interface{}) { s.Log(LevelDebug, format, args...) }

// maybeRotate rotates the log file once its size estimate crosses
// MaxBytes. Rotation renames the current file to "<name>.1" (clobbering
// any prior ".1") and reopens a fresh file at the original path. This is
// hand-rolled stdlib logic — see DESIGN.md for why no rotation library
// from the retrieved corpus could be wired here.
func (s *Sink) maybeRotate(written int64) {
	if !s.rotate || s.file == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size += written
	if s.size < s.maxByte {
		return
	}
	_ = s.file.Close()
	rotated := s.path + ".1"
	_ = os.Rename(s.path, rotated)
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// Best-effort: fall back to stderr rather than panic on a
		// logging-subsystem failure.
		s.log.SetOutput(os.Stderr)
		s.file = nil
		return
	}
	s.file = f
	s.size = 0
	s.log.SetOutput(f)
}

// Tail returns up to n of the most recently logged lines, oldest first.
func (s *Sink) Tail(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []cachedLine
	s.cache.Do(func(v interface{}) {
		if v == nil {
			return
		}
		lines = append(lines, v.(cachedLine))
	})
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.At.Format(time.RFC3339) + " " + l.Line
	}
	return out
}

// Close flushes and closes the underlying file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
