// Package logging provides the structured logger shared by every workspace
// monitor component.
//
// Messages carry a component prefix in the style "[watcher] " and optional
// key/value data appended as key=value pairs:
//
//	log := logging.New(logging.Options{Level: "debug"}).With("watcher")
//	log.Info("watching directory", "path", dir)
//	// 2026/01/02 15:04:05 [watcher] INFO watching directory path=/src
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract accepted by all components.
// data is a list of alternating keys and values.
type Logger interface {
	Debug(msg string, data ...any)
	Info(msg string, data ...any)
	Warn(msg string, data ...any)
	Error(msg string, data ...any)
	// With returns a logger that prefixes messages with the component name.
	With(component string) Logger
}

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// FileOptions configures the rotating log file sink.
type FileOptions struct {
	// Path of the log file. Empty disables the file sink.
	Path string
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

// Options configures New.
type Options struct {
	// Level is the minimum level written (default: info).
	Level string
	// Output is the primary writer (default: stderr).
	Output io.Writer
	// File optionally tees output to a rotating file.
	File FileOptions
}

// StdLogger writes through a standard library *log.Logger.
type StdLogger struct {
	base      *log.Logger
	level     Level
	component string
	closer    io.Closer
}

// New creates a StdLogger from opts. An unknown level falls back to info.
func New(opts Options) *StdLogger {
	level, _ := ParseLevel(opts.Level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer
	if opts.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		}
		out = io.MultiWriter(out, lj)
		closer = lj
	}

	return &StdLogger{
		base:   log.New(&syncWriter{w: out}, "", log.LstdFlags),
		level:  level,
		closer: closer,
	}
}

// Default returns an info-level stderr logger.
func Default() *StdLogger {
	return New(Options{})
}

// With returns a child logger for component.
func (l *StdLogger) With(component string) Logger {
	child := *l
	child.component = component
	child.closer = nil
	return &child
}

// Close releases the rotating file sink, if any.
func (l *StdLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *StdLogger) Debug(msg string, data ...any) { l.write(LevelDebug, msg, data) }
func (l *StdLogger) Info(msg string, data ...any)  { l.write(LevelInfo, msg, data) }
func (l *StdLogger) Warn(msg string, data ...any)  { l.write(LevelWarn, msg, data) }
func (l *StdLogger) Error(msg string, data ...any) { l.write(LevelError, msg, data) }

func (l *StdLogger) write(level Level, msg string, data []any) {
	if level < l.level {
		return
	}

	var b strings.Builder
	if l.component != "" {
		b.WriteString("[")
		b.WriteString(l.component)
		b.WriteString("] ")
	}
	b.WriteString(level.String())
	b.WriteString(" ")
	b.WriteString(msg)
	b.WriteString(formatData(data))

	l.base.Println(b.String())
}

// formatData renders key/value pairs. A trailing key without a value is
// rendered with the placeholder "(missing)".
func formatData(data []any) string {
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(data); i += 2 {
		key := fmt.Sprint(data[i])
		var val any = "(missing)"
		if i+1 < len(data) {
			val = data[i+1]
		}
		s := fmt.Sprint(val)
		if strings.ContainsAny(s, " \t\n\"") {
			s = fmt.Sprintf("%q", s)
		}
		fmt.Fprintf(&b, " %s=%s", key, s)
	}
	return b.String()
}

// syncWriter serializes writes from child loggers sharing one output.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type discard struct{}

func (discard) Debug(string, ...any)  {}
func (discard) Info(string, ...any)   {}
func (discard) Warn(string, ...any)   {}
func (discard) Error(string, ...any)  {}
func (d discard) With(string) Logger { return d }

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return discard{}
}

// OrDefault returns l, or a default stderr logger scoped to component when l is nil.
func OrDefault(l Logger, component string) Logger {
	if l == nil {
		return Default().With(component)
	}
	return l
}
