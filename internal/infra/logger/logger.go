// Package logger is the console's leveled logger. It satisfies
// waLog.Logger so every component can derive a named sub-logger.
//
// Lines look like
//
//	15:04:05.000 INF [wac/Session/9876543210] Session connected
//
// Color is used only when the sink is a terminal and NO_COLOR is unset.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[90m"
	ansiName  = "\033[36m"
)

var levels = [...]struct {
	tag   string
	color string
}{
	LevelDebug: {"DBG", "\033[34m"},
	LevelInfo:  {"INF", "\033[32m"},
	LevelWarn:  {"WRN", "\033[33m"},
	LevelError: {"ERR", "\033[31m"},
}

// Options configures Open.
type Options struct {
	Level string
	// File, when set, receives the log instead of stderr. It is appended to.
	File string
}

// Logger writes leveled lines for one component path. Sub-loggers share
// the sink of the logger they came from.
type Logger struct {
	path  string
	level Level
	sink  *sink
}

type sink struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	closer io.Closer
}

// New creates a Logger writing to stderr.
func New(module string, level string) *Logger {
	return NewWithWriter(module, level, os.Stderr, isTerminal(os.Stderr))
}

// Open creates a Logger from opts. A configured file keeps log lines out of
// the interactive chat view.
func Open(module string, opts Options) (*Logger, error) {
	if opts.File == "" {
		return New(module, opts.Level), nil
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l := NewWithWriter(module, opts.Level, f, false)
	l.sink.closer = f
	return l, nil
}

// NewWithWriter creates a Logger writing to w. Escapes are only written
// when color is true.
func NewWithWriter(module, level string, w io.Writer, color bool) *Logger {
	return &Logger{
		path:  module,
		level: ParseLevel(level),
		sink:  &sink{w: w, color: color},
	}
}

// Noop returns a logger that discards everything.
func Noop() waLog.Logger {
	return NewWithWriter("", "ERROR", io.Discard, false)
}

// ParseLevel converts a level name. Unknown names mean info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Sub returns a logger whose path is extended by module.
func (l *Logger) Sub(module string) waLog.Logger {
	path := module
	if l.path != "" {
		path = l.path + "/" + module
	}
	return &Logger{path: path, level: l.level, sink: l.sink}
}

// Enabled reports whether lines at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) Debugf(msg string, args ...interface{}) { l.write(LevelDebug, msg, args) }
func (l *Logger) Infof(msg string, args ...interface{})  { l.write(LevelInfo, msg, args) }
func (l *Logger) Warnf(msg string, args ...interface{})  { l.write(LevelWarn, msg, args) }
func (l *Logger) Errorf(msg string, args ...interface{}) { l.write(LevelError, msg, args) }

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.sink.closer == nil {
		return nil
	}
	return l.sink.closer.Close()
}

func (l *Logger) write(level Level, msg string, args []interface{}) {
	if !l.Enabled(level) {
		return
	}
	lv := levels[level]
	color := l.sink.color

	var b strings.Builder
	field := func(ansi, s string) {
		if color {
			b.WriteString(ansi)
			b.WriteString(s)
			b.WriteString(ansiReset)
		} else {
			b.WriteString(s)
		}
		b.WriteByte(' ')
	}
	field(ansiDim, time.Now().Format("15:04:05.000"))
	field(lv.color, lv.tag)
	if l.path != "" {
		field(ansiName, "["+l.path+"]")
	}
	fmt.Fprintf(&b, msg, args...)
	b.WriteByte('\n')

	l.sink.mu.Lock()
	io.WriteString(l.sink.w, b.String())
	l.sink.mu.Unlock()
}

var _ waLog.Logger = (*Logger)(nil)
