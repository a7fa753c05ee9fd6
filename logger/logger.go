// Package logger sets up the structured logger shared by every component of
// a harvest run.
package logger

import (
	"io"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the logging interface components depend on. *charmlog.Logger
// implements it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Config controls logger output.
type Config struct {
	Level      string // debug, info, warn, error; default: info
	Output     io.Writer
	JSON       bool
	TimeFormat string
}

// DefaultConfig returns an info-level text logger on stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Output:     os.Stderr,
		TimeFormat: "15:04:05",
	}
}

// New creates a logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *charmlog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           ParseLevel(cfg.Level),
	})
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	}
	return l
}

// ParseLevel maps a level name to a charm level. Unknown names mean info.
func ParseLevel(level string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return charmlog.New(io.Discard)
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// With returns a logger that adds keyvals to every message, when l supports
// it.
func With(l Logger, keyvals ...any) Logger {
	if cl, ok := l.(*charmlog.Logger); ok {
		return cl.With(keyvals...)
	}
	return OrNop(l)
}
