// Package logger provides the injectable logger used throughout faultscope.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger defines the interface for logging throughout the application.
// Implementations are passed explicitly to every component; there is no
// package-level sink.
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
	// With returns a logger that adds key=value to every entry.
	With(key string, value interface{}) Logger
}

// Config controls the zerolog-backed logger.
type Config struct {
	Level     string // "debug", "info", "warn", "error", "disabled"
	Format    string // "json", "console", or "auto"
	Component string
}

// ZerologLogger writes structured logs through zerolog.
type ZerologLogger struct {
	zl zerolog.Logger
}

// New builds a ZerologLogger writing to stderr.
func New(cfg Config) *ZerologLogger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a ZerologLogger writing to w.
func NewWithWriter(cfg Config, w io.Writer) *ZerologLogger {
	out := selectWriter(cfg.Format, w)
	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if c := strings.TrimSpace(cfg.Component); c != "" {
		ctx = ctx.Str("component", c)
	}
	return &ZerologLogger{zl: ctx.Logger()}
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

func (l *ZerologLogger) Info(msg string, args ...interface{}) {
	l.zl.Info().Msgf(msg, args...)
}

func (l *ZerologLogger) Warn(msg string, args ...interface{}) {
	l.zl.Warn().Msgf(msg, args...)
}

func (l *ZerologLogger) Error(msg string, args ...interface{}) {
	l.zl.Error().Msgf(msg, args...)
}

func (l *ZerologLogger) Debug(msg string, args ...interface{}) {
	l.zl.Debug().Msgf(msg, args...)
}

func (l *ZerologLogger) With(key string, value interface{}) Logger {
	return &ZerologLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		fmt.Fprintf(os.Stderr, "logger: invalid level %q; using %q\n", level, "info")
		return zerolog.InfoLevel
	}
}

func selectWriter(format string, w io.Writer) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return w
	case "console":
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		}
		return w
	}
}

// SilentLogger discards all log messages.
// Used in TUI and MCP stdio modes where stray output would corrupt the display
// or the protocol stream.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})      {}
func (s *SilentLogger) Warn(msg string, args ...interface{})      {}
func (s *SilentLogger) Error(msg string, args ...interface{})     {}
func (s *SilentLogger) Debug(msg string, args ...interface{})     {}
func (s *SilentLogger) With(key string, value interface{}) Logger { return s }
