// Package diag builds the loggers and diagnostic sinks used by the CLI.
package diag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ndisidore/sassimport/pkg/importer"
)

// Sentinel errors for logger construction.
var (
	ErrUnknownFormat = errors.New("unknown log format")
	ErrUnknownLevel  = errors.New("unknown log level")
)

// EventAmbiguous tags ambiguity warnings in structured output.
const EventAmbiguous = "import.ambiguous"

var _ slog.Handler = (*PrettyHandler)(nil)

// PrettyHandler writes colored, human-oriented lines. Attributes added with
// WithAttrs and WithGroup become a "key=val " prefix. Per-record attributes
// are dropped except for path and duration, which are appended highlighted.
// Multi-line messages keep their layout; every line gets the level color.
type PrettyHandler struct {
	out    io.Writer
	level  slog.Leveler
	mu     *sync.Mutex
	prefix string
}

// NewPrettyHandler returns a PrettyHandler writing to out at level.
func NewPrettyHandler(out io.Writer, level slog.Leveler) *PrettyHandler {
	return &PrettyHandler{out: out, level: level, mu: &sync.Mutex{}}
}

var (
	_warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	_errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	_debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // dim
	_pathStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // cyan
)

// Enabled reports whether level is at or above the handler's level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders r as one or more colored lines.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	msg := h.prefix + strings.TrimRight(r.Message, "\n")

	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "path", "duration":
			msg += " " + _pathStyle.Render(a.Value.String())
		}
		return true
	})

	style, styled := levelStyle(r.Level)
	var b strings.Builder
	for line := range strings.SplitSeq(msg, "\n") {
		if styled {
			line = style.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func levelStyle(level slog.Level) (lipgloss.Style, bool) {
	switch {
	case level >= slog.LevelError:
		return _errorStyle, true
	case level >= slog.LevelWarn:
		return _warnStyle, true
	case level < slog.LevelInfo:
		return _debugStyle, true
	default:
		return lipgloss.Style{}, false
	}
}

// WithAttrs returns a handler that prefixes messages with attrs.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		b.WriteByte(' ')
	}
	return &PrettyHandler{out: h.out, level: h.level, mu: h.mu, prefix: b.String()}
}

// WithGroup returns a handler that prefixes messages with name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &PrettyHandler{out: h.out, level: h.level, mu: h.mu, prefix: h.prefix + name + "."}
}

// NewLogger creates a logger for format ("pretty", "json" or "text") at level.
func NewLogger(out io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	case "pretty":
		handler = NewPrettyHandler(out, level)
	default:
		return nil, fmt.Errorf("unknown format %q: %w", format, ErrUnknownFormat)
	}
	return slog.New(handler), nil
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownLevel)
	}
	return level, nil
}

// SlogSink is an importer.DiagnosticSink that logs warnings at warn level.
type SlogSink struct {
	Logger *slog.Logger
}

var _ importer.DiagnosticSink = SlogSink{}

// Warn logs msg tagged with EventAmbiguous.
func (s SlogSink) Warn(msg string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	//nolint:sloglint // the warning text is the user-facing message
	logger.LogAttrs(context.Background(), slog.LevelWarn, msg, slog.String("event", EventAmbiguous))
}
