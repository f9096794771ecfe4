package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// ColorTextHandler is a LineHandler that wraps the level in ANSI color codes.
type ColorTextHandler struct {
	*LineHandler
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, level slog.Leveler) *ColorTextHandler {
	h := NewLineHandler(w, level)
	h.color = true
	return &ColorTextHandler{LineHandler: h}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // Red
	case l >= slog.LevelWarn:
		return "\033[33m" // Yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // Green
	default:
		return "\033[36m" // Cyan
	}
}

// NewConsoleHandler returns a ColorTextHandler when f is a terminal and a
// plain LineHandler otherwise. A nil f yields a nil handler.
func NewConsoleHandler(f *os.File, level slog.Leveler) slog.Handler {
	if f == nil {
		return nil
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewColorTextHandler(f, level)
	}
	return NewLineHandler(f, level)
}
