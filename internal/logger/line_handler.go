package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CategoryKey is the attribute that names the category column of a line.
const CategoryKey = "component"

// DefaultCategory is used when a record carries no CategoryKey attribute.
const DefaultCategory = "warden"

// TimeFormat is ISO-8601 with milliseconds and zone offset.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// LineHandler writes one line per record:
//
//	[2006-01-02T15:04:05.000Z07:00] LEVEL [category] message key=value ...
type LineHandler struct {
	mu       *sync.Mutex
	w        io.Writer
	level    slog.Leveler
	category string
	prefix   string // group prefix for attribute keys
	attrs    string // preformatted " key=value" pairs
	color    bool
}

// NewLineHandler returns a handler writing records at or above level to w.
func NewLineHandler(w io.Writer, level slog.Leveler) *LineHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LineHandler{mu: &sync.Mutex{}, w: w, level: level, category: DefaultCategory}
}

func (h *LineHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	category := h.category
	var sb strings.Builder
	sb.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == CategoryKey {
			category = a.Value.String()
			return true
		}
		appendAttr(&sb, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	level := r.Level.String()
	if h.color {
		level = levelColor(r.Level) + level + "\033[0m"
	}
	line := fmt.Sprintf("[%s] %s [%s] %s%s\n", ts.Format(TimeFormat), level, category, r.Message, sb.String())

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	var sb strings.Builder
	sb.WriteString(h.attrs)
	for _, a := range attrs {
		if h.prefix == "" && a.Key == CategoryKey {
			nh.category = a.Value.String()
			continue
		}
		appendAttr(&sb, h.prefix, a)
	}
	nh.attrs = sb.String()
	return &nh
}

func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func appendAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(sb, p, ga)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(prefix)
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(quoteIfNeeded(formatValue(a.Value)))
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(TimeFormat)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\r\"=") {
		return strconv.Quote(s)
	}
	return s
}
