package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days

	AgentLogName = "warden.log"
	ErrorLogName = "error.log"
)

// Config describes the agent's own log files. Both files rotate by size
// following lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`          // base directory for logs
	Level      string `mapstructure:"level"`        // debug, info, warn, error
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // Gzip rotated files
	Console    bool   `mapstructure:"console"`      // also log to stderr
}

// AgentLogPath is the all-levels log file.
func (c Config) AgentLogPath() string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, AgentLogName)
}

// ErrorLogPath is the error-only log file.
func (c Config) ErrorLogPath() string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, ErrorLogName)
}

// Writers returns rotating writers for the agent log and the error log.
// Both are nil when Dir is empty.
func (c Config) Writers() (io.WriteCloser, io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	return c.rotating(c.AgentLogPath()), c.rotating(c.ErrorLogPath()), nil
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Setup builds the agent logger: every level to warden.log, errors also to
// error.log, and a console copy on stderr when Console is set. The returned
// closer flushes and closes the files.
func (c Config) Setup() (*slog.Logger, io.Closer, error) {
	return c.setup(os.Stderr)
}

func (c Config) setup(console *os.File) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	all, errs, err := c.Writers()
	if err != nil {
		return nil, nil, err
	}

	var handlers []slog.Handler
	var closers multiCloser
	if all != nil {
		handlers = append(handlers, NewLineHandler(all, level), NewLineHandler(errs, slog.LevelError))
		closers = append(closers, all, errs)
	}
	if c.Console || all == nil {
		handlers = append(handlers, NewConsoleHandler(console, level))
	}
	return slog.New(NewFanoutHandler(handlers...)), closers, nil
}

// ParseLevel maps a level name to a slog.Level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
