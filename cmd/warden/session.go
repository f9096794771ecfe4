package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/history/factory"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/stats"
	"github.com/loykin/warden/internal/supervisor"
)

// session bundles what one CLI invocation needs: configuration, the agent
// logger and the supervisor for the canonical PID file.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	sup    *supervisor.Supervisor
	stats  stats.Provider
	hist   *history.Recorder // nil when history is disabled

	closers []io.Closer
}

func openSession(ctx context.Context, configPath string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, closer, err := cfg.Log.Setup()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger, closers: []io.Closer{closer}}

	if cfg.History.Enabled {
		s.hist = openHistory(ctx, cfg.History, logger)
		s.closers = append(s.closers, s.hist)
	}

	s.sup = supervisor.New(supervisor.Config{
		PIDFile:  cfg.Paths.PIDFile(),
		LockFile: cfg.Paths.LockFile(),
		LogDir:   cfg.Paths.LogDir,
		OnStale: func(pid int) {
			metrics.IncStalePIDFile()
			s.hist.Record(ctx, history.NewEvent(history.EventStale, pid, "pid file named a dead process"))
		},
	}, logger)
	s.stats = stats.New(logger, cfg.Stats)
	return s, nil
}

// openHistory opens the primary store and any export sinks. A sink that
// cannot be opened is logged and skipped.
func openHistory(ctx context.Context, hc config.HistoryConfig, logger *slog.Logger) *history.Recorder {
	var sinks []history.Sink
	for _, dsn := range append([]string{hc.DSN}, hc.Exports...) {
		if dsn == "" {
			continue
		}
		sink, err := factory.NewSinkFromDSN(ctx, dsn)
		if err != nil {
			logger.Error("failed to open history sink", "component", "history", "error", err)
			continue
		}
		sinks = append(sinks, sink)
	}
	return history.NewRecorder(logger, sinks...)
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
