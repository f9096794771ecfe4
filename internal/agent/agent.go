// Package agent is the foreground loop of the background daemon. It samples
// its own process stats, sends heartbeats through the remote client and
// serves the local status API until its context is cancelled.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/loykin/warden/internal/breaker"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/remote"
	"github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/stats"
	"github.com/loykin/warden/internal/supervisor"
)

// SelfSeries labels the daemon's own process metrics.
const SelfSeries = "daemon"

const DefaultInterval = 30 * time.Second

const shutdownTimeout = 5 * time.Second

// Options wires the agent's collaborators. Only Stats is required.
type Options struct {
	Stats      stats.Provider
	Remote     *remote.Client         // nil or without URL disables heartbeats
	Supervisor *supervisor.Supervisor // releases the PID file on exit
	History    history.Reader         // exposed on /history when set
	Interval   time.Duration
	Listen     string // empty disables the status server
	Logger     *slog.Logger
}

// Agent runs the daemon loop.
type Agent struct {
	opts      Options
	logger    *slog.Logger
	pid       int
	startedAt time.Time

	mu   sync.Mutex
	last *stats.ProcessStats
	addr string
}

func New(opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Agent{
		opts:      opts,
		logger:    opts.Logger.With("component", "agent"),
		pid:       os.Getpid(),
		startedAt: time.Now(),
	}
}

// Run blocks until ctx is cancelled. On exit it shuts the status server down
// and removes the PID file if it still names this process.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("daemon started", "pid", a.pid, "interval", a.opts.Interval)

	var srv *http.Server
	if a.opts.Listen != "" {
		h := server.NewRouter(a, a.opts.History, "").Handler()
		s, err := server.NewServer(a.opts.Listen, h, a.opts.Logger)
		if err != nil {
			a.release()
			return err
		}
		srv = s
		a.mu.Lock()
		a.addr = s.Addr
		a.mu.Unlock()
	}

	a.tick(ctx)
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("daemon shutting down", "pid", a.pid)
			var errs []error
			if srv != nil {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				errs = append(errs, srv.Shutdown(sctx))
				cancel()
			}
			errs = append(errs, a.release())
			metrics.ObserveProcess(SelfSeries, nil)
			return errors.Join(errs...)
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// Addr returns the bound status server address, empty when disabled.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func (a *Agent) release() error {
	if a.opts.Supervisor == nil {
		return nil
	}
	if err := a.opts.Supervisor.ReleaseOwnPIDFile(); err != nil {
		a.logger.Error("failed to release pid file", "error", err)
		return err
	}
	return nil
}

func (a *Agent) tick(ctx context.Context) {
	st := a.opts.Stats.GetProcessStats(ctx, a.pid)
	a.mu.Lock()
	a.last = st
	a.mu.Unlock()
	metrics.ObserveProcess(SelfSeries, st)

	if a.opts.Remote == nil || !a.opts.Remote.Enabled() {
		return
	}
	host, _ := os.Hostname()
	_ = a.opts.Remote.Send(ctx, remote.Heartbeat{Host: host, PID: a.pid, SentAt: time.Now().UTC(), Stats: st})
}

// Status implements server.StatusSource.
func (a *Agent) Status(context.Context) server.Status {
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	st := server.Status{
		PID:           a.pid,
		StartedAt:     a.startedAt.UTC(),
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Stats:         last,
		Breakers:      []breaker.Snapshot{},
	}
	if a.opts.Remote != nil {
		st.Breakers = append(st.Breakers, a.opts.Remote.Breaker().Snapshot())
	}
	return st
}

// ResetBreaker implements server.StatusSource.
func (a *Agent) ResetBreaker(name string) bool {
	if a.opts.Remote == nil || a.opts.Remote.Breaker().Name() != name {
		return false
	}
	a.opts.Remote.Breaker().Reset()
	return true
}
