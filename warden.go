// Package warden exposes the circuit breaker, process supervisor and stats
// provider for embedding in other programs.
package warden

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/warden/internal/breaker"
	cfg "github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/stats"
	"github.com/loykin/warden/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type BreakerConfig = breaker.Config

type BreakerState = breaker.State

type BreakerSnapshot = breaker.Snapshot

type OpenError = breaker.OpenError

type SupervisorConfig = supervisor.Config

type SpawnOptions = supervisor.SpawnOptions

type StopResult = supervisor.StopResult

type ProcessStats = stats.ProcessStats

type StatsOptions = stats.Options

const (
	StateClosed   = breaker.StateClosed
	StateOpen     = breaker.StateOpen
	StateHalfOpen = breaker.StateHalfOpen
)

var (
	ErrBreakerOpen    = breaker.ErrOpen
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
)

// LoadConfig reads a TOML config file (optional) with WARDEN_* overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Breaker is a thin facade over internal/breaker.Breaker.
type Breaker struct{ inner *breaker.Breaker }

func NewBreaker(c BreakerConfig, logger *slog.Logger) *Breaker {
	return &Breaker{inner: breaker.New(c, logger)}
}

func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context, error) error) error {
	return b.inner.Execute(ctx, op, fallback)
}
func (b *Breaker) State() BreakerState       { return b.inner.State() }
func (b *Breaker) FailureCount() int         { return b.inner.FailureCount() }
func (b *Breaker) Snapshot() BreakerSnapshot { return b.inner.Snapshot() }
func (b *Breaker) Reset()                    { b.inner.Reset() }

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

func NewSupervisor(c SupervisorConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{inner: supervisor.New(c, logger)}
}

func (s *Supervisor) Start(ctx context.Context, command string, args []string, opts SpawnOptions) (int, error) {
	return s.inner.Start(ctx, command, args, opts)
}
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) (StopResult, error) {
	return s.inner.Stop(ctx, grace)
}
func (s *Supervisor) SpawnDetached(command string, args []string, opts SpawnOptions) (int, error) {
	return s.inner.SpawnDetached(command, args, opts)
}
func (s *Supervisor) IsProcessRunning(pid int) bool { return s.inner.IsProcessRunning(pid) }
func (s *Supervisor) WritePIDFile(pid int) error    { return s.inner.WritePIDFile(pid) }
func (s *Supervisor) RemovePIDFile() error          { return s.inner.RemovePIDFile() }
func (s *Supervisor) ReadPIDFile() (int, bool, error) {
	return s.inner.ReadPIDFile()
}

// ValidatePIDFile reports whether the PID file names a live process,
// removing it when it does not.
func (s *Supervisor) ValidatePIDFile() (valid bool, pid int, err error) {
	v, err := s.inner.ValidatePIDFile()
	return v.Valid, v.PID, err
}

// NewStatsProvider returns the platform's process statistics provider.
func NewStatsProvider(logger *slog.Logger, opts StatsOptions) stats.Provider {
	return stats.New(logger, opts)
}

// RegisterMetrics registers warden metrics with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
