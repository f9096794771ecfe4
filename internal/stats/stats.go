// Package stats samples CPU, memory, uptime and thread usage of a single
// process using whatever the host platform offers.
package stats

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/tklauser/numcpus"
)

// ProcessStats is one sample of a process's resource usage.
//
// CPUPercent is a share of all logical cores (0-100) and MemoryMB is the
// resident set in binary megabytes (bytes / 1,048,576).
type ProcessStats struct {
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	ThreadCount   int     `json:"thread_count"`
}

// Provider produces stats for a pid. A nil result means stats are
// unavailable; the reason has already been logged.
type Provider interface {
	GetProcessStats(ctx context.Context, pid int) *ProcessStats
}

// Strategy names accepted by Options.Strategy.
const (
	StrategyAuto     = "auto"
	StrategyProcfs   = "procfs"
	StrategyPS       = "ps"
	StrategyWMIC     = "wmic"
	StrategyGopsutil = "gopsutil"
)

// Options selects and tunes a provider.
type Options struct {
	// Strategy forces a provider; empty or "auto" picks one by GOOS.
	Strategy string `mapstructure:"strategy"`
	// GOOS overrides runtime.GOOS for selection.
	GOOS string `mapstructure:"-"`
}

// runner executes an external command and returns its stdout.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- fixed utility names with numeric pid arguments
	return exec.CommandContext(ctx, name, args...).Output()
}

// New returns the provider for the current platform, or the one named by
// opts.Strategy. Unknown platforms get a provider that always returns nil.
func New(logger *slog.Logger, opts Options) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stats")
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	strategy := opts.Strategy
	if strategy == "" || strategy == StrategyAuto {
		strategy = strategyFor(goos)
	}
	logger.Debug("stats provider selected", "strategy", strategy, "goos", goos)

	switch strategy {
	case StrategyProcfs:
		return &procfsProvider{logger: logger, procRoot: "/proc", clkTck: clockTicks(), cores: logicalCores}
	case StrategyPS:
		return &psProvider{logger: logger, run: execRunner, darwin: goos == "darwin", cores: logicalCores}
	case StrategyWMIC:
		return &wmicProvider{logger: logger, run: execRunner, cores: logicalCores}
	case StrategyGopsutil:
		return &gopsutilProvider{logger: logger, cores: logicalCores}
	default:
		return newUnsupported(logger, goos)
	}
}

func strategyFor(goos string) string {
	switch goos {
	case "linux":
		return StrategyProcfs
	case "darwin", "freebsd", "openbsd", "netbsd", "dragonfly":
		return StrategyPS
	case "windows":
		return StrategyWMIC
	default:
		return ""
	}
}

// logicalCores reports the number of online logical CPUs, never less than one.
func logicalCores() int {
	n, err := numcpus.GetOnline()
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if n <= 0 {
		return 1
	}
	return n
}

func bytesToMB(b float64) float64 { return b / (1024 * 1024) }

func perCore(cpu float64, cores int) float64 {
	if cores <= 1 {
		return cpu
	}
	return cpu / float64(cores)
}
