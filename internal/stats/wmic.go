package stats

import (
	"context"
	"fmt"
	"log/slog"
)

type wmicProvider struct {
	logger *slog.Logger
	run    runner
	cores  func() int
}

func (p *wmicProvider) GetProcessStats(ctx context.Context, pid int) *ProcessStats {
	if pid <= 0 {
		return nil
	}
	out, err := p.run(ctx, "wmic", "path", "Win32_PerfFormattedData_PerfProc_Process",
		"where", fmt.Sprintf("IDProcess=%d", pid),
		"get", "PercentProcessorTime,WorkingSetPrivate,ElapsedTime,ThreadCount",
		"/format:csv")
	if err != nil {
		p.logger.Error("wmic query failed", "pid", pid, "error", err)
		return nil
	}
	row, err := parseWMICCSV(string(out))
	if err != nil {
		// wmic prints "No Instance(s) Available." for a missing pid.
		p.logger.Error("parse wmic output", "pid", pid, "error", err)
		return nil
	}
	return &ProcessStats{
		PID:           pid,
		CPUPercent:    perCore(row.cpu, p.cores()),
		MemoryMB:      bytesToMB(row.memoryBytes),
		UptimeSeconds: row.elapsed,
		ThreadCount:   row.threads,
	}
}
