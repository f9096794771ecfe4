package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// gopsutilProvider works on every platform gopsutil supports. CPUPercent
// from gopsutil is a lifetime average of one core, so it is spread across
// all cores like the native providers.
type gopsutilProvider struct {
	logger *slog.Logger
	cores  func() int
}

func (p *gopsutilProvider) GetProcessStats(ctx context.Context, pid int) *ProcessStats {
	if pid <= 0 {
		return nil
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		p.logger.Error("gopsutil process lookup", "pid", pid, "error", err)
		return nil
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		p.logger.Error("gopsutil cpu", "pid", pid, "error", err)
		return nil
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		p.logger.Error("gopsutil memory", "pid", pid, "error", err)
		return nil
	}
	threads, err := proc.NumThreadsWithContext(ctx)
	if err != nil {
		p.logger.Error("gopsutil threads", "pid", pid, "error", err)
		return nil
	}
	created, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		p.logger.Error("gopsutil create time", "pid", pid, "error", err)
		return nil
	}
	uptime := time.Since(time.UnixMilli(created))
	if uptime < 0 {
		uptime = 0
	}
	return &ProcessStats{
		PID:           pid,
		CPUPercent:    perCore(cpu, p.cores()),
		MemoryMB:      bytesToMB(float64(mem.RSS)),
		UptimeSeconds: int64(uptime / time.Second),
		ThreadCount:   int(threads),
	}
}
