package stats

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// procfsProvider reads /proc/<pid>/status, /proc/<pid>/stat and /proc/uptime.
// CPU is the lifetime average: process CPU seconds over process wall
// seconds, spread across all logical cores.
type procfsProvider struct {
	logger   *slog.Logger
	procRoot string
	clkTck   int64
	cores    func() int
}

func (p *procfsProvider) GetProcessStats(_ context.Context, pid int) *ProcessStats {
	if pid <= 0 {
		return nil
	}
	dir := filepath.Join(p.procRoot, strconv.Itoa(pid))

	statusRaw, err := os.ReadFile(filepath.Join(dir, "status"))
	if err != nil {
		p.logger.Error("read proc status", "pid", pid, "error", err)
		return nil
	}
	statRaw, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		p.logger.Error("read proc stat", "pid", pid, "error", err)
		return nil
	}
	uptimeRaw, err := os.ReadFile(filepath.Join(p.procRoot, "uptime"))
	if err != nil {
		p.logger.Error("read system uptime", "error", err)
		return nil
	}

	status, err := parseProcStatus(string(statusRaw))
	if err != nil {
		p.logger.Error("parse proc status", "pid", pid, "error", err)
		return nil
	}
	st, err := parseProcStat(string(statRaw))
	if err != nil {
		p.logger.Error("parse proc stat", "pid", pid, "error", err)
		return nil
	}
	sysUptime, err := parseUptime(string(uptimeRaw))
	if err != nil {
		p.logger.Error("parse system uptime", "error", err)
		return nil
	}

	clk := float64(p.clkTck)
	if clk <= 0 {
		clk = 100
	}
	procUptime := sysUptime - float64(st.startTicks)/clk
	if procUptime < 0 {
		procUptime = 0
	}

	var cpu float64
	if procUptime > 0 {
		cpuSecs := float64(st.utime+st.stime) / clk
		cpu = perCore(cpuSecs/procUptime*100, p.cores())
	}

	threads := status.threads
	if threads != st.numThreads && st.numThreads > 0 {
		// The stat record is read later and reflects the current count.
		threads = st.numThreads
	}

	return &ProcessStats{
		PID:           pid,
		CPUPercent:    cpu,
		MemoryMB:      float64(status.rssKB) / 1024,
		UptimeSeconds: int64(procUptime),
		ThreadCount:   threads,
	}
}
