package stats

import (
	"context"
	"log/slog"
	"strconv"
)

// psProvider shells out to ps(1). Darwin's ps has no nlwp keyword, so
// there the thread count comes from a second `ps -M` call.
type psProvider struct {
	logger *slog.Logger
	run    runner
	darwin bool
	cores  func() int
}

func (p *psProvider) GetProcessStats(ctx context.Context, pid int) *ProcessStats {
	if pid <= 0 {
		return nil
	}
	spid := strconv.Itoa(pid)

	columns := 4
	format := "pcpu,rss,etime,nlwp"
	if p.darwin {
		columns = 3
		format = "pcpu,rss,etime"
	}

	out, err := p.run(ctx, "ps", "-o", format, "-p", spid)
	if err != nil {
		// ps exits non-zero when the pid is gone.
		p.logger.Error("ps query failed", "pid", pid, "error", err)
		return nil
	}
	row, err := parsePSOutput(string(out), columns)
	if err != nil {
		p.logger.Error("parse ps output", "pid", pid, "error", err, "output", string(out))
		return nil
	}

	if p.darwin {
		tout, err := p.run(ctx, "ps", "-M", "-p", spid)
		if err != nil {
			p.logger.Error("ps -M query failed", "pid", pid, "error", err)
			return nil
		}
		if row.threads, err = countPSThreads(string(tout)); err != nil {
			p.logger.Error("parse ps -M output", "pid", pid, "error", err)
			return nil
		}
	}

	return &ProcessStats{
		PID:           pid,
		CPUPercent:    perCore(row.cpu, p.cores()),
		MemoryMB:      float64(row.rssKB) / 1024,
		UptimeSeconds: row.elapsed,
		ThreadCount:   row.threads,
	}
}
