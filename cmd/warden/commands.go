package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/loykin/warden/internal/agent"
	"github.com/loykin/warden/internal/breaker"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/remote"
	"github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/stats"
	"github.com/loykin/warden/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// command implements the CLI actions independent of cobra.
type command struct {
	global *GlobalFlags
	out    io.Writer
	// daemonCmd returns the program and arguments that run the daemon.
	daemonCmd func(configPath string) (string, []string, error)
}

func newCommand(global *GlobalFlags, out io.Writer) *command {
	return &command{global: global, out: out, daemonCmd: selfDaemonCmd}
}

// selfDaemonCmd re-executes the current binary as `daemon run`.
func selfDaemonCmd(configPath string) (string, []string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{"daemon", "run"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return "", nil, err
		}
		args = append(args, "--config", abs)
	}
	return exe, args, nil
}

func (c *command) session(ctx context.Context) (*session, error) {
	return openSession(ctx, c.global.ConfigPath)
}

// Start spawns the daemon unless one is already running.
func (c *command) Start(ctx context.Context, f StartFlags) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	_, err = c.start(ctx, s, f)
	return err
}

func (c *command) start(ctx context.Context, s *session, f StartFlags) (int, error) {
	d := s.cfg.Daemon
	d.Env = append(append([]string(nil), d.Env...), f.EnvKVs...)
	d.EnvFiles = append(append([]string(nil), d.EnvFiles...), f.EnvFiles...)
	d.UseOSEnv = d.UseOSEnv || f.UseOSEnv
	env, err := d.DaemonEnv()
	if err != nil {
		return 0, fmt.Errorf("daemon environment: %w", err)
	}
	if env != nil {
		// The daemon must resolve the same state directory as this process.
		env = mergeEnv(env, []string{
			"WARDEN_PATHS_STATE_DIR=" + s.cfg.Paths.StateDir,
			"WARDEN_PATHS_LOG_DIR=" + s.cfg.Paths.LogDir,
		})
	}
	workDir := f.WorkDir
	if workDir == "" {
		workDir = d.WorkDir
	}

	exe, args, err := c.daemonCmd(c.global.ConfigPath)
	if err != nil {
		return 0, err
	}
	pid, err := s.sup.Start(ctx, exe, args, supervisor.SpawnOptions{Env: env, WorkDir: workDir})
	if errors.Is(err, supervisor.ErrAlreadyRunning) {
		_, _ = fmt.Fprintf(c.out, "warden daemon already running (pid %d)\n", pid)
		return pid, nil
	}
	if err != nil {
		return 0, err
	}

	if f.Wait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.Wait):
		}
		if !s.sup.IsProcessRunning(pid) {
			_ = s.sup.RemovePIDFile()
			return 0, fmt.Errorf("daemon exited right after start (pid %d), see %s", pid, s.sup.StderrPath())
		}
	}

	metrics.IncDaemonStart()
	s.hist.Record(ctx, history.NewEvent(history.EventStart, pid, exe))
	_, _ = fmt.Fprintf(c.out, "warden daemon started (pid %d)\n", pid)
	return pid, nil
}

// Stop terminates the daemon, escalating to kill after the grace period.
func (c *command) Stop(ctx context.Context, f StopFlags) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	_, err = c.stop(ctx, s, f)
	return err
}

func (c *command) stop(ctx context.Context, s *session, f StopFlags) (supervisor.StopResult, error) {
	grace := f.Grace
	if grace <= 0 {
		grace = s.cfg.Daemon.StopGrace
	}
	res, err := s.sup.Stop(ctx, grace)
	if err != nil {
		return res, err
	}
	if !res.WasRunning {
		_, _ = fmt.Fprintln(c.out, "warden daemon is not running")
		return res, nil
	}

	metrics.IncDaemonStop(res.Forced)
	evt := history.EventStop
	detail := "exited after SIGTERM"
	if res.Forced {
		evt = history.EventKill
		detail = "killed after " + grace.String()
	}
	s.hist.Record(ctx, history.NewEvent(evt, res.PID, detail))
	if res.Forced {
		_, _ = fmt.Fprintf(c.out, "warden daemon killed (pid %d)\n", res.PID)
	} else {
		_, _ = fmt.Fprintf(c.out, "warden daemon stopped (pid %d)\n", res.PID)
	}
	return res, nil
}

// Restart stops a running daemon and starts a new one.
func (c *command) Restart(ctx context.Context, stop StopFlags, start StartFlags) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	res, err := c.stop(ctx, s, stop)
	if err != nil {
		return err
	}
	pid, err := c.start(ctx, s, start)
	if err != nil {
		return err
	}
	s.hist.Record(ctx, history.NewEvent(history.EventRestart, pid, "previous pid "+strconv.Itoa(res.PID)))
	return nil
}

type statusReport struct {
	Running  bool                `json:"running"`
	PID      int                 `json:"pid,omitempty"`
	PIDFile  string              `json:"pid_file"`
	Stats    *stats.ProcessStats `json:"stats,omitempty"`
	Breakers []breaker.Snapshot  `json:"breakers,omitempty"`
}

// Status reports whether the daemon runs and, if so, its resource usage.
func (c *command) Status(ctx context.Context, f StatusFlags) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	v, err := s.sup.ValidatePIDFile()
	if err != nil {
		return err
	}
	rep := statusReport{Running: v.Valid, PID: v.PID, PIDFile: s.sup.PIDFile()}
	if v.Valid {
		rep.Stats = s.stats.GetProcessStats(ctx, v.PID)
		if s.cfg.Server.Listen != "" {
			cl := server.NewClient(s.cfg.Server.Listen, f.APITimeout, s.logger)
			if st, err := cl.Status(ctx); err == nil {
				rep.Breakers = st.Breakers
			} else {
				s.logger.Debug("daemon status endpoint unavailable", "error", err)
			}
		}
	}

	if f.JSON {
		printJSON(c.out, rep)
		return nil
	}
	_, _ = fmt.Fprintln(c.out, renderStatus(rep))
	return nil
}

func renderStatus(rep statusReport) string {
	state := "stopped"
	if rep.Running {
		state = "running"
	}
	rows := [][]string{{"State", state}, {"PID file", rep.PIDFile}}
	if rep.Running {
		rows = append(rows, []string{"PID", strconv.Itoa(rep.PID)})
	}
	if st := rep.Stats; st != nil {
		rows = append(rows,
			[]string{"Uptime", formatUptime(st.UptimeSeconds)},
			[]string{"CPU", fmt.Sprintf("%.1f%%", st.CPUPercent)},
			[]string{"Memory", fmt.Sprintf("%.1f MB", st.MemoryMB)},
			[]string{"Threads", strconv.Itoa(st.ThreadCount)},
		)
	}
	for _, b := range rep.Breakers {
		rows = append(rows, []string{"Breaker " + b.Name, fmt.Sprintf("%s (%d failures)", b.State, b.FailureCount)})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

// Logs prints the tail of a daemon log and optionally follows it.
func (c *command) Logs(ctx context.Context, f LogsFlags) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	path := s.sup.StdoutPath()
	switch {
	case f.Agent:
		path = s.cfg.Log.AgentLogPath()
	case f.Stderr:
		path = s.sup.StderrPath()
	}
	if path == "" {
		return errors.New("no log file configured")
	}
	lines, off, err := tailLines(path, f.Lines)
	if errors.Is(err, os.ErrNotExist) && f.Follow {
		lines, off, err = nil, 0, nil
	}
	if err != nil {
		return err
	}
	for _, l := range lines {
		_, _ = fmt.Fprintln(c.out, l)
	}
	if !f.Follow {
		if len(lines) == 0 {
			_, _ = fmt.Fprintln(c.out, "No log entries available")
		}
		return nil
	}
	return follow(ctx, path, off, c.out)
}

// History lists recorded lifecycle events, newest first.
func (c *command) History(ctx context.Context, f HistoryFlags) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if s.hist == nil {
		return errors.New("history is disabled (history.enabled = false)")
	}
	evs, err := s.hist.List(ctx, f.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		if evs == nil {
			evs = []history.Event{}
		}
		printJSON(c.out, evs)
		return nil
	}
	if len(evs) == 0 {
		_, _ = fmt.Fprintln(c.out, "No history recorded")
		return nil
	}
	rows := make([][]string, 0, len(evs))
	for _, e := range evs {
		rows = append(rows, []string{
			e.OccurredAt.Local().Format(time.DateTime),
			string(e.Type),
			strconv.Itoa(e.PID),
			e.Host,
			e.Detail,
		})
	}
	_, _ = fmt.Fprintln(c.out, renderTable(
		[]string{"Time", "Event", "PID", "Host", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}

// Run is the daemon itself. It blocks until SIGINT or SIGTERM.
func (c *command) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return c.run(ctx, s)
}

func (c *command) run(ctx context.Context, s *session) error {
	// A foreground run claims the PID file itself so status and stop see it.
	v, err := s.sup.ValidatePIDFile()
	if err != nil {
		return err
	}
	switch {
	case !v.Valid:
		if err := s.sup.WritePIDFile(os.Getpid()); err != nil {
			return err
		}
	case v.PID != os.Getpid():
		return fmt.Errorf("%w (pid %d)", supervisor.ErrAlreadyRunning, v.PID)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		s.logger.Warn("failed to register metrics", "error", err)
	}

	rc := remote.New(remote.Config{
		URL:     s.cfg.Remote.URL,
		Timeout: s.cfg.Remote.Timeout,
		Breaker: s.cfg.Breaker.For(remote.BreakerName),
		Logger:  s.logger,
	})
	opts := agent.Options{
		Stats:      s.stats,
		Remote:     rc,
		Supervisor: s.sup,
		Interval:   s.cfg.Remote.Interval,
		Listen:     s.cfg.Server.Listen,
		Logger:     s.logger,
	}
	if s.hist != nil {
		opts.History = s.hist
	}
	return agent.New(opts).Run(ctx)
}
