package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// Config describes where the supervisor keeps its durable state.
// StdoutPath/StderrPath default to LogDir/daemon.stdout.log and
// LogDir/daemon.stderr.log. LockFile defaults to PIDFile + ".lock".
type Config struct {
	PIDFile    string
	LockFile   string
	LogDir     string
	StdoutPath string
	StderrPath string

	// OnStale is called after a stale PID file has been removed.
	OnStale func(pid int)
}

// SpawnOptions tweaks a single SpawnDetached call.
type SpawnOptions struct {
	Env        []string // nil inherits the current environment
	WorkDir    string
	StdoutPath string // overrides Config.StdoutPath
	StderrPath string // overrides Config.StderrPath
}

// Validation is the result of ValidatePIDFile.
type Validation struct {
	Valid bool `json:"valid"`
	PID   int  `json:"pid,omitempty"`
	// StalePID is the dead pid whose record was just removed, if any.
	StalePID int `json:"stale_pid,omitempty"`
}

// StopResult describes what Stop did.
type StopResult struct {
	PID        int  `json:"pid,omitempty"`
	WasRunning bool `json:"was_running"`
	Forced     bool `json:"forced"`
}

// Supervisor manages one detached background daemon through a PID file.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Supervisor. PIDFile must be set.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockFile == "" && cfg.PIDFile != "" {
		cfg.LockFile = cfg.PIDFile + ".lock"
	}
	if cfg.StdoutPath == "" && cfg.LogDir != "" {
		cfg.StdoutPath = filepath.Join(cfg.LogDir, "daemon.stdout.log")
	}
	if cfg.StderrPath == "" && cfg.LogDir != "" {
		cfg.StderrPath = filepath.Join(cfg.LogDir, "daemon.stderr.log")
	}
	return &Supervisor{cfg: cfg, logger: logger.With("component", "supervisor")}
}

// PIDFile returns the canonical PID file path.
func (s *Supervisor) PIDFile() string { return s.cfg.PIDFile }

// StdoutPath returns the default daemon stdout log path.
func (s *Supervisor) StdoutPath() string { return s.cfg.StdoutPath }

// StderrPath returns the default daemon stderr log path.
func (s *Supervisor) StderrPath() string { return s.cfg.StderrPath }

// SpawnDetached launches command detached from the current process group
// with stdout and stderr appended to log files, releases it, and returns
// its pid.
func (s *Supervisor) SpawnDetached(command string, args []string, opts SpawnOptions) (int, error) {
	stdoutPath := firstNonEmpty(opts.StdoutPath, s.cfg.StdoutPath)
	stderrPath := firstNonEmpty(opts.StderrPath, s.cfg.StderrPath)
	if stdoutPath == "" || stderrPath == "" {
		return 0, &SpawnError{Command: command, Err: errors.New("no log paths configured")}
	}

	for _, dir := range []string{filepath.Dir(stdoutPath), filepath.Dir(stderrPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return 0, &SpawnError{Command: command, Err: fmt.Errorf("create log directory: %w", err)}
		}
	}

	// #nosec G304 -- paths come from configuration
	outF, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, &SpawnError{Command: command, Err: fmt.Errorf("open stdout log: %w", err)}
	}
	defer func() { _ = outF.Close() }()
	// #nosec G304
	errF, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, &SpawnError{Command: command, Err: fmt.Errorf("open stderr log: %w", err)}
	}
	defer func() { _ = errF.Close() }()

	// #nosec G204
	cmd := exec.Command(command, args...)
	cmd.Stdin = nil
	cmd.Stdout = outF
	cmd.Stderr = errF
	cmd.Dir = opts.WorkDir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	configureDetached(cmd)

	if err := cmd.Start(); err != nil {
		s.logger.Error("failed to spawn daemon", "command", command, "error", err)
		return 0, &SpawnError{Command: command, Err: err}
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		s.logger.Warn("failed to release daemon process", "pid", pid, "error", err)
	}
	s.logger.Info("daemon spawned", "pid", pid, "command", command, "stdout", stdoutPath, "stderr", stderrPath)
	return pid, nil
}

// IsProcessRunning probes pid with a zero signal. Any error, including
// permission denied, reports false.
func (s *Supervisor) IsProcessRunning(pid int) bool {
	return processAlive(pid)
}

// KillProcess delivers sig to pid; nil means SIGTERM.
func (s *Supervisor) KillProcess(pid int, sig os.Signal) error {
	if sig == nil {
		sig = termSignal
	}
	if err := sendSignal(pid, sig); err != nil {
		return &SignalError{PID: pid, Signal: sig, Err: err}
	}
	s.logger.Debug("signal delivered", "pid", pid, "signal", sig.String())
	return nil
}

// WritePIDFile atomically replaces the PID file with pid. The file is
// readable and writable by the owner only.
func (s *Supervisor) WritePIDFile(pid int) error {
	dir := filepath.Dir(s.cfg.PIDFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.cfg.PIDFile)+".*")
	if err != nil {
		return fmt.Errorf("create pid file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil && !errors.Is(err, errors.ErrUnsupported) {
		s.logger.Debug("chmod pid file", "error", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close pid file: %w", err)
	}
	if err := os.Rename(tmpName, s.cfg.PIDFile); err != nil {
		cleanup()
		return fmt.Errorf("install pid file: %w", err)
	}
	s.logger.Debug("pid file written", "pid", pid, "path", s.cfg.PIDFile)
	return nil
}

// ReadPIDFile loads the PID record. ok is false when the file is absent or
// its contents are not an integer; the latter is logged, not returned.
func (s *Supervisor) ReadPIDFile() (pid int, ok bool, err error) {
	b, err := os.ReadFile(s.cfg.PIDFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read pid file: %w", err)
	}
	raw := strings.TrimSpace(string(b))
	pid, perr := strconv.Atoi(raw)
	if perr != nil || pid <= 0 {
		s.logger.Error("invalid pid file contents", "path", s.cfg.PIDFile, "content", raw)
		return 0, false, nil
	}
	return pid, true, nil
}

// RemovePIDFile deletes the PID record. A missing file is not an error.
func (s *Supervisor) RemovePIDFile() error {
	if err := os.Remove(s.cfg.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// ValidatePIDFile checks the PID record against the live process table.
// A record naming a dead process is deleted and reported invalid.
func (s *Supervisor) ValidatePIDFile() (Validation, error) {
	pid, ok, err := s.ReadPIDFile()
	if err != nil {
		return Validation{}, err
	}
	if !ok {
		return Validation{}, nil
	}
	if !s.IsProcessRunning(pid) {
		s.logger.Info("removing stale pid file", "pid", pid, "path", s.cfg.PIDFile)
		if err := s.RemovePIDFile(); err != nil {
			return Validation{}, err
		}
		if s.cfg.OnStale != nil {
			s.cfg.OnStale(pid)
		}
		return Validation{StalePID: pid}, nil
	}
	return Validation{Valid: true, PID: pid}, nil
}

// Start spawns the daemon unless one is already running. The
// validate-spawn-record sequence runs under an advisory file lock, so
// concurrent Start calls from separate processes cannot both spawn.
// When a daemon is already running the returned pid is the live one and
// the error wraps ErrAlreadyRunning.
func (s *Supervisor) Start(ctx context.Context, command string, args []string, opts SpawnOptions) (int, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	v, err := s.ValidatePIDFile()
	if err != nil {
		return 0, err
	}
	if v.Valid {
		return v.PID, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, v.PID)
	}

	pid, err := s.SpawnDetached(command, args, opts)
	if err != nil {
		return 0, err
	}
	if err := s.WritePIDFile(pid); err != nil {
		// Without a record nobody could stop it later.
		_ = s.KillProcess(pid, killSignal)
		return 0, err
	}
	return pid, nil
}

// Stop sends SIGTERM to the recorded daemon, waits up to grace for it to
// exit, then sends SIGKILL. The PID file is removed once the process is gone.
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) (StopResult, error) {
	v, err := s.ValidatePIDFile()
	if err != nil {
		return StopResult{}, err
	}
	if !v.Valid {
		return StopResult{}, nil
	}
	res := StopResult{PID: v.PID, WasRunning: true}

	if err := s.KillProcess(v.PID, termSignal); err != nil {
		if !s.IsProcessRunning(v.PID) {
			return res, s.RemovePIDFile()
		}
		return res, err
	}

	if !s.waitExit(ctx, v.PID, grace) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.logger.Warn("daemon did not exit in time, killing", "pid", v.PID, "grace", grace)
		if err := s.KillProcess(v.PID, killSignal); err != nil && s.IsProcessRunning(v.PID) {
			return res, err
		}
		res.Forced = true
		s.waitExit(ctx, v.PID, 2*time.Second)
	}

	if err := s.removeIfOwned(v.PID); err != nil {
		return res, err
	}
	s.logger.Info("daemon stopped", "pid", v.PID, "forced", res.Forced)
	return res, nil
}

// ReleaseOwnPIDFile removes the PID file if it still names the calling
// process. The daemon calls this on shutdown.
func (s *Supervisor) ReleaseOwnPIDFile() error {
	return s.removeIfOwned(os.Getpid())
}

func (s *Supervisor) removeIfOwned(pid int) error {
	cur, ok, err := s.ReadPIDFile()
	if err != nil {
		return err
	}
	if ok && cur != pid {
		// A new daemon has already replaced the record.
		return nil
	}
	return s.RemovePIDFile()
}

func (s *Supervisor) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if !s.IsProcessRunning(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !s.IsProcessRunning(pid)
		case <-tick.C:
		}
	}
}

func (s *Supervisor) lock(ctx context.Context) (func(), error) {
	if s.cfg.LockFile == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.LockFile), 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(s.cfg.LockFile)
	ok, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire start lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire start lock: %s is held", s.cfg.LockFile)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release start lock", "path", s.cfg.LockFile, "error", err)
		}
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
