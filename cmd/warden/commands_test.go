package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/warden/internal/history"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

// newTestCommand writes a config rooted in a temp dir and returns a command
// whose daemon is a plain sleep.
func newTestCommand(t *testing.T, extra string) (*command, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "warden.toml")
	body := `
[paths]
state_dir = "state"

[server]
listen = ""
` + extra
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	c := newCommand(&GlobalFlags{ConfigPath: cfg}, &out)
	c.daemonCmd = func(string) (string, []string, error) {
		return "sleep", []string{"30"}, nil
	}
	return c, &out, dir
}

func TestStartStatusStopCycle(t *testing.T) {
	requireUnix(t)
	c, out, _ := newTestCommand(t, "")
	ctx := context.Background()

	if err := c.Start(ctx, StartFlags{Wait: 100 * time.Millisecond}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(out.String(), "warden daemon started (pid") {
		t.Fatalf("unexpected start output: %q", out.String())
	}

	out.Reset()
	if err := c.Start(ctx, StartFlags{}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !strings.Contains(out.String(), "already running") {
		t.Fatalf("second start should report running daemon: %q", out.String())
	}

	out.Reset()
	if err := c.Status(ctx, StatusFlags{JSON: true}); err != nil {
		t.Fatalf("Status: %v", err)
	}
	var rep statusReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode status: %v (%q)", err, out.String())
	}
	if !rep.Running || rep.PID == 0 {
		t.Fatalf("expected running daemon, got %+v", rep)
	}

	out.Reset()
	if err := c.Stop(ctx, StopFlags{Grace: 2 * time.Second}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !strings.Contains(out.String(), "stopped") && !strings.Contains(out.String(), "killed") {
		t.Fatalf("unexpected stop output: %q", out.String())
	}

	out.Reset()
	if err := c.History(ctx, HistoryFlags{Limit: 10, JSON: true}); err != nil {
		t.Fatalf("History: %v", err)
	}
	var evs []history.Event
	if err := json.Unmarshal(out.Bytes(), &evs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(evs) != 2 || evs[1].Type != history.EventStart || evs[1].PID != rep.PID {
		t.Fatalf("unexpected history: %+v", evs)
	}
	if evs[0].Type != history.EventStop && evs[0].Type != history.EventKill {
		t.Fatalf("newest event should be the stop, got %+v", evs[0])
	}
}

func TestStartDetectsEarlyExit(t *testing.T) {
	requireUnix(t)
	c, _, _ := newTestCommand(t, "")
	c.daemonCmd = func(string) (string, []string, error) { return "true", nil, nil }
	err := c.Start(context.Background(), StartFlags{Wait: 300 * time.Millisecond})
	if err == nil || !strings.Contains(err.Error(), "exited right after start") {
		t.Fatalf("expected early exit error, got %v", err)
	}
}

func TestStopNotRunning(t *testing.T) {
	c, out, _ := newTestCommand(t, "")
	if err := c.Stop(context.Background(), StopFlags{}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !strings.Contains(out.String(), "not running") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestStatusNotRunningTable(t *testing.T) {
	c, out, _ := newTestCommand(t, "")
	if err := c.Status(context.Background(), StatusFlags{}); err != nil {
		t.Fatalf("Status: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "stopped") || !strings.Contains(s, "warden.pid") {
		t.Fatalf("unexpected table: %q", s)
	}
}

func TestStatusRecordsStale(t *testing.T) {
	requireUnix(t)
	c, out, dir := newTestCommand(t, "")
	if err := os.MkdirAll(filepath.Join(dir, "state"), 0o700); err != nil {
		t.Fatal(err)
	}
	cmd := execTrue(t)
	if err := os.WriteFile(filepath.Join(dir, "state", "warden.pid"), []byte(cmd+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.Status(context.Background(), StatusFlags{JSON: true}); err != nil {
		t.Fatalf("Status: %v", err)
	}
	out.Reset()
	if err := c.History(context.Background(), HistoryFlags{JSON: true}); err != nil {
		t.Fatalf("History: %v", err)
	}
	var evs []history.Event
	if err := json.Unmarshal(out.Bytes(), &evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != history.EventStale {
		t.Fatalf("expected one stale event, got %+v", evs)
	}
}

func TestHistoryDisabled(t *testing.T) {
	c, _, _ := newTestCommand(t, "\n[history]\nenabled = false\n")
	if err := c.History(context.Background(), HistoryFlags{}); err == nil {
		t.Fatal("expected error when history is disabled")
	}
}

func TestHistoryEmpty(t *testing.T) {
	c, out, _ := newTestCommand(t, "")
	if err := c.History(context.Background(), HistoryFlags{Limit: 5}); err != nil {
		t.Fatalf("History: %v", err)
	}
	if !strings.Contains(out.String(), "No history recorded") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestLogsTail(t *testing.T) {
	c, out, dir := newTestCommand(t, "")
	logDir := filepath.Join(dir, "state", "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "daemon.stdout.log"), []byte("one\ntwo\nthree\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "daemon.stderr.log"), []byte("oops\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := c.Logs(context.Background(), LogsFlags{Lines: 2}); err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if out.String() != "two\nthree\n" {
		t.Fatalf("unexpected tail: %q", out.String())
	}

	out.Reset()
	if err := c.Logs(context.Background(), LogsFlags{Stderr: true}); err != nil {
		t.Fatalf("Logs stderr: %v", err)
	}
	if out.String() != "oops\n" {
		t.Fatalf("unexpected stderr tail: %q", out.String())
	}
}

func TestLogsMissingFile(t *testing.T) {
	c, _, _ := newTestCommand(t, "")
	if err := c.Logs(context.Background(), LogsFlags{Lines: 5}); err == nil {
		t.Fatal("expected error for missing log file")
	}
}

func TestBadConfig(t *testing.T) {
	c := newCommand(&GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")}, &bytes.Buffer{})
	if err := c.Status(context.Background(), StatusFlags{}); err == nil {
		t.Fatal("expected config error")
	}
}

func TestSelfDaemonCmd(t *testing.T) {
	exe, args, err := selfDaemonCmd("rel/warden.toml")
	if err != nil {
		t.Fatal(err)
	}
	if exe == "" {
		t.Fatal("empty executable")
	}
	if len(args) != 4 || args[0] != "daemon" || args[1] != "run" || args[2] != "--config" || !filepath.IsAbs(args[3]) {
		t.Fatalf("unexpected args: %v", args)
	}
	_, args, _ = selfDaemonCmd("")
	if len(args) != 2 {
		t.Fatalf("unexpected args without config: %v", args)
	}
}
