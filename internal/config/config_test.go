package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "warden.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Breaker.FailureThreshold != 5 || c.Breaker.SuccessThreshold != 2 {
		t.Fatalf("breaker thresholds: %+v", c.Breaker)
	}
	if c.Breaker.Timeout != 30*time.Second || c.Breaker.WindowSize != 60*time.Second {
		t.Fatalf("breaker durations: %+v", c.Breaker)
	}
	if c.Paths.LogDir != filepath.Join(c.Paths.StateDir, "logs") || c.Log.Dir != c.Paths.LogDir {
		t.Fatalf("log dirs: paths=%+v log=%s", c.Paths, c.Log.Dir)
	}
	if c.Paths.PIDFile() != filepath.Join(c.Paths.StateDir, "warden.pid") {
		t.Fatalf("pid file: %s", c.Paths.PIDFile())
	}
	if !strings.HasPrefix(c.History.DSN, "sqlite://") {
		t.Fatalf("history dsn: %s", c.History.DSN)
	}
	if c.Daemon.StopGrace != 10*time.Second || c.Remote.Interval != 30*time.Second {
		t.Fatalf("durations: daemon=%+v remote=%+v", c.Daemon, c.Remote)
	}
}

func TestLoadFromTOML(t *testing.T) {
	p := writeTOML(t, `
[paths]
state_dir = "state"

[log]
level = "debug"
max_backups = 9
compress = true

[breaker]
failure_threshold = 3
success_threshold = 1
timeout = "5s"
window_size = "2m"

[stats]
strategy = "gopsutil"

[remote]
url = "https://api.example.com/heartbeat"
interval = "15s"
timeout = "2s"

[history]
enabled = false
dsn = "postgres://user:pw@localhost/warden"
exports = ["opensearch://localhost:9200/warden"]

[server]
listen = ""

[daemon]
env = ["A=1"]
stop_grace = "3s"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	base := filepath.Dir(p)
	if c.Paths.StateDir != filepath.Join(base, "state") {
		t.Fatalf("relative state dir not resolved: %s", c.Paths.StateDir)
	}
	if c.Paths.LogDir != filepath.Join(base, "state", "logs") {
		t.Fatalf("log dir should follow state dir: %s", c.Paths.LogDir)
	}
	if c.Log.Level != "debug" || c.Log.MaxBackups != 9 || !c.Log.Compress || c.Log.MaxSizeMB != 10 {
		t.Fatalf("log: %+v", c.Log)
	}
	bc := c.Breaker.For("remote")
	if bc.Name != "remote" || bc.FailureThreshold != 3 || bc.SuccessThreshold != 1 || bc.Timeout != 5*time.Second || bc.WindowSize != 2*time.Minute {
		t.Fatalf("breaker: %+v", bc)
	}
	if c.Stats.Strategy != "gopsutil" {
		t.Fatalf("stats: %+v", c.Stats)
	}
	if c.Remote.URL != "https://api.example.com/heartbeat" || c.Remote.Interval != 15*time.Second || c.Remote.Timeout != 2*time.Second {
		t.Fatalf("remote: %+v", c.Remote)
	}
	if c.History.Enabled || c.History.DSN != "postgres://user:pw@localhost/warden" || len(c.History.Exports) != 1 {
		t.Fatalf("history: %+v", c.History)
	}
	if c.Server.Listen != "" {
		t.Fatalf("server listen should be empty: %q", c.Server.Listen)
	}
	if len(c.Daemon.Env) != 1 || c.Daemon.StopGrace != 3*time.Second {
		t.Fatalf("daemon: %+v", c.Daemon)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WARDEN_REMOTE_URL", "http://env.example")
	t.Setenv("WARDEN_BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("WARDEN_BREAKER_TIMEOUT", "45s")
	p := writeTOML(t, "[breaker]\nfailure_threshold = 3\n")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Remote.URL != "http://env.example" {
		t.Fatalf("remote url: %q", c.Remote.URL)
	}
	if c.Breaker.FailureThreshold != 7 || c.Breaker.Timeout != 45*time.Second {
		t.Fatalf("breaker: %+v", c.Breaker)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	p := writeTOML(t, `
[breaker]
failure_threshold = 0
timeout = "-1s"

[stats]
strategy = "magic"

[log]
level = "loud"
`)
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"failure_threshold", "breaker.timeout", "stats.strategy", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	p := writeTOML(t, "[breaker\nfailure_threshold = ")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}
