package stats

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func fixedCores(n int) func() int { return func() int { return n } }

// fakeRunner answers commands keyed by their joined argv.
type fakeRunner map[string]string

func (f fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	out, ok := f[key]
	if !ok {
		return nil, errors.New("exit status 1")
	}
	return []byte(out), nil
}

func writeProcFixture(t *testing.T, pid string, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, pid), 0o755))
	for name, content := range files {
		p := filepath.Join(root, name)
		if name != "uptime" {
			p = filepath.Join(root, pid, name)
		}
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestProcfsProvider(t *testing.T) {
	logger, _ := testLogger()
	root := writeProcFixture(t, "123", map[string]string{
		"status": statusFixture,
		"stat":   statFixture,
		"uptime": "150.00 300.00\n",
	})
	p := &procfsProvider{logger: logger, procRoot: root, clkTck: 100, cores: fixedCores(2)}

	st := p.GetProcessStats(context.Background(), 123)
	require.NotNil(t, st)
	assert.Equal(t, 123, st.PID)
	// 4 CPU seconds over 100 wall seconds on 2 cores.
	assert.InDelta(t, 2.0, st.CPUPercent, 1e-9)
	assert.InDelta(t, 20.0, st.MemoryMB, 1e-9)
	assert.Equal(t, int64(100), st.UptimeSeconds)
	assert.Equal(t, 4, st.ThreadCount)
}

func TestProcfsProviderMissingProcess(t *testing.T) {
	logger, buf := testLogger()
	p := &procfsProvider{logger: logger, procRoot: t.TempDir(), clkTck: 100, cores: fixedCores(1)}
	assert.Nil(t, p.GetProcessStats(context.Background(), 999999))
	assert.Contains(t, buf.String(), "level=ERROR")
}

func TestProcfsProviderGarbage(t *testing.T) {
	logger, buf := testLogger()
	root := writeProcFixture(t, "7", map[string]string{
		"status": statusFixture,
		"stat":   "7 (x) S 1 2",
		"uptime": "10.0 10.0\n",
	})
	p := &procfsProvider{logger: logger, procRoot: root, clkTck: 100, cores: fixedCores(1)}
	assert.Nil(t, p.GetProcessStats(context.Background(), 7))
	assert.Contains(t, buf.String(), "parse proc stat")
}

func TestPSProviderBSD(t *testing.T) {
	logger, _ := testLogger()
	run := fakeRunner{
		"ps -o pcpu,rss,etime,nlwp -p 42": "  %CPU   RSS     ELAPSED NLWP\n  12.5 10240    01:30:00    7\n",
	}
	p := &psProvider{logger: logger, run: run.run, cores: fixedCores(1)}

	st := p.GetProcessStats(context.Background(), 42)
	require.NotNil(t, st)
	assert.Equal(t, ProcessStats{PID: 42, CPUPercent: 12.5, MemoryMB: 10, UptimeSeconds: 5400, ThreadCount: 7}, *st)
}

func TestPSProviderDarwin(t *testing.T) {
	logger, _ := testLogger()
	run := fakeRunner{
		"ps -o pcpu,rss,etime -p 42": "%CPU    RSS  ELAPSED\n 50.0   2048 2-01:30:00\n",
		"ps -M -p 42": "USER   PID   TT  %CPU STAT PRI     STIME     UTIME COMMAND\n" +
			"me      42 s000   0.0 S    31T   0:00.01   0:00.02 worker\n" +
			"        42         0.0 S    31T   0:00.00   0:00.00\n",
	}
	p := &psProvider{logger: logger, run: run.run, darwin: true, cores: fixedCores(4)}

	st := p.GetProcessStats(context.Background(), 42)
	require.NotNil(t, st)
	assert.InDelta(t, 12.5, st.CPUPercent, 1e-9)
	assert.InDelta(t, 2.0, st.MemoryMB, 1e-9)
	assert.Equal(t, int64(178200), st.UptimeSeconds)
	assert.Equal(t, 2, st.ThreadCount)
}

func TestPSProviderExitedProcess(t *testing.T) {
	logger, buf := testLogger()
	p := &psProvider{logger: logger, run: fakeRunner{}.run, cores: fixedCores(1)}
	assert.Nil(t, p.GetProcessStats(context.Background(), 42))
	assert.Contains(t, buf.String(), "ps query failed")
}

func TestWMICProvider(t *testing.T) {
	logger, _ := testLogger()
	run := fakeRunner{
		"wmic path Win32_PerfFormattedData_PerfProc_Process where IDProcess=9 get PercentProcessorTime,WorkingSetPrivate,ElapsedTime,ThreadCount /format:csv": "\r\n\r\nNode,ElapsedTime,PercentProcessorTime,ThreadCount,WorkingSetPrivate\r\nHOST,3600,50,12,104857600\r\n",
	}
	p := &wmicProvider{logger: logger, run: run.run, cores: fixedCores(2)}

	st := p.GetProcessStats(context.Background(), 9)
	require.NotNil(t, st)
	assert.Equal(t, ProcessStats{PID: 9, CPUPercent: 25, MemoryMB: 100, UptimeSeconds: 3600, ThreadCount: 12}, *st)
}

func TestWMICProviderNoInstance(t *testing.T) {
	logger, buf := testLogger()
	run := fakeRunner{
		"wmic path Win32_PerfFormattedData_PerfProc_Process where IDProcess=9 get PercentProcessorTime,WorkingSetPrivate,ElapsedTime,ThreadCount /format:csv": "No Instance(s) Available.\r\n",
	}
	p := &wmicProvider{logger: logger, run: run.run, cores: fixedCores(2)}
	assert.Nil(t, p.GetProcessStats(context.Background(), 9))
	assert.Contains(t, buf.String(), "parse wmic output")
}

func TestUnsupportedPlatform(t *testing.T) {
	logger, buf := testLogger()
	p := New(logger, Options{GOOS: "plan9"})
	_, ok := p.(*unsupportedProvider)
	require.True(t, ok, "got %T", p)

	assert.NotPanics(t, func() {
		assert.Nil(t, p.GetProcessStats(context.Background(), os.Getpid()))
		assert.Nil(t, p.GetProcessStats(context.Background(), os.Getpid()))
	})
	assert.Equal(t, 1, strings.Count(buf.String(), "not supported"))
}

func TestNewSelectsByPlatform(t *testing.T) {
	logger, _ := testLogger()
	cases := map[string]any{
		"linux":   &procfsProvider{},
		"darwin":  &psProvider{},
		"freebsd": &psProvider{},
		"windows": &wmicProvider{},
	}
	for goos, want := range cases {
		got := New(logger, Options{GOOS: goos})
		assert.IsType(t, want, got, goos)
	}
	darwin := New(logger, Options{GOOS: "darwin"}).(*psProvider)
	assert.True(t, darwin.darwin)

	forced := New(logger, Options{GOOS: "linux", Strategy: StrategyGopsutil})
	assert.IsType(t, &gopsutilProvider{}, forced)
}

func TestNonPositivePID(t *testing.T) {
	logger, _ := testLogger()
	for _, p := range []Provider{
		&procfsProvider{logger: logger, procRoot: t.TempDir(), cores: fixedCores(1)},
		&psProvider{logger: logger, run: fakeRunner{}.run, cores: fixedCores(1)},
		&wmicProvider{logger: logger, run: fakeRunner{}.run, cores: fixedCores(1)},
		&gopsutilProvider{logger: logger, cores: fixedCores(1)},
	} {
		assert.Nil(t, p.GetProcessStats(context.Background(), 0))
	}
}

func TestLiveSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs only on linux")
	}
	logger, _ := testLogger()
	for _, strategy := range []string{StrategyProcfs, StrategyGopsutil} {
		st := New(logger, Options{Strategy: strategy}).GetProcessStats(context.Background(), os.Getpid())
		require.NotNil(t, st, strategy)
		assert.Equal(t, os.Getpid(), st.PID)
		assert.Greater(t, st.MemoryMB, 0.0, strategy)
		assert.GreaterOrEqual(t, st.ThreadCount, 1, strategy)
		assert.GreaterOrEqual(t, st.CPUPercent, 0.0, strategy)
	}
}

func TestLogicalCores(t *testing.T) {
	assert.GreaterOrEqual(t, logicalCores(), 1)
	assert.Equal(t, 10.0, perCore(40, 4))
	assert.Equal(t, 40.0, perCore(40, 0))
}
