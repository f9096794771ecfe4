package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/warden/internal/breaker"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/stats"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. WARDEN_REMOTE_URL.
const EnvPrefix = "WARDEN"

const (
	PIDFileName  = "warden.pid"
	LockFileName = "warden.lock"
)

// Config represents the top-level TOML structure.
type Config struct {
	Paths   PathsConfig   `toml:"paths" mapstructure:"paths"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
	Breaker BreakerConfig `toml:"breaker" mapstructure:"breaker"`
	Stats   stats.Options `toml:"stats" mapstructure:"stats"`
	Remote  RemoteConfig  `toml:"remote" mapstructure:"remote"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Daemon  DaemonConfig  `toml:"daemon" mapstructure:"daemon"`
}

type PathsConfig struct {
	StateDir string `toml:"state_dir" mapstructure:"state_dir"`
	LogDir   string `toml:"log_dir" mapstructure:"log_dir"`
}

// PIDFile is the canonical PID file path.
func (p PathsConfig) PIDFile() string { return filepath.Join(p.StateDir, PIDFileName) }

// LockFile guards concurrent daemon starts.
func (p PathsConfig) LockFile() string { return filepath.Join(p.StateDir, LockFileName) }

type BreakerConfig struct {
	FailureThreshold int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int           `toml:"success_threshold" mapstructure:"success_threshold"`
	Timeout          time.Duration `toml:"timeout" mapstructure:"timeout"`
	WindowSize       time.Duration `toml:"window_size" mapstructure:"window_size"`
}

// For returns a breaker configuration named name.
func (b BreakerConfig) For(name string) breaker.Config {
	return breaker.Config{
		Name:             name,
		FailureThreshold: b.FailureThreshold,
		SuccessThreshold: b.SuccessThreshold,
		Timeout:          b.Timeout,
		WindowSize:       b.WindowSize,
	}
}

type RemoteConfig struct {
	URL      string        `toml:"url" mapstructure:"url"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"` // sqlite://path or postgres://...
	// Exports are extra write-only sinks, e.g. clickhouse:// or opensearch:// DSNs.
	Exports []string `toml:"exports" mapstructure:"exports"`
}

type ServerConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"` // empty disables the status endpoint
}

// DaemonConfig controls how the background daemon is spawned and stopped.
type DaemonConfig struct {
	Env       []string      `toml:"env" mapstructure:"env"`
	EnvFiles  []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv  bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	WorkDir   string        `toml:"workdir" mapstructure:"workdir"`
	StopGrace time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
}

// Default returns the built-in configuration rooted at ~/.warden.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	state := filepath.Join(home, ".warden")
	logs := filepath.Join(state, "logs")
	return Config{
		Paths: PathsConfig{StateDir: state, LogDir: logs},
		Log: logger.Config{
			Dir:        logs,
			Level:      "info",
			MaxSizeMB:  logger.DefaultMaxSizeMB,
			MaxBackups: logger.DefaultMaxBackups,
			MaxAgeDays: logger.DefaultMaxAgeDays,
		},
		Breaker: BreakerConfig{
			FailureThreshold: breaker.DefaultFailureThreshold,
			SuccessThreshold: breaker.DefaultSuccessThreshold,
			Timeout:          breaker.DefaultTimeout,
			WindowSize:       breaker.DefaultWindowSize,
		},
		Stats:   stats.Options{Strategy: stats.StrategyAuto},
		Remote:  RemoteConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second},
		History: HistoryConfig{Enabled: true, DSN: "sqlite://" + filepath.Join(state, "history.db")},
		Server:  ServerConfig{Listen: "127.0.0.1:7070"},
		Daemon:  DaemonConfig{StopGrace: 10 * time.Second},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("paths.state_dir", d.Paths.StateDir)
	v.SetDefault("paths.log_dir", "")

	v.SetDefault("log.dir", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("log.console", d.Log.Console)

	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.success_threshold", d.Breaker.SuccessThreshold)
	v.SetDefault("breaker.timeout", d.Breaker.Timeout)
	v.SetDefault("breaker.window_size", d.Breaker.WindowSize)

	v.SetDefault("stats.strategy", d.Stats.Strategy)

	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.interval", d.Remote.Interval)
	v.SetDefault("remote.timeout", d.Remote.Timeout)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.exports", d.History.Exports)

	v.SetDefault("server.listen", d.Server.Listen)

	v.SetDefault("daemon.env", d.Daemon.Env)
	v.SetDefault("daemon.env_files", d.Daemon.EnvFiles)
	v.SetDefault("daemon.use_os_env", d.Daemon.UseOSEnv)
	v.SetDefault("daemon.workdir", d.Daemon.WorkDir)
	v.SetDefault("daemon.stop_grace", d.Daemon.StopGrace)
}

// Load reads the TOML file at path (optional) over the defaults and applies
// WARDEN_* environment overrides. Relative paths are resolved against the
// config file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := ""
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		base = filepath.Dir(path)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize(base)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize(base string) {
	c.Paths.StateDir = resolve(base, c.Paths.StateDir)
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	c.Paths.LogDir = resolve(base, c.Paths.LogDir)
	if c.Log.Dir == "" {
		c.Log.Dir = c.Paths.LogDir
	}
	c.Log.Dir = resolve(base, c.Log.Dir)
	if c.History.DSN == "" {
		c.History.DSN = "sqlite://" + filepath.Join(c.Paths.StateDir, "history.db")
	}
	for i, f := range c.Daemon.EnvFiles {
		c.Daemon.EnvFiles[i] = resolve(base, f)
	}
}

func resolve(base, p string) string {
	if p == "" || base == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.StateDir == "" {
		errs = append(errs, errors.New("paths.state_dir is required"))
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold))
	}
	if c.Breaker.SuccessThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker.success_threshold must be positive, got %d", c.Breaker.SuccessThreshold))
	}
	if c.Breaker.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.timeout must be positive, got %s", c.Breaker.Timeout))
	}
	if c.Breaker.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("breaker.window_size must be positive, got %s", c.Breaker.WindowSize))
	}
	if c.Remote.Interval <= 0 {
		errs = append(errs, fmt.Errorf("remote.interval must be positive, got %s", c.Remote.Interval))
	}
	if c.Daemon.StopGrace < 0 {
		errs = append(errs, fmt.Errorf("daemon.stop_grace must not be negative, got %s", c.Daemon.StopGrace))
	}
	switch c.Stats.Strategy {
	case "", stats.StrategyAuto, stats.StrategyProcfs, stats.StrategyPS, stats.StrategyWMIC, stats.StrategyGopsutil:
	default:
		errs = append(errs, fmt.Errorf("stats.strategy %q is not one of auto, procfs, ps, wmic, gopsutil", c.Stats.Strategy))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
