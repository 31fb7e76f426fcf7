// Package config loads Freza settings from defaults, an optional config
// file and AGENT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/logging"
)

const (
	envPrefix  = "AGENT"
	configName = "freza"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreConfig selects the thread store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, fmt.Sprint(h.Port))
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the resolved configuration.
type Config struct {
	BaseDir          string          `mapstructure:"base_dir"`
	HeartbeatSec     int             `mapstructure:"heartbeat_sec"`
	StaleSec         int             `mapstructure:"stale_sec"`
	TimeoutSec       int             `mapstructure:"timeout_sec"`
	CompleteGraceSec int             `mapstructure:"complete_grace_sec"`
	Model            string          `mapstructure:"model"`
	MaxTurns         int             `mapstructure:"max_turns"`
	LogMaxContent    int             `mapstructure:"log_max_content"`
	MaxConcurrent    int             `mapstructure:"max_concurrent"`
	EventBuffer      int             `mapstructure:"event_buffer"`
	ReplayBuffer     int             `mapstructure:"replay_buffer"`
	SubscriberBuffer int             `mapstructure:"subscriber_buffer"`
	AgentBin         string          `mapstructure:"agent_bin"`
	Store            StoreConfig     `mapstructure:"store"`
	HTTP             HTTPConfig      `mapstructure:"http"`
	Log              LogConfig       `mapstructure:"log"`
	ToolLabels       core.ToolLabels `mapstructure:"tool_labels"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is an explicit config file; it must exist.
	ConfigFile string
	// BaseDir overrides base_dir from every other source.
	BaseDir string
	// Viper is the instance to load into; a fresh one by default.
	Viper *viper.Viper
}

// DefaultBaseDir is $HOME/.freza, or .freza when no home is known.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".freza"
	}
	return filepath.Join(home, ".freza")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_dir", DefaultBaseDir())
	v.SetDefault("heartbeat_sec", 30)
	v.SetDefault("stale_sec", 300)
	v.SetDefault("timeout_sec", 600)
	v.SetDefault("complete_grace_sec", 5)
	v.SetDefault("model", "opus")
	v.SetDefault("max_turns", 100)
	v.SetDefault("log_max_content", 50000)
	v.SetDefault("max_concurrent", 10)
	v.SetDefault("event_buffer", 256)
	v.SetDefault("replay_buffer", 64)
	v.SetDefault("subscriber_buffer", 256)
	v.SetDefault("agent_bin", "claude")
	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.dsn", "")
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 7888)
	v.SetDefault("http.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load resolves the configuration. A missing config file in the base dir
// is not an error; a missing explicit one is.
func Load(optFns ...func(o *LoadOptions)) (*Config, error) {
	var opts LoadOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	v := opts.Viper
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if opts.BaseDir != "" {
		v.Set("base_dir", opts.BaseDir)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(v.GetString("base_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if opts.BaseDir != "" {
		v.Set("base_dir", opts.BaseDir)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.BaseDir = expandHome(cfg.BaseDir)
	if abs, err := filepath.Abs(cfg.BaseDir); err == nil {
		cfg.BaseDir = abs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		key string
		val int
	}{
		{"heartbeat_sec", c.HeartbeatSec},
		{"stale_sec", c.StaleSec},
		{"timeout_sec", c.TimeoutSec},
		{"complete_grace_sec", c.CompleteGraceSec},
		{"max_turns", c.MaxTurns},
		{"event_buffer", c.EventBuffer},
		{"subscriber_buffer", c.SubscriberBuffer},
	} {
		if f.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", f.key))
		}
	}
	if c.MaxConcurrent < 0 {
		errs = append(errs, errors.New("max_concurrent must not be negative"))
	}
	if c.ReplayBuffer < 0 {
		errs = append(errs, errors.New("replay_buffer must not be negative"))
	}
	if c.StaleSec <= c.HeartbeatSec {
		errs = append(errs, fmt.Errorf("stale_sec (%d) must exceed heartbeat_sec (%d)", c.StaleSec, c.HeartbeatSec))
	}
	if strings.TrimSpace(c.BaseDir) == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}

	switch c.Store.Driver {
	case DriverFile, DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if !isLoopback(c.HTTP.Host) && c.HTTP.Token == "" {
		errs = append(errs, fmt.Errorf("http.token is required when binding to non-loopback host %q", c.HTTP.Host))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalid, err)
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Layout returns the workspace paths below BaseDir.
func (c *Config) Layout() core.Layout { return core.Layout{BaseDir: c.BaseDir} }

// StoreDSN returns the DSN with the sqlite default under the state dir.
func (c *Config) StoreDSN() string {
	if c.Store.DSN == "" && c.Store.Driver == DriverSQLite {
		return filepath.Join(c.Layout().StateDir(), "threads.db")
	}
	return c.Store.DSN
}

// Heartbeat is the registry heartbeat interval.
func (c *Config) Heartbeat() time.Duration { return seconds(c.HeartbeatSec) }

// Stale is the heartbeat age after which an instance is evicted.
func (c *Config) Stale() time.Duration { return seconds(c.StaleSec) }

// Timeout bounds one invocation.
func (c *Config) Timeout() time.Duration { return seconds(c.TimeoutSec) }

// CompleteGrace is how long finished instances stay visible.
func (c *Config) CompleteGrace() time.Duration { return seconds(c.CompleteGraceSec) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
