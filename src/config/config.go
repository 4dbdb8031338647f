// Package config provides configuration management for faultscope.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"faultscope/src/contracts"
	"faultscope/src/locate"
	"faultscope/src/logger"
	"faultscope/src/plan"
	"faultscope/src/store"
	"faultscope/src/transport"
)

// EnvPrefix prefixes every environment override, e.g. FAULTSCOPE_SSH_HOST.
const EnvPrefix = "FAULTSCOPE"

// Config holds the application configuration.
type Config struct {
	SSH     SSHConfig     `yaml:"ssh" mapstructure:"ssh"`
	Locator LocatorConfig `yaml:"locator" mapstructure:"locator"`
	Planner PlannerConfig `yaml:"planner" mapstructure:"planner"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Scan    ScanConfig    `yaml:"scan" mapstructure:"scan"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Broker  BrokerConfig  `yaml:"broker" mapstructure:"broker"`
	Agent   AgentConfig   `yaml:"agent" mapstructure:"agent"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Guide   GuideConfig   `yaml:"guide" mapstructure:"guide"`
}

// SSHConfig captures how to reach the log host. An empty Host reads the
// artifacts from the local filesystem instead.
type SSHConfig struct {
	Host                  string        `yaml:"host" mapstructure:"host"`
	Port                  int           `yaml:"port" mapstructure:"port"`
	User                  string        `yaml:"user" mapstructure:"user"`
	KeyPath               string        `yaml:"key_path" mapstructure:"key_path"`
	Password              string        `yaml:"password" mapstructure:"password"`
	KnownHosts            string        `yaml:"known_hosts" mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key" mapstructure:"insecure_ignore_host_key"`
	Timeout               time.Duration `yaml:"timeout" mapstructure:"timeout"`
	StreamTimeout         time.Duration `yaml:"stream_timeout" mapstructure:"stream_timeout"`
}

// LocatorConfig names the snapshot directory searched for.
type LocatorConfig struct {
	SnapshotHost string `yaml:"snapshot_host" mapstructure:"snapshot_host"`
}

// PlannerConfig captures the remote/local switch.
type PlannerConfig struct {
	SizeThreshold int64 `yaml:"size_threshold" mapstructure:"size_threshold"`
}

// CacheConfig captures where downloaded artifacts live.
type CacheConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ScanConfig captures the scan budget.
type ScanConfig struct {
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes"`
	MaxLines int64 `yaml:"max_lines" mapstructure:"max_lines"`
}

// LoggingConfig captures logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json, console or auto
}

// StoreConfig selects the report history backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // memory, sqlite or postgres
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// BrokerConfig lists Redpanda seed brokers. Empty means in-memory.
type BrokerConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
}

// AgentConfig captures query agent settings.
type AgentConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// MetricsConfig captures the Prometheus listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// GuideConfig points at the remediation hint file.
type GuideConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Budget returns the scan budget.
func (c *Config) Budget() contracts.ScanBudget {
	return contracts.ScanBudget{MaxBytes: c.Scan.MaxBytes, MaxLinesPerFile: c.Scan.MaxLines}
}

// Transport returns the SSH settings in transport form.
func (c *Config) Transport() transport.SSHConfig {
	return transport.SSHConfig{
		Host:                  c.SSH.Host,
		Port:                  c.SSH.Port,
		User:                  c.SSH.User,
		KeyPath:               c.SSH.KeyPath,
		Password:              c.SSH.Password,
		KnownHostsPath:        c.SSH.KnownHosts,
		InsecureIgnoreHostKey: c.SSH.InsecureIgnoreHostKey,
		ExecTimeout:           c.SSH.Timeout,
		StreamTimeout:         c.SSH.StreamTimeout,
	}
}

// Logger returns the logger settings for a component.
func (c *Config) Logger(component string) logger.Config {
	return logger.Config{Level: c.Logging.Level, Format: c.Logging.Format, Component: component}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Planner.SizeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("planner.size_threshold must be positive, got %d", c.Planner.SizeThreshold))
	}
	if c.Scan.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("scan.max_bytes must be positive, got %d", c.Scan.MaxBytes))
	}
	if c.Scan.MaxLines <= 0 {
		errs = append(errs, fmt.Errorf("scan.max_lines must be positive, got %d", c.Scan.MaxLines))
	}
	if c.SSH.Host != "" && (c.SSH.Port <= 0 || c.SSH.Port > 65535) {
		errs = append(errs, fmt.Errorf("ssh.port out of range: %d", c.SSH.Port))
	}
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir must be set"))
	}
	switch strings.ToLower(c.Store.Driver) {
	case "", store.DriverMemory:
	case store.DriverSQLite, store.DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q (want memory, sqlite or postgres)", c.Store.Driver))
	}
	if c.Agent.Workers < 0 {
		errs = append(errs, fmt.Errorf("agent.workers must not be negative, got %d", c.Agent.Workers))
	}
	return errors.Join(errs...)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ssh.host", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.user", "root")
	v.SetDefault("ssh.key_path", "")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.known_hosts", "~/.ssh/known_hosts")
	v.SetDefault("ssh.insecure_ignore_host_key", false)
	v.SetDefault("ssh.timeout", 30*time.Second)
	v.SetDefault("ssh.stream_timeout", 30*time.Minute)

	v.SetDefault("locator.snapshot_host", locate.DefaultSnapshotHost)
	v.SetDefault("planner.size_threshold", plan.DefaultSizeThreshold)
	v.SetDefault("cache.dir", defaultCacheDir())

	v.SetDefault("scan.max_bytes", 512<<20)
	v.SetDefault("scan.max_lines", 5_000_000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")

	v.SetDefault("store.driver", store.DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("broker.brokers", []string{})
	v.SetDefault("agent.workers", 4)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("guide.path", "")
}

// Load reads configuration from the provided path and environment variables.
// An optional .env file in the working directory is loaded first; variables
// already set in the environment win over it.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("faultscope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "faultscope"))
		}
	}

	// Environment variables override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "faultscope")
	}
	return filepath.Join(os.TempDir(), "faultscope-cache")
}
