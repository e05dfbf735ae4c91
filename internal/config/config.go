// Package config loads rr settings from a config file and RR_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kaoslabsinc/remote-resources/internal/etl/client"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
)

// EnvPrefix prefixes every environment override: log.file is RR_LOG_FILE.
const EnvPrefix = "RR"

// DefaultFile is read when no config file is named and it exists.
const DefaultFile = ".rr/config.yaml"

// ErrNoEndpoint is returned for a resource without a usable endpoint.
var ErrNoEndpoint = errors.New("resource has no endpoint")

// Config is the full rr configuration.
type Config struct {
	Database  string          `mapstructure:"database"`
	Resources string          `mapstructure:"resources"`
	Log       LogConfig       `mapstructure:"log"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type LogConfig struct {
	// File enables a rotating log file next to stderr (empty = stderr only)
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type RemoteConfig struct {
	// BaseURL resolves relative resource endpoints
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	HTTP2   bool          `mapstructure:"http2"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
	Factor   float64       `mapstructure:"factor"`
	Statuses []int         `mapstructure:"statuses"`
	Methods  []string      `mapstructure:"methods"`
}

type SyncConfig struct {
	MaxPages  int    `mapstructure:"max_pages"`
	BatchSize int    `mapstructure:"batch_size"`
	Mode      string `mapstructure:"mode"`
}

type DaemonConfig struct {
	Inbox                string        `mapstructure:"inbox"`
	Debounce             time.Duration `mapstructure:"debounce"`
	PullInterval         time.Duration `mapstructure:"pull_interval"`
	ProcessInterval      time.Duration `mapstructure:"process_interval"`
	CacheRefreshInterval time.Duration `mapstructure:"cache_refresh_interval"`
}

type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database", ".rr/rr.db")
	v.SetDefault("resources", ".rr/resources.toml")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	retry := client.DefaultRetryPolicy()
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.http2", false)
	v.SetDefault("remote.retry.attempts", retry.Attempts)
	v.SetDefault("remote.retry.backoff", retry.Backoff)
	v.SetDefault("remote.retry.factor", retry.Factor)
	v.SetDefault("remote.retry.statuses", retry.Statuses)
	v.SetDefault("remote.retry.methods", retry.Methods)

	v.SetDefault("sync.max_pages", 0)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.mode", "pull")

	v.SetDefault("daemon.inbox", ".rr/inbox")
	v.SetDefault("daemon.debounce", 250*time.Millisecond)
	v.SetDefault("daemon.pull_interval", 5*time.Minute)
	v.SetDefault("daemon.process_interval", 10*time.Second)
	v.SetDefault("daemon.cache_refresh_interval", time.Minute)

	v.SetDefault("dashboard.host", "")
	v.SetDefault("dashboard.port", 8080)
}

// New returns a viper instance with defaults and environment overrides
// wired. path names the config file; empty reads DefaultFile if present.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigFile(DefaultFile)
	}
	return v
}

// Load reads the config file and environment into a Config. A missing
// default file is not an error; a missing named file is.
func Load(path string) (*Config, error) {
	v := New(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !(errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	return Decode(v)
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is empty")
	}
	if c.Remote.Retry.Attempts < 1 {
		return fmt.Errorf("remote.retry.attempts must be at least 1, got %d", c.Remote.Retry.Attempts)
	}
	if c.Sync.BatchSize < 0 || c.Sync.MaxPages < 0 {
		return fmt.Errorf("sync.batch_size and sync.max_pages must not be negative")
	}
	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("remote.base_url must be an absolute URL: %q", c.Remote.BaseURL)
		}
	}
	return nil
}

// RetryPolicy converts the retry settings.
func (c RemoteConfig) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{
		Attempts: c.Retry.Attempts,
		Backoff:  c.Retry.Backoff,
		Factor:   c.Retry.Factor,
		Statuses: c.Retry.Statuses,
		Methods:  c.Retry.Methods,
	}
}

// Endpoint resolves the collection URL of r against BaseURL.
func (c RemoteConfig) Endpoint(r *schema.Resource) (string, error) {
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = r.Name + "/"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", r.Name, ErrNoEndpoint, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("%s: %w: %q is relative and remote.base_url is unset", r.Name, ErrNoEndpoint, endpoint)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(u).String(), nil
}

// ClientOptions returns the remote client options of r.
func (c RemoteConfig) ClientOptions(r *schema.Resource) (client.Options, error) {
	endpoint, err := c.Endpoint(r)
	if err != nil {
		return client.Options{}, err
	}
	return client.Options{
		BaseURL:    endpoint,
		Token:      c.Token,
		Timeout:    c.Timeout,
		HTTP2:      c.HTTP2,
		ResultsKey: r.ResultsKey,
		NextKey:    r.NextKey,
		Retry:      c.RetryPolicy(),
	}, nil
}
