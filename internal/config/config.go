// Package config loads the analytics-relay YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultWriteKeyEnv     = "ANALYTICS_WRITE_KEY"
	DefaultMetricsAddr     = ":9464"
	DefaultArchiveTable    = "analytics_dead_letters"
	DefaultMaxReplays      = 3
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultCleanupLimit    = 1000
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level relay configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Metrics MetricsConfig `yaml:"metrics"`
	Spool   SpoolConfig   `yaml:"spool"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ClientConfig mirrors analytics.Config for the fields that make sense in a file.
// Zero values fall back to the library defaults.
type ClientConfig struct {
	// WriteKeyEnv names the environment variable holding the write key.
	WriteKeyEnv string `yaml:"write_key_env"`

	Endpoint         string        `yaml:"endpoint"`
	Proxy            string        `yaml:"proxy"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetryDuration time.Duration `yaml:"max_retry_duration"`
	Workers          int           `yaml:"workers"`
	MaxBatchBytes    int           `yaml:"max_batch_bytes"`
	MaxBatchCount    int           `yaml:"max_batch_count"`
	MaxQueueSize     int           `yaml:"max_queue_size"`
	EnqueueTimeout   time.Duration `yaml:"enqueue_timeout"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`

	// RequestsPerSecond caps HTTP attempts; zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// WriteKey returns the write key resolved from the environment.
func (c ClientConfig) WriteKey() string {
	if c.WriteKeyEnv == "" {
		return ""
	}

	return os.Getenv(c.WriteKeyEnv)
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the server.
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// SpoolConfig points at the NDJSON file the relay tails.
type SpoolConfig struct {
	Path string `yaml:"path"`

	// FromStart replays the existing file content before following new lines.
	FromStart bool `yaml:"from_start"`
}

// ArchiveConfig configures the MySQL dead-letter archive.
type ArchiveConfig struct {
	// DSNEnv names the environment variable holding the MySQL DSN.
	// The archive is disabled when the variable is unset or empty.
	DSNEnv string `yaml:"dsn_env"`

	Table           string        `yaml:"table"`
	MaxReplays      int           `yaml:"max_replays"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	CleanupLimit    int           `yaml:"cleanup_limit"`
}

// DSN returns the MySQL DSN resolved from the environment.
func (a ArchiveConfig) DSN() string {
	if a.DSNEnv == "" {
		return ""
	}

	return os.Getenv(a.DSNEnv)
}

// Enabled reports whether a DSN is available.
func (a ArchiveConfig) Enabled() bool {
	return a.DSN() != ""
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML data into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Client: ClientConfig{
			WriteKeyEnv: DefaultWriteKeyEnv,
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
		Archive: ArchiveConfig{
			Table:           DefaultArchiveTable,
			MaxReplays:      DefaultMaxReplays,
			Retention:       DefaultRetention,
			CleanupInterval: DefaultCleanupInterval,
			CleanupLimit:    DefaultCleanupLimit,
		},
	}
}

func validate(cfg *Config) error {
	c := cfg.Client
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: client.endpoint %q is not an absolute url", ErrInvalid, c.Endpoint)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: client.workers must not be negative", ErrInvalid)
	}
	if c.MaxBatchBytes < 0 || c.MaxBatchCount < 0 {
		return fmt.Errorf("%w: client batch limits must not be negative", ErrInvalid)
	}
	if c.EnqueueTimeout < 0 {
		return fmt.Errorf("%w: client.enqueue_timeout must not be negative", ErrInvalid)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: client.requests_per_second must not be negative", ErrInvalid)
	}
	if cfg.Spool.Path == "" {
		return fmt.Errorf("%w: spool.path is required", ErrInvalid)
	}
	a := cfg.Archive
	if a.MaxReplays <= 0 {
		return fmt.Errorf("%w: archive.max_replays must be positive", ErrInvalid)
	}
	if a.Retention <= 0 || a.CleanupInterval <= 0 {
		return fmt.Errorf("%w: archive retention and cleanup_interval must be positive", ErrInvalid)
	}
	if a.CleanupLimit <= 0 {
		return fmt.Errorf("%w: archive.cleanup_limit must be positive", ErrInvalid)
	}

	return nil
}
