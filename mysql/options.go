package mysql

import "github.com/velmie/analytics"

const (
	defaultTable      = "analytics_dead_letters"
	defaultMaxReplays = 3
)

// Config defines MySQL archive behavior.
type Config struct {
	Table      string
	MaxReplays int
	Clock      analytics.Clock
	Logger     analytics.Logger
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.MaxReplays <= 0 {
		c.MaxReplays = defaultMaxReplays
	}
	if c.Clock == nil {
		c.Clock = analytics.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = analytics.NopLogger{}
	}

	return c
}

// Option configures the MySQL archive.
type Option func(*Config)

// WithTable sets the archive table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithMaxReplays sets how many times an action may be replayed before it is
// discarded.
func WithMaxReplays(n int) Option {
	return func(c *Config) {
		c.MaxReplays = n
	}
}

// WithClock sets the time source used by the archive.
func WithClock(clock analytics.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the archive logger.
func WithLogger(logger analytics.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
