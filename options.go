package analytics

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the hosted ingestion endpoint.
	DefaultEndpoint = "https://hosted.rudderlabs.com"

	defaultTimeout          = 5 * time.Second
	defaultMaxRetryDuration = 10 * time.Second
	defaultWorkers          = 1
	defaultMaxBatchBytes    = 500 * 1024
	defaultMaxBatchCount    = 100
	defaultMaxQueueSize     = 10000
	defaultFlushInterval    = 10 * time.Second
	defaultShutdownTimeout  = 30 * time.Second
)

// Config defines how a Client batches and delivers actions.
type Config struct {
	Endpoint         string
	Proxy            string
	Timeout          time.Duration
	MaxRetryDuration time.Duration
	Backoff          BackoffConfig
	Workers          int
	MaxBatchBytes    int
	MaxBatchCount    int
	MaxQueueSize     int
	EnqueueTimeout   time.Duration
	FlushInterval    time.Duration
	ShutdownTimeout  time.Duration
	UserAgent        string
	HTTPClient       *http.Client
	RateLimiter      *rate.Limiter
	Transport        Transport
	Clock            Clock
	Logger           Logger
	Metrics          Metrics
	IDGenerator      IDGenerator
	StatusClassifier StatusClassifier
	DeadLetterSink   DeadLetterSink
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetryDuration <= 0 {
		c.MaxRetryDuration = defaultMaxRetryDuration
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = defaultMaxBatchBytes
	}
	if c.MaxBatchCount <= 0 {
		c.MaxBatchCount = defaultMaxBatchCount
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = LibraryName + "/" + Version
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.IDGenerator == nil {
		c.IDGenerator = UUIDGenerator{}
	}
	if c.StatusClassifier == nil {
		c.StatusClassifier = DefaultStatusClassifier
	}

	return c
}

// Validate reports configuration values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Transport == nil {
		if c.Endpoint == "" {
			return ErrEndpointRequired
		}
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: endpoint %q is not an absolute url", ErrInvalidConfig, c.Endpoint)
		}
		if c.Proxy != "" {
			if _, err := url.Parse(c.Proxy); err != nil {
				return fmt.Errorf("%w: proxy: %w", ErrInvalidConfig, err)
			}
		}
	}
	if c.EnqueueTimeout < 0 {
		return fmt.Errorf("%w: negative enqueue timeout", ErrInvalidConfig)
	}
	if c.Backoff.Factor > 0 && c.Backoff.Factor < 1 {
		return fmt.Errorf("%w: backoff factor %v is below 1", ErrInvalidConfig, c.Backoff.Factor)
	}

	return nil
}

// Option configures Client behavior.
type Option func(*Config)

// WithEndpoint sets the ingestion base url; batches go to {endpoint}/v1/batch.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithProxy routes HTTP traffic through the given proxy url.
func WithProxy(proxy string) Option {
	return func(c *Config) {
		c.Proxy = proxy
	}
}

// WithTimeout sets the per-attempt network timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxRetryDuration bounds the total backoff wait spent on one batch.
func WithMaxRetryDuration(d time.Duration) Option {
	return func(c *Config) {
		c.MaxRetryDuration = d
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(cfg BackoffConfig) Option {
	return func(c *Config) {
		c.Backoff = cfg
	}
}

// WithWorkers sets the number of dispatcher workers.
func WithWorkers(count int) Option {
	return func(c *Config) {
		c.Workers = count
	}
}

// WithMaxBatchBytes caps the serialized size of a batch.
func WithMaxBatchBytes(n int) Option {
	return func(c *Config) {
		c.MaxBatchBytes = n
	}
}

// WithMaxBatchCount caps the number of actions in a batch.
func WithMaxBatchCount(n int) Option {
	return func(c *Config) {
		c.MaxBatchCount = n
	}
}

// WithMaxQueueSize bounds the number of pending actions. Zero keeps the
// default of 10000; a negative size leaves the queue unbounded.
func WithMaxQueueSize(n int) Option {
	return func(c *Config) {
		c.MaxQueueSize = n
	}
}

// WithEnqueueTimeout sets how long Enqueue waits for room in a full queue
// before returning ErrQueueFull. Zero rejects immediately.
func WithEnqueueTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.EnqueueTimeout = timeout
	}
}

// WithFlushInterval sets how often workers send partial batches.
func WithFlushInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.FlushInterval = interval
	}
}

// WithShutdownTimeout sets the flush budget used by Close.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = timeout
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

// WithHTTPClient sets the HTTP client used by the default transport.
// Timeout and Proxy are ignored when a client is supplied.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithRateLimiter throttles send attempts across all workers.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(c *Config) {
		c.RateLimiter = limiter
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(transport Transport) Option {
	return func(c *Config) {
		c.Transport = transport
	}
}

// WithClock sets the clock used for action timestamps.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the client logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithIDGenerator sets the message id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Config) {
		c.IDGenerator = gen
	}
}

// WithStatusClassifier sets the per-attempt outcome classifier.
func WithStatusClassifier(classifier StatusClassifier) Option {
	return func(c *Config) {
		c.StatusClassifier = classifier
	}
}

// WithDeadLetterSink registers a sink that receives every failed batch.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(c *Config) {
		c.DeadLetterSink = sink
	}
}
