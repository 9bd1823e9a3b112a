package config

import (
	"golang.org/x/time/rate"

	"github.com/velmie/analytics"
)

// ClientOptions maps the file settings onto analytics options.
// Only fields set in the file produce an option.
func (c ClientConfig) ClientOptions() []analytics.Option {
	var opts []analytics.Option
	if c.Endpoint != "" {
		opts = append(opts, analytics.WithEndpoint(c.Endpoint))
	}
	if c.Proxy != "" {
		opts = append(opts, analytics.WithProxy(c.Proxy))
	}
	if c.Timeout > 0 {
		opts = append(opts, analytics.WithTimeout(c.Timeout))
	}
	if c.MaxRetryDuration > 0 {
		opts = append(opts, analytics.WithMaxRetryDuration(c.MaxRetryDuration))
	}
	if c.Workers > 0 {
		opts = append(opts, analytics.WithWorkers(c.Workers))
	}
	if c.MaxBatchBytes > 0 {
		opts = append(opts, analytics.WithMaxBatchBytes(c.MaxBatchBytes))
	}
	if c.MaxBatchCount > 0 {
		opts = append(opts, analytics.WithMaxBatchCount(c.MaxBatchCount))
	}
	if c.MaxQueueSize != 0 {
		opts = append(opts, analytics.WithMaxQueueSize(c.MaxQueueSize))
	}
	if c.EnqueueTimeout > 0 {
		opts = append(opts, analytics.WithEnqueueTimeout(c.EnqueueTimeout))
	}
	if c.FlushInterval > 0 {
		opts = append(opts, analytics.WithFlushInterval(c.FlushInterval))
	}
	if c.ShutdownTimeout > 0 {
		opts = append(opts, analytics.WithShutdownTimeout(c.ShutdownTimeout))
	}
	if c.RequestsPerSecond > 0 {
		burst := int(c.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, analytics.WithRateLimiter(rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)))
	}

	return opts
}
