// Package prommetrics exports analytics pipeline metrics to Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/velmie/analytics"
)

const (
	defaultNamespace = "analytics"
	defaultSubsystem = "client"
)

// Metrics implements analytics.Metrics with Prometheus collectors.
type Metrics struct {
	batchDuration prometheus.Histogram
	batchActions  prometheus.Histogram
	batchBytes    prometheus.Histogram
	submitted     prometheus.Counter
	succeeded     prometheus.Counter
	failed        prometheus.Counter
	retries       prometheus.Counter
	queueDepth    prometheus.Gauge
}

var _ analytics.Metrics = (*Metrics)(nil)

// Option customizes collector naming.
type Option func(*options)

type options struct {
	namespace   string
	subsystem   string
	constLabels prometheus.Labels
}

// WithNamespace overrides the metric namespace (default "analytics").
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithSubsystem overrides the metric subsystem (default "client").
func WithSubsystem(ss string) Option {
	return func(o *options) {
		o.subsystem = ss
	}
}

// WithConstLabels attaches constant labels to every collector.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) {
		o.constLabels = labels
	}
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, opts ...Option) (*Metrics, error) {
	o := options{namespace: defaultNamespace, subsystem: defaultSubsystem}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Metrics{
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "batch_duration_seconds",
			Help:        "Time from first send attempt to terminal outcome of a batch.",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
			ConstLabels: o.constLabels,
		}),
		batchActions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "batch_actions",
			Help:        "Number of actions per batch.",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
			ConstLabels: o.constLabels,
		}),
		batchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "batch_bytes",
			Help:        "Serialized size of each batch.",
			Buckets:     prometheus.ExponentialBuckets(256, 4, 8),
			ConstLabels: o.constLabels,
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "actions_submitted_total",
			Help:        "Actions accepted by the queue.",
			ConstLabels: o.constLabels,
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "actions_succeeded_total",
			Help:        "Actions delivered to the endpoint.",
			ConstLabels: o.constLabels,
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "actions_failed_total",
			Help:        "Actions that reached a failure outcome.",
			ConstLabels: o.constLabels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "send_retries_total",
			Help:        "Send attempts scheduled after a transient failure.",
			ConstLabels: o.constLabels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.namespace,
			Subsystem:   o.subsystem,
			Name:        "queue_depth",
			Help:        "Actions waiting for a dispatcher worker.",
			ConstLabels: o.constLabels,
		}),
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// MustNew is New that panics on registration errors.
func MustNew(reg prometheus.Registerer, opts ...Option) *Metrics {
	m, err := New(reg, opts...)
	if err != nil {
		panic(err)
	}

	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.batchDuration, m.batchActions, m.batchBytes,
		m.submitted, m.succeeded, m.failed, m.retries, m.queueDepth,
	}
}

// ObserveBatchDuration implements analytics.Metrics.
func (m *Metrics) ObserveBatchDuration(d time.Duration) {
	m.batchDuration.Observe(d.Seconds())
}

// ObserveBatchSize implements analytics.Metrics.
func (m *Metrics) ObserveBatchSize(actions, bytes int) {
	m.batchActions.Observe(float64(actions))
	m.batchBytes.Observe(float64(bytes))
}

// AddSubmitted implements analytics.Metrics.
func (m *Metrics) AddSubmitted(n int) {
	m.submitted.Add(float64(n))
}

// AddSucceeded implements analytics.Metrics.
func (m *Metrics) AddSucceeded(n int) {
	m.succeeded.Add(float64(n))
}

// AddFailed implements analytics.Metrics.
func (m *Metrics) AddFailed(n int) {
	m.failed.Add(float64(n))
}

// AddRetries implements analytics.Metrics.
func (m *Metrics) AddRetries(n int) {
	m.retries.Add(float64(n))
}

// SetQueueDepth implements analytics.Metrics.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
