package analytics

import "time"

// Metrics captures pipeline-level telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time from first attempt to terminal outcome.
	ObserveBatchDuration(duration time.Duration)
	// ObserveBatchSize records the action count and serialized size of a built batch.
	ObserveBatchSize(actions, bytes int)
	// AddSubmitted increments the count of accepted actions.
	AddSubmitted(count int)
	// AddSucceeded increments the count of delivered actions.
	AddSucceeded(count int)
	// AddFailed increments the count of actions that reached a failure outcome.
	AddFailed(count int)
	// AddRetries increments the count of retried send attempts.
	AddRetries(count int)
	// SetQueueDepth updates the current number of queued actions.
	SetQueueDepth(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// ObserveBatchSize implements Metrics.
func (NopMetrics) ObserveBatchSize(int, int) {}

// AddSubmitted implements Metrics.
func (NopMetrics) AddSubmitted(int) {}

// AddSucceeded implements Metrics.
func (NopMetrics) AddSucceeded(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// SetQueueDepth implements Metrics.
func (NopMetrics) SetQueueDepth(int) {}
