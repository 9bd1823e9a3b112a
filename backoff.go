package analytics

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultBackoffMin    = 100 * time.Millisecond
	defaultBackoffMax    = 10 * time.Second
	defaultBackoffFactor = 2
	defaultBackoffJitter = 5 * time.Second
)

// BackoffConfig defines the exponential retry schedule.
type BackoffConfig struct {
	// Min is the wait before the first retry, without jitter.
	Min time.Duration
	// Max caps the exponential part of every wait. A computed wait at or
	// above Max ends the retry loop.
	Max time.Duration
	// Factor multiplies the wait on every attempt.
	Factor float64
	// Jitter is the upper bound of the uniform random delay added to each wait.
	// Zero disables jitter.
	Jitter time.Duration
}

// DefaultBackoffConfig returns the schedule used when none is configured:
// 100ms doubling up to 10s with up to 5s of jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Min:    defaultBackoffMin,
		Max:    defaultBackoffMax,
		Factor: defaultBackoffFactor,
		Jitter: defaultBackoffJitter,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Min <= 0 {
		c.Min = defaultBackoffMin
	}
	if c.Max <= 0 {
		c.Max = defaultBackoffMax
	}
	if c.Factor <= 0 {
		c.Factor = defaultBackoffFactor
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}

	return c
}

// Backoff computes retry waits and tracks how far a retry loop has progressed.
//
// A Backoff is not safe for concurrent use; each in-flight batch owns one.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	current time.Duration
}

// NewBackoff creates an idle Backoff. Zero fields of cfg take their defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.withDefaults()}
}

// AttemptTimeFor returns min(Max, Min*Factor^attempt) plus a random jitter
// in [0, Jitter). It does not change the state.
func (b *Backoff) AttemptTimeFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := float64(b.cfg.Min) * math.Pow(b.cfg.Factor, float64(attempt))
	if math.IsNaN(wait) || wait > float64(b.cfg.Max) {
		wait = float64(b.cfg.Max)
	}

	return time.Duration(wait) + b.jitter()
}

// AttemptTime computes the wait for the current attempt, advances the
// attempt counter and records the result as the current wait.
func (b *Backoff) AttemptTime() time.Duration {
	b.current = b.AttemptTimeFor(b.attempt)
	b.attempt++

	return b.current
}

// Wait sleeps for AttemptTime or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	return sleep(ctx, b.AttemptTime())
}

// HasReachedMax reports whether the last computed wait reached Max.
func (b *Backoff) HasReachedMax() bool {
	return b.current >= b.cfg.Max
}

// Attempt returns how many waits have been computed since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Current returns the last computed wait.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Reset returns the Backoff to its idle state.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.current = 0
}

func (b *Backoff) jitter() time.Duration {
	if b.cfg.Jitter <= 0 {
		return 0
	}

	return rand.N(b.cfg.Jitter) //nolint:gosec // jitter has no security requirement
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
