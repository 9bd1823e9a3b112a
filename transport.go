package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxErrorBody = 1 << 10

// Transport delivers one batch. Send returns nil once the batch was accepted
// and an error describing the terminal failure otherwise.
//
// Implementations must be safe for concurrent use by multiple workers, and
// Send must return promptly once ctx is done: shutdown waits only briefly for
// a worker past its deadline and then fails that worker's batch itself.
type Transport interface {
	Send(ctx context.Context, batch *Batch) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, batch *Batch) error

// Send implements Transport.
func (fn TransportFunc) Send(ctx context.Context, batch *Batch) error {
	return fn(ctx, batch)
}

// HTTPTransport posts batches to {endpoint}/v1/batch, retrying transient
// failures with exponential backoff.
//
// Every Send owns its own Backoff, so a failing batch never shortens the
// retry budget of the next one.
type HTTPTransport struct {
	client     *http.Client
	url        string
	userAgent  string
	timeout    time.Duration
	maxRetry   time.Duration
	backoff    BackoffConfig
	limiter    *rate.Limiter
	classifier StatusClassifier
	clock      Clock
	logger     Logger
	metrics    Metrics
}

// NewHTTPTransport builds the transport described by cfg. Unset fields take
// the same defaults as NewClient.
func NewHTTPTransport(cfg Config) (*HTTPTransport, error) {
	cfg = cfg.withDefaults()

	client := cfg.HTTPClient
	if client == nil {
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return nil, fmt.Errorf("%w: default http transport has unexpected type", ErrUnexpected)
		}
		rt := base.Clone()
		if cfg.Proxy != "" {
			proxy, err := url.Parse(cfg.Proxy)
			if err != nil {
				return nil, fmt.Errorf("%w: proxy: %w", ErrInvalidConfig, err)
			}
			rt.Proxy = http.ProxyURL(proxy)
		}
		client = &http.Client{Transport: rt}
	}

	return &HTTPTransport{
		client:     client,
		url:        cfg.Endpoint + "/v1/batch",
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		maxRetry:   cfg.MaxRetryDuration,
		backoff:    cfg.Backoff,
		limiter:    cfg.RateLimiter,
		classifier: cfg.StatusClassifier,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, batch *Batch) error {
	if batch.SentAt.IsZero() {
		batch.SentAt = t.clock.Now()
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("%w: encode batch: %w", ErrUnexpected, err)
	}

	t.logger.Info("analytics sending batch",
		"batch_id", batch.MessageID, "actions", batch.Len(), "bytes", len(body))

	bo := NewBackoff(t.backoff)
	var waited time.Duration
	for {
		status, msg, netErr := t.attempt(ctx, batch.WriteKey, body)
		if netErr != nil && ctx.Err() != nil {
			return errors.Join(ctx.Err(), netErr)
		}

		result := t.classifier(status, netErr)
		var attemptErr error
		switch {
		case netErr != nil:
			attemptErr = fmt.Errorf("%w: %w", ErrTransient, netErr)
		case status != http.StatusOK:
			attemptErr = &APIError{StatusCode: status, Message: msg}
		}

		switch result {
		case AttemptSucceeded:
			return nil
		case AttemptRejected:
			if netErr != nil {
				return fmt.Errorf("%w: %w", ErrClientRejection, netErr)
			}
			if attemptErr == nil {
				attemptErr = &APIError{StatusCode: status, Message: msg}
			}

			return attemptErr
		case AttemptRetry:
		}

		if attemptErr == nil {
			attemptErr = &APIError{StatusCode: status, Message: msg}
		}
		wait := bo.AttemptTime()
		if bo.HasReachedMax() || waited+wait > t.maxRetry {
			return fmt.Errorf("%w after %d attempts: %w", ErrBackoffExhausted, bo.Attempt(), attemptErr)
		}

		t.logger.Info("analytics retry scheduled",
			"batch_id", batch.MessageID, "attempt", bo.Attempt(), "status", status, "wait", wait, "err", attemptErr)
		t.metrics.AddRetries(1)
		if err := sleep(ctx, wait); err != nil {
			return errors.Join(err, attemptErr)
		}
		waited += wait
	}
}

// attempt performs a single POST and returns the response status with up to
// 1 KiB of its body. err is non-nil only when no response was received.
func (t *HTTPTransport) attempt(ctx context.Context, writeKey string, body []byte) (int, string, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return 0, "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.SetBasicAuth(writeKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, strings.TrimSpace(string(msg)), nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()

	return nil
}
