package analytics

import (
	"context"
	"fmt"
	"maps"
)

// Client buffers actions and delivers them to the ingestion endpoint in the
// background. It is safe for concurrent use.
//
// Create one with NewClient and release it with Close or Shutdown.
type Client struct {
	writeKey   string
	cfg        Config
	stats      *Statistics
	notifier   *Notifier
	dispatcher *dispatcher
}

// NewClient validates the configuration and starts the dispatcher workers.
func NewClient(writeKey string, opts ...Option) (*Client, error) {
	if writeKey == "" {
		return nil, ErrWriteKeyRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		httpTransport, err := NewHTTPTransport(cfg)
		if err != nil {
			return nil, err
		}
		transport = httpTransport
	}

	stats := &Statistics{}
	notifier := NewNotifier(cfg.Logger)
	builder := NewBatchBuilder(writeKey, cfg.MaxBatchBytes, cfg.MaxBatchCount, cfg.IDGenerator)

	c := &Client{
		writeKey:   writeKey,
		cfg:        cfg,
		stats:      stats,
		notifier:   notifier,
		dispatcher: newDispatcher(cfg, builder, transport, stats, notifier),
	}
	c.dispatcher.start()

	cfg.Logger.Info("analytics client started",
		"endpoint", cfg.Endpoint, "workers", cfg.Workers, "max_batch_count", cfg.MaxBatchCount)

	return c, nil
}

// Identify enqueues an identify action.
func (c *Client) Identify(userID string, traits Traits, opts *Options) error {
	return c.Enqueue(&Identify{BaseAction: newBase(userID, opts), Traits: traits})
}

// Track enqueues a track action.
func (c *Client) Track(userID, event string, properties Properties, opts *Options) error {
	return c.Enqueue(&Track{BaseAction: newBase(userID, opts), Event: event, Properties: properties})
}

// Page enqueues a page action.
func (c *Client) Page(userID, name, category string, properties Properties, opts *Options) error {
	return c.Enqueue(&Page{BaseAction: newBase(userID, opts), Name: name, Category: category, Properties: properties})
}

// Screen enqueues a screen action.
func (c *Client) Screen(userID, name, category string, properties Properties, opts *Options) error {
	return c.Enqueue(&Screen{BaseAction: newBase(userID, opts), Name: name, Category: category, Properties: properties})
}

// Group enqueues a group action.
func (c *Client) Group(userID, groupID string, traits Traits, opts *Options) error {
	return c.Enqueue(&Group{BaseAction: newBase(userID, opts), GroupID: groupID, Traits: traits})
}

// Alias enqueues an alias action merging previousID into userID.
func (c *Client) Alias(previousID, userID string, opts *Options) error {
	return c.Enqueue(&Alias{BaseAction: newBase(userID, opts), PreviousID: previousID})
}

// Enqueue validates action and queues it for delivery.
func (c *Client) Enqueue(action Action) error {
	return c.EnqueueContext(context.Background(), action)
}

// EnqueueContext is Enqueue with a context bounding the wait for queue room.
//
// A missing message id, timestamp or context.library entry is filled in
// before validation. The action must not be modified afterwards.
func (c *Client) EnqueueContext(ctx context.Context, action Action) error {
	if action == nil {
		return fmt.Errorf("%w: nil action", ErrUnexpected)
	}
	if err := c.prepare(action); err != nil {
		return err
	}
	if err := action.Validate(); err != nil {
		return err
	}

	return c.dispatcher.enqueue(ctx, action)
}

func (c *Client) prepare(action Action) error {
	b := action.base()
	if b.ID == "" {
		id, err := c.cfg.IDGenerator.New()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		b.ID = id
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = c.cfg.Clock.Now()
	}
	if _, ok := b.Context["library"]; !ok {
		ctx := maps.Clone(b.Context)
		if ctx == nil {
			ctx = make(Context, 1)
		}
		ctx["library"] = libraryContext()
		b.Context = ctx
	}

	return nil
}

// Flush blocks until every action enqueued so far has settled or ctx is done.
// A timed out flush leaves pending work in place.
func (c *Client) Flush(ctx context.Context) error {
	return <-c.FlushAsync(ctx)
}

// FlushAsync starts a flush and returns a channel that receives its result.
func (c *Client) FlushAsync(ctx context.Context) <-chan error {
	return c.dispatcher.flushAsync(ctx)
}

// Shutdown stops accepting actions, flushes within ctx and releases the
// transport. Actions still queued when ctx expires fail with ErrShutdownTimeout.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.dispatcher.shutdown(ctx)
	snap := c.stats.Snapshot()
	c.cfg.Logger.Info("analytics client stopped",
		"submitted", snap.Submitted, "succeeded", snap.Succeeded, "failed", snap.Failed)

	return err
}

// Close shuts the client down within the configured ShutdownTimeout.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	return c.Shutdown(ctx)
}

// Statistics returns the client counters.
func (c *Client) Statistics() *Statistics {
	return c.stats
}

// QueueLen returns the number of actions waiting for a worker.
func (c *Client) QueueLen() int {
	return c.dispatcher.queue.Len()
}

// OnSuccess registers a callback for delivered actions.
func (c *Client) OnSuccess(fn SuccessFunc) {
	c.notifier.OnSuccess(fn)
}

// OnFailure registers a callback for failed actions.
func (c *Client) OnFailure(fn FailureFunc) {
	c.notifier.OnFailure(fn)
}

// WriteKey returns the write key batches are authenticated with.
func (c *Client) WriteKey() string {
	return c.writeKey
}
