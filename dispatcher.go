package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// workerStopGrace is how long shutdown waits for workers after its context
// is done before it settles their batches itself.
const workerStopGrace = 100 * time.Millisecond

// dispatcher runs the workers that turn queued actions into delivered batches.
type dispatcher struct {
	queue     *Queue
	builder   *BatchBuilder
	transport Transport
	stats     *Statistics
	notifier  *Notifier
	cfg       Config

	pending  *outstanding
	flushing atomic.Int32

	inflightMu sync.Mutex
	inflight   map[*BaseAction]*inflightAction

	kick     chan struct{}
	closed   atomic.Bool

	ctx       context.Context //nolint:containedctx // worker lifetime
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func newDispatcher(cfg Config, builder *BatchBuilder, transport Transport, stats *Statistics, notifier *Notifier) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &dispatcher{
		queue:     NewQueue(cfg.MaxQueueSize),
		builder:   builder,
		transport: transport,
		stats:     stats,
		notifier:  notifier,
		cfg:       cfg,
		pending:   newOutstanding(),
		inflight:  make(map[*BaseAction]*inflightAction),
		kick:      make(chan struct{}, cfg.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (d *dispatcher) start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		workerID := i
		go func() {
			defer d.wg.Done()
			d.runWorker(d.ctx, workerID)
		}()
	}
}

// enqueue hands action to the queue, waiting up to EnqueueTimeout for room.
func (d *dispatcher) enqueue(ctx context.Context, action Action) error {
	if d.closed.Load() {
		return ErrClosed
	}

	pushCtx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
	defer cancel()

	d.pending.add(1)
	accepted := func() { d.stats.addSubmitted(1) }
	if err := d.queue.PushFunc(pushCtx, action, accepted); err != nil {
		d.pending.done(1)

		return err
	}
	d.cfg.Metrics.AddSubmitted(1)
	d.cfg.Metrics.SetQueueDepth(d.queue.Len())

	return nil
}

func (d *dispatcher) runWorker(ctx context.Context, workerID int) {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if d.ready() {
			d.processOnce(ctx, workerID)

			continue
		}

		changed := d.queue.Changed()
		if d.ready() {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-d.kick:
		case <-ticker.C:
			d.processOnce(ctx, workerID)
		}
	}
}

// ready reports whether a worker should drain now rather than wait for more actions.
func (d *dispatcher) ready() bool {
	n := d.queue.Len()
	if n == 0 {
		return false
	}

	return n >= d.cfg.MaxBatchCount || d.flushing.Load() > 0 || d.closed.Load()
}

// processOnce drains up to one batch worth of actions and settles them.
// It returns false when the queue was empty. A panic raised while settling
// fails whatever the cycle had not settled yet and leaves the worker running.
func (d *dispatcher) processOnce(ctx context.Context, workerID int) bool {
	actions := d.drain()
	if len(actions) == 0 {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.recoverCycle(ctx, workerID, actions, rec)
		}
	}()

	d.cfg.Metrics.SetQueueDepth(d.queue.Len())

	batches, failures, err := d.build(actions)
	if err != nil {
		d.cfg.Logger.Error("analytics batch build panic", "worker", workerID, "err", err)
		d.fail(ctx, failAll(actions, err))

		return true
	}
	if len(failures) > 0 {
		d.fail(ctx, failures)
	}
	for _, batch := range batches {
		d.deliver(ctx, workerID, batch)
	}

	return true
}

// drain takes actions off the queue and marks them in flight in one step, so
// shutdown never misses an action that left the queue but has not settled.
func (d *dispatcher) drain() []Action {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	actions := d.queue.Drain(d.cfg.MaxBatchCount)
	for _, action := range actions {
		entry, ok := d.inflight[action.base()]
		if !ok {
			entry = &inflightAction{action: action}
			d.inflight[action.base()] = entry
		}
		entry.count++
	}

	return actions
}

func (d *dispatcher) recoverCycle(ctx context.Context, workerID int, actions []Action, rec any) {
	defer func() {
		// failClaimed has counted and released the actions before a second
		// panic could reach here.
		_ = recover()
	}()

	d.fail(ctx, failAll(actions, fmt.Errorf("%w: %v", ErrWorkerPanic, rec)))
	d.cfg.Logger.Error("analytics worker panic", "worker", workerID, "panic", rec)
}

func (d *dispatcher) build(actions []Action) (batches []*Batch, failures []Failure, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
		}
	}()
	batches, failures = d.builder.Build(actions)

	return batches, failures, nil
}

func (d *dispatcher) deliver(ctx context.Context, workerID int, batch *Batch) {
	start := time.Now()
	err := d.send(ctx, batch)
	elapsed := time.Since(start)
	d.cfg.Metrics.ObserveBatchDuration(elapsed)
	d.cfg.Metrics.ObserveBatchSize(batch.Len(), batch.Size())

	if err == nil {
		d.cfg.Logger.Info("analytics batch delivered",
			"worker", workerID, "batch_id", batch.MessageID, "actions", batch.Len(), "duration", elapsed)
		d.succeed(batch.Actions())

		return
	}

	if ctx.Err() != nil && d.closed.Load() {
		err = fmt.Errorf("%w: %w", ErrShutdownTimeout, err)
	}
	d.cfg.Logger.Warn("analytics batch failed",
		"worker", workerID, "batch_id", batch.MessageID, "actions", batch.Len(), "duration", elapsed, "err", err)
	d.fail(ctx, failAll(batch.Actions(), err))
}

func (d *dispatcher) send(ctx context.Context, batch *Batch) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.cfg.Logger.Error("analytics transport panic", "batch_id", batch.MessageID, "panic", rec)
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
		}
	}()

	return d.transport.Send(ctx, batch)
}

// succeed settles the actions of a delivered batch. Actions already settled
// elsewhere, by shutdown or a recovered panic, are skipped.
func (d *dispatcher) succeed(actions []Action) {
	actions = d.claim(actions)
	if len(actions) == 0 {
		return
	}
	d.stats.addSucceeded(len(actions))
	defer d.pending.done(len(actions))

	d.cfg.Metrics.AddSucceeded(len(actions))
	d.notifier.notifySuccess(actions)
}

// fail settles drained actions as failed, skipping those already settled.
func (d *dispatcher) fail(ctx context.Context, failures []Failure) {
	d.failClaimed(ctx, d.claimFailures(failures))
}

// failClaimed settles failures that no worker can settle any more.
func (d *dispatcher) failClaimed(ctx context.Context, failures []Failure) {
	if len(failures) == 0 {
		return
	}
	d.stats.addFailed(len(failures))
	defer d.pending.done(len(failures))

	d.cfg.Metrics.AddFailed(len(failures))
	d.notifier.notifyFailure(failures)
	d.storeDeadLetters(ctx, failures)
}

// claim removes actions from the in-flight set and returns the ones that
// were still unsettled.
func (d *dispatcher) claim(actions []Action) []Action {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	claimed := actions[:0:0]
	for _, action := range actions {
		if d.release(action) {
			claimed = append(claimed, action)
		}
	}

	return claimed
}

func (d *dispatcher) claimFailures(failures []Failure) []Failure {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	claimed := failures[:0:0]
	for _, failure := range failures {
		if d.release(failure.Action) {
			claimed = append(claimed, failure)
		}
	}

	return claimed
}

// claimAll takes every action still in flight away from the workers.
func (d *dispatcher) claimAll() []Action {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	var claimed []Action
	for _, entry := range d.inflight {
		for i := 0; i < entry.count; i++ {
			claimed = append(claimed, entry.action)
		}
	}
	clear(d.inflight)

	return claimed
}

func (d *dispatcher) release(action Action) bool {
	key := action.base()
	entry, ok := d.inflight[key]
	if !ok {
		return false
	}
	entry.count--
	if entry.count <= 0 {
		delete(d.inflight, key)
	}

	return true
}

// inflightAction tracks a drained action; the same action may be enqueued
// more than once.
type inflightAction struct {
	action Action
	count  int
}

func (d *dispatcher) storeDeadLetters(ctx context.Context, failures []Failure) {
	if d.cfg.DeadLetterSink == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.cfg.Logger.Error("analytics dead-letter sink panic", "panic", rec)
		}
	}()

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()
	if err := d.cfg.DeadLetterSink.Store(storeCtx, failures); err != nil {
		d.cfg.Logger.Error("analytics dead-letter store failed", "count", len(failures), "err", err)
	}
}

// flushAsync asks the workers to drain the queue and resolves once every
// action accepted so far has settled, or with ctx's error.
func (d *dispatcher) flushAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	d.flushing.Add(1)
	idle := d.pending.idle()
	for i := 0; i < cap(d.kick); i++ {
		select {
		case d.kick <- struct{}{}:
		default:
		}
	}

	go func() {
		defer d.flushing.Add(-1)
		select {
		case <-idle:
			done <- nil
		case <-ctx.Done():
			done <- ctx.Err()
		}
	}()

	return done
}

// shutdown stops accepting actions, flushes within ctx and stops the workers.
// Actions still queued afterwards fail with ErrShutdownTimeout, and so do
// batches held by a worker that outlives ctx by workerStopGrace.
func (d *dispatcher) shutdown(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		flushErr := <-d.flushAsync(ctx)

		d.cancel()
		stopped := d.waitWorkers(ctx)

		rest := d.queue.Close()
		if len(rest) > 0 {
			d.cfg.Logger.Warn("analytics shutdown abandoned queued actions", "count", len(rest))
			d.failClaimed(ctx, failAll(rest, ErrShutdownTimeout))
		}
		if !stopped {
			stuck := d.claimAll()
			d.cfg.Logger.Error("analytics workers did not stop, abandoning in-flight actions",
				"count", len(stuck), "grace", workerStopGrace)
			d.failClaimed(ctx, failAll(stuck, ErrShutdownTimeout))
			if flushErr == nil {
				flushErr = ctx.Err()
			}
		}

		var closeErr error
		if closer, ok := d.transport.(io.Closer); ok {
			closeErr = closer.Close()
		}
		if flushErr != nil {
			flushErr = fmt.Errorf("%w: %w", ErrShutdownTimeout, flushErr)
		}
		d.closeErr = errors.Join(flushErr, closeErr)
	})

	return d.closeErr
}

// waitWorkers waits for the workers to return. Once ctx is done they get
// workerStopGrace more; it reports false if some are still running then.
func (d *dispatcher) waitWorkers(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
	}

	grace := time.NewTimer(workerStopGrace)
	defer grace.Stop()

	select {
	case <-done:
		return true
	case <-grace.C:
		return false
	}
}

// outstanding counts actions that were accepted but have not settled yet.
type outstanding struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func newOutstanding() *outstanding {
	zero := make(chan struct{})
	close(zero)

	return &outstanding{zero: zero}
}

func (o *outstanding) add(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.n == 0 {
		o.zero = make(chan struct{})
	}
	o.n += n
}

func (o *outstanding) done(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.n -= n
	if o.n <= 0 {
		o.n = 0
		select {
		case <-o.zero:
		default:
			close(o.zero)
		}
	}
}

// idle returns a channel closed once the count drops to zero.
func (o *outstanding) idle() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.zero
}
