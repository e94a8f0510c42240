// Package exporter implements the per-signal batching exporter: a bounded
// in-memory batch that a single background worker swaps out and transmits,
// with bounded exponential retry and counted drops.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/collector/consumer/consumererror"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
)

// State is the lifecycle state of an Exporter.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	default:
		return "Stopped"
	}
}

var (
	// ErrDeadlineExceeded is returned by Shutdown when the final flush could
	// not complete before the deadline. The remainder was dropped and counted.
	ErrDeadlineExceeded = errors.New("shutdown deadline exceeded, remaining signals dropped")

	// ErrNotRunning is returned by ForceFlush once the exporter has stopped.
	ErrNotRunning = errors.New("exporter is not running")
)

// SendFunc serializes and transmits one batch. Errors marked with
// consumererror.NewPermanent are never retried.
type SendFunc[R any] func(ctx context.Context, batch []R) error

// DropFunc receives batches that were given up on, together with the reason.
type DropFunc[R any] func(batch []R, reason error)

// Option configures an Exporter.
type Option[R any] func(*Exporter[R])

// WithDropHandler installs fn to receive every dropped batch.
func WithDropHandler[R any](fn DropFunc[R]) Option[R] {
	return func(e *Exporter[R]) {
		e.onDrop = fn
	}
}

type flushRequest struct {
	ctx  context.Context
	done chan error
}

// Exporter buffers records of one signal type and ships them with send.
type Exporter[R any] struct {
	// Configuration
	name  string
	batch BatchConfig
	retry RetryConfig

	// Transmission
	send   SendFunc[R]
	onDrop DropFunc[R]

	// Batch state
	mu      sync.Mutex
	pending []R
	state   *atomic.Int32

	// Background worker
	kick      chan struct{}
	flushReqs chan flushRequest
	stopChan  chan struct{}
	doneChan  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc

	startOnce    sync.Once
	shutdownOnce sync.Once

	// Diagnostics
	stats  *diagnostics.ExporterStats
	logger *zap.Logger
}

// New creates a new exporter in the Stopped state.
func New[R any](
	name string,
	batch BatchConfig,
	retry RetryConfig,
	send SendFunc[R],
	stats *diagnostics.ExporterStats,
	logger *zap.Logger,
	opts ...Option[R],
) (*Exporter[R], error) {
	if send == nil {
		return nil, errors.New("send function is required")
	}
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch config: %w", err)
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	if stats == nil {
		stats = diagnostics.NewExporterStats()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	e := &Exporter[R]{
		name:      name,
		batch:     batch,
		retry:     retry,
		send:      send,
		pending:   make([]R, 0, batch.MaxExportBatchSize),
		state:     atomic.NewInt32(int32(StateStopped)),
		kick:      make(chan struct{}, 1),
		flushReqs: make(chan flushRequest),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		runCtx:    runCtx,
		runCancel: runCancel,
		stats:     stats,
		logger:    logger.With(zap.String("exporter", name)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start moves the exporter to Running and starts its background worker. Only
// the first call has any effect.
func (e *Exporter[R]) Start() {
	e.startOnce.Do(func() {
		if !e.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
			return
		}
		go e.run()
		e.logger.Debug("Exporter started",
			zap.Int("max_queue_size", e.batch.MaxQueueSize),
			zap.Int("max_export_batch_size", e.batch.MaxExportBatchSize),
			zap.Duration("max_age", e.batch.MaxAge))
	})
}

// State returns the current lifecycle state.
func (e *Exporter[R]) State() State {
	return State(e.state.Load())
}

// Pending returns the number of records waiting for the next flush.
func (e *Exporter[R]) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Record appends r to the current batch. It never blocks on transmission.
// Records offered while the exporter is not Running, or while the queue is
// full, are dropped and counted; Record then returns false.
func (e *Exporter[R]) Record(r R) bool {
	e.stats.Recorded.Inc()

	e.mu.Lock()
	if State(e.state.Load()) != StateRunning || len(e.pending) >= e.batch.MaxQueueSize {
		e.mu.Unlock()
		e.stats.Dropped.Inc()
		return false
	}
	e.pending = append(e.pending, r)
	full := len(e.pending) >= e.batch.MaxExportBatchSize
	e.mu.Unlock()

	if full {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// ForceFlush exports everything recorded so far and waits for the result.
func (e *Exporter[R]) ForceFlush(ctx context.Context) error {
	if e.State() != StateRunning {
		return ErrNotRunning
	}

	req := flushRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case e.flushReqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.doneChan:
		return ErrNotRunning
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the exporter: Running -> Draining, stop the worker, one
// final flush bounded by ctx, -> Stopped. Calls after the first return nil.
func (e *Exporter[R]) Shutdown(ctx context.Context) error {
	var err error
	e.shutdownOnce.Do(func() {
		err = e.shutdown(ctx)
	})
	return err
}

func (e *Exporter[R]) shutdown(ctx context.Context) error {
	e.mu.Lock()
	started := e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	e.mu.Unlock()
	if !started {
		// Never started: make sure it never will be
		e.startOnce.Do(func() {})
		e.runCancel()
		e.state.Store(int32(StateStopped))
		return nil
	}
	defer e.state.Store(int32(StateStopped))

	close(e.stopChan)
	select {
	case <-e.doneChan:
	case <-ctx.Done():
		// Abort whatever the worker is transmitting and wait for it to count
		// the aborted batch as dropped
		e.runCancel()
		<-e.doneChan
	}

	err := e.flush(ctx)
	e.runCancel()

	if ctxErr := ctx.Err(); ctxErr != nil {
		e.logger.Warn("Shutdown deadline exceeded",
			zap.Int64("dropped_total", e.stats.Dropped.Load()),
			zap.Error(ctxErr))
		return multierr.Append(ErrDeadlineExceeded, err)
	}

	e.logger.Debug("Exporter stopped",
		zap.Int64("exported", e.stats.Exported.Load()),
		zap.Int64("dropped", e.stats.Dropped.Load()))
	return err
}

// run is the background worker. It is the only goroutine that flushes while
// the exporter is Running, so batches leave in the order they were swapped.
func (e *Exporter[R]) run() {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.batch.MaxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = e.flush(e.runCtx)
		case <-e.kick:
			_ = e.flush(e.runCtx)
		case req := <-e.flushReqs:
			ctx, cancel := context.WithCancel(req.ctx)
			stop := context.AfterFunc(e.runCtx, cancel)
			req.done <- e.flush(ctx)
			stop()
			cancel()
		case <-e.stopChan:
			return
		}
	}
}

// flush swaps out the pending batch and transmits it in chunks of at most
// MaxExportBatchSize. Producers append to the fresh batch meanwhile.
func (e *Exporter[R]) flush(ctx context.Context) error {
	e.mu.Lock()
	batch := e.pending
	e.pending = make([]R, 0, e.batch.MaxExportBatchSize)
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	e.stats.Flushes.Inc()

	var errs error
	for start := 0; start < len(batch); start += e.batch.MaxExportBatchSize {
		end := start + e.batch.MaxExportBatchSize
		if end > len(batch) {
			end = len(batch)
		}
		errs = multierr.Append(errs, e.export(ctx, batch[start:end]))
	}
	return errs
}

// rejection is implemented by errors reporting that the receiver refused part
// of an otherwise accepted batch.
type rejection interface {
	RejectedCount() int
}

// export transmits one chunk, retrying transient failures.
func (e *Exporter[R]) export(ctx context.Context, chunk []R) error {
	if err := ctx.Err(); err != nil {
		e.dropBatch(chunk, 0, err)
		return err
	}

	attempts := 0
	operation := func() error {
		attempts++
		e.stats.Attempts.Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, e.batch.ExportTimeout)
		defer cancel()

		err := e.send(attemptCtx, chunk)
		if err != nil && consumererror.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		e.stats.Retries.Inc()
		e.logger.Debug("Export failed, retrying",
			zap.Int("items", len(chunk)),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, e.newBackOff(ctx), notify)
	if err == nil {
		e.stats.Exported.Add(int64(len(chunk)))
		return nil
	}

	var rejected rejection
	if errors.As(err, &rejected) {
		n := rejected.RejectedCount()
		if n > len(chunk) {
			n = len(chunk)
		}
		e.stats.Exported.Add(int64(len(chunk) - n))
		e.stats.Dropped.Add(int64(n))
		e.logger.Warn("Collector rejected part of a batch",
			zap.Int("items", len(chunk)),
			zap.Int("rejected", n),
			zap.Error(err))
		return nil
	}

	e.dropBatch(chunk, attempts, err)
	return fmt.Errorf("export %s batch: %w", e.name, err)
}

func (e *Exporter[R]) dropBatch(chunk []R, attempts int, reason error) {
	e.stats.FailedBatches.Inc()
	e.stats.Dropped.Add(int64(len(chunk)))
	e.logger.Error("Dropping batch",
		zap.Int("items", len(chunk)),
		zap.Int("attempts", attempts),
		zap.Error(reason))

	if e.onDrop != nil {
		e.onDrop(chunk, reason)
	}
}

func (e *Exporter[R]) newBackOff(ctx context.Context) backoff.BackOff {
	if !e.retry.Enabled || e.retry.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.InitialInterval
	b.MaxInterval = e.retry.MaxInterval
	b.Multiplier = e.retry.Multiplier
	b.RandomizationFactor = e.retry.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.retry.MaxAttempts-1)), ctx)
}
