// Package dedup collapses concurrent identical asynchronous operations.
// Callers presenting the same key while a flight is in progress become
// waiters on that flight and share its settlement; the underlying
// operation runs at most once per key at any time. Each flight carries a
// wall-clock deadline, optional retry for non-cancellation failures, and
// a background sweep bounds memory against leaked entries.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultSweepInterval  = 30 * time.Second
	DefaultStaleThreshold = 60 * time.Second
)

// Operation is a cancellable unit of work. It must honor ctx: when the
// flight times out or is cancelled the context is done and the operation
// is expected to stop consuming resources.
type Operation func(ctx context.Context) (any, error)

type Config struct {
	Logger         *slog.Logger
	Timeout        time.Duration // default flight deadline, zero means DefaultTimeout
	RetryDelay     time.Duration // default pause between retries
	SweepInterval  time.Duration
	StaleThreshold time.Duration
}

// RunConfig tunes a single Run call. Zero fields fall back to the
// deduplicator defaults.
type RunConfig struct {
	Timeout    time.Duration
	Retryable  bool
	MaxRetries int
	RetryDelay time.Duration
}

type entry struct {
	key       string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	// set before done closes, read only after
	result any
	err    error
}

type Deduplicator struct {
	logger         *slog.Logger
	timeout        time.Duration
	retryDelay     time.Duration
	sweepInterval  time.Duration
	staleThreshold time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stats *statsRegistry
}

func New(cfg Config) *Deduplicator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	return &Deduplicator{
		logger:         cfg.Logger.WithGroup("dedup"),
		timeout:        cfg.Timeout,
		retryDelay:     cfg.RetryDelay,
		sweepInterval:  cfg.SweepInterval,
		staleThreshold: cfg.StaleThreshold,
		entries:        make(map[string]*entry),
		stats:          newStatsRegistry(),
	}
}

// Run executes op under key, collapsing into an existing flight when one
// is in progress. Every caller for the same flight receives the same
// settlement. The caller's ctx only bounds its own wait; abandoning the
// wait does not abort the flight for other callers.
func (d *Deduplicator) Run(ctx context.Context, key string, cfg RunConfig, op Operation) (any, error) {
	d.mu.Lock()
	if e, ok := d.entries[key]; ok {
		d.mu.Unlock()
		d.logger.Debug("joined in-flight operation", "key", key)
		return d.await(ctx, e)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	flightCtx, cancel := context.WithTimeout(context.Background(), timeout)
	e := &entry{
		key:       key,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	d.entries[key] = e
	d.mu.Unlock()

	go d.fly(flightCtx, e, cfg, op)

	return d.await(ctx, e)
}

// Run invokes op through d and asserts the settled value to T. Flights
// joined under the same key must settle with the same concrete type.
func Run[T any](ctx context.Context, d *Deduplicator, key string, cfg RunConfig, op func(ctx context.Context) (T, error)) (T, error) {
	res, err := d.Run(ctx, key, cfg, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	value, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("flight %q settled with %T, caller expected %T", key, res, zero)
	}
	return value, nil
}

func (d *Deduplicator) await(ctx context.Context, e *entry) (any, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

func (d *Deduplicator) fly(ctx context.Context, e *entry, cfg RunConfig, op Operation) {
	defer e.cancel()

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = d.retryDelay
	}
	maxAttempts := 1
	if cfg.Retryable && cfg.MaxRetries > 0 {
		maxAttempts += cfg.MaxRetries
	}

	var result any
	var err error

	for attempt := 1; ; attempt++ {
		d.stats.recordAttempt(e.key)
		start := time.Now()
		result, err = invoke(ctx, op)
		latency := time.Since(start)

		if err == nil {
			d.stats.recordSuccess(e.key, latency)
			break
		}
		d.stats.recordError(e.key, latency)

		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				d.logger.Warn("flight timed out", "key", e.key, "attempt", attempt)
				err = fmt.Errorf("%w: key %q", ErrTimeout, e.key)
			} else {
				d.logger.Debug("flight cancelled", "key", e.key, "attempt", attempt)
				err = fmt.Errorf("%w: key %q", ErrCancelled, e.key)
			}
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
			// A cancellation surfaced by the operation itself is final.
			err = fmt.Errorf("%w: key %q", ErrCancelled, e.key)
			break
		}
		if attempt >= maxAttempts {
			break
		}

		d.logger.Debug("retrying failed operation", "key", e.key, "attempt", attempt, "error", err)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: key %q", ErrTimeout, e.key)
			} else {
				err = fmt.Errorf("%w: key %q", ErrCancelled, e.key)
			}
			d.settle(e, nil, err)
			return
		}
	}

	d.settle(e, result, err)
}

func (d *Deduplicator) settle(e *entry, result any, err error) {
	d.mu.Lock()
	delete(d.entries, e.key)
	d.mu.Unlock()

	e.result = result
	e.err = err
	close(e.done)
}

// invoke runs op with panic containment so a panicking operation settles
// its waiters instead of tearing the process down.
func invoke(ctx context.Context, op Operation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// Cancel aborts the in-flight entry for key. Its waiters settle with
// ErrCancelled. Reports whether a flight was found.
func (d *Deduplicator) Cancel(key string) bool {
	d.mu.Lock()
	e, ok := d.entries[key]
	d.mu.Unlock()

	if !ok {
		return false
	}
	d.logger.Debug("cancelling flight", "key", key)
	e.cancel()
	return true
}

// CancelAll aborts every in-flight entry and returns how many were
// cancelled. Registered with the shutdown coordinator at teardown.
func (d *Deduplicator) CancelAll() int {
	d.mu.Lock()
	flights := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		flights = append(flights, e)
	}
	d.mu.Unlock()

	for _, e := range flights {
		e.cancel()
	}
	if len(flights) > 0 {
		d.logger.Info("cancelled all in-flight operations", "count", len(flights))
	}
	return len(flights)
}

// PendingCount reports the number of flights currently in progress.
func (d *Deduplicator) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// StartSweeper periodically cancels flights older than the stale
// threshold until ctx is done. The per-flight deadline is the first line
// of defense; the sweep bounds memory if a deadline ever leaks.
func (d *Deduplicator) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.sweepStale()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *Deduplicator) sweepStale() {
	cutoff := time.Now().Add(-d.staleThreshold)

	d.mu.Lock()
	stale := make([]*entry, 0)
	for _, e := range d.entries {
		if e.startedAt.Before(cutoff) {
			stale = append(stale, e)
		}
	}
	d.mu.Unlock()

	for _, e := range stale {
		d.logger.Warn("sweeping stale flight", "key", e.key, "age", time.Since(e.startedAt))
		e.cancel()
	}
}
