// Package txq serializes every cache mutation through a single FIFO
// queue. One consumer goroutine executes units in submission order, so
// optimistic writes and reconciliation batches can never interleave
// mid-transaction; SQLite lock errors are absorbed here with a bounded
// linear backoff instead of leaking to callers.
package txq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MrX1068/stunxtV2-sub001/internal/metrics"
	"github.com/MrX1068/stunxtV2-sub001/internal/store"
)

// ErrWriteFailed marks a unit rejected after exhausting contention
// retries. The queue keeps draining; one failed unit never blocks the
// units behind it.
var ErrWriteFailed = errors.New("write failed after retries")

// ErrQueueClosed is returned for units submitted after Stop.
var ErrQueueClosed = errors.New("write queue closed")

type unit struct {
	name string
	fn   func() error
	done chan error
}

// Queue is the single-consumer write serializer.
type Queue struct {
	units    chan unit
	attempts int
	base     time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
	cancel  context.CancelFunc
}

// New creates a queue retrying contention up to attempts times with a
// linearly increasing delay (attempt N waits N*base).
func New(attempts int, base time.Duration, logger *zap.Logger) *Queue {
	if attempts <= 0 {
		attempts = 3
	}
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		units:    make(chan unit, 256),
		attempts: attempts,
		base:     base,
		logger:   logger,
		stopped:  make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go q.drain(ctx)
}

// Stop closes the queue, runs the units already enqueued to completion,
// and waits for the consumer to exit. Nothing accepted is dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	close(q.units)
	q.mu.Unlock()

	if q.cancel != nil {
		defer q.cancel()
	}
	<-q.stopped
}

// Submit enqueues fn and blocks until it ran. The ctx only bounds the
// caller's wait: a unit that entered the queue is still executed in full
// even if the submitter gave up, so accepted data is never lost.
func (q *Queue) Submit(ctx context.Context, name string, fn func() error) error {
	u := unit{name: name, fn: fn, done: make(chan error, 1)}

	// The send happens under the mutex so Stop cannot close the channel
	// out from under a blocked submitter. The consumer never takes the
	// mutex, so a full queue still drains while we hold it.
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	select {
	case q.units <- u:
		q.mu.Unlock()
	case <-ctx.Done():
		q.mu.Unlock()
		return ctx.Err()
	}

	select {
	case err := <-u.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) drain(ctx context.Context) {
	defer close(q.stopped)
	for {
		select {
		case u, ok := <-q.units:
			if !ok {
				return
			}
			u.done <- q.run(u)
		case <-ctx.Done():
			// Finish whatever is already enqueued before exiting.
			for {
				select {
				case u, ok := <-q.units:
					if !ok {
						return
					}
					u.done <- q.run(u)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(u unit) error {
	metrics.WriteUnitsTotal.Inc()

	var err error
	for attempt := 1; attempt <= q.attempts; attempt++ {
		err = u.fn()
		if err == nil {
			return nil
		}
		if !store.IsContention(err) {
			return err
		}
		if attempt < q.attempts {
			metrics.WriteRetriesTotal.Inc()
			q.logger.Warn("storage contention, retrying write unit",
				zap.String("unit", u.name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			time.Sleep(time.Duration(attempt) * q.base)
		}
	}

	metrics.WriteFailuresTotal.Inc()
	q.logger.Error("write unit rejected after retries",
		zap.String("unit", u.name),
		zap.Int("attempts", q.attempts),
		zap.Error(err))
	return fmt.Errorf("unit %q: %w: %v", u.name, ErrWriteFailed, err)
}
