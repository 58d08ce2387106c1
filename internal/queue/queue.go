// Package queue serializes outbound transport operations: exactly one
// operation is in flight at any instant, in submission order.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"dlbridge/internal/domain"
)

// Op is one queued send operation.
type Op func(ctx context.Context) error

type job struct {
	ctx  context.Context
	run  Op
	done chan error
}

// Dispatch runs submitted operations one at a time on a single worker
// goroutine. One operation's failure does not cancel or block the
// operations queued behind it.
type Dispatch struct {
	jobs   chan job
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a dispatch queue with the given backlog size and starts its
// worker.
func New(backlog int, logger *slog.Logger) *Dispatch {
	if backlog <= 0 {
		backlog = 64
	}
	d := &Dispatch{
		jobs:   make(chan job, backlog),
		logger: logger,
	}
	go d.loop()
	return d
}

// Submit enqueues op and returns a future that receives op's own outcome.
// Submitting after Close fails immediately with ErrQueueNotStarted.
func (d *Dispatch) Submit(ctx context.Context, op Op) <-chan error {
	done := make(chan error, 1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		done <- domain.ErrQueueNotStarted
		return done
	}
	d.jobs <- job{ctx: ctx, run: op, done: done}
	return done
}

// Do enqueues op and waits for its outcome or for ctx to be cancelled.
func (d *Dispatch) Do(ctx context.Context, op Op) error {
	select {
	case err := <-d.Submit(ctx, op):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the queue down. Operations already queued still execute;
// later submissions fail immediately.
func (d *Dispatch) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
}

func (d *Dispatch) loop() {
	for j := range d.jobs {
		err := j.run(j.ctx)
		if err != nil {
			d.logger.Debug("queued operation failed", "err", err)
		}
		j.done <- err
	}
}
