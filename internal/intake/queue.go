// Package intake is the single entry point of a live run: every producer
// (market data, venue reports, commands) publishes into one bounded queue
// and the run loop is its only consumer.
package intake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/clock"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"go.uber.org/zap"
)

// Policy decides what Publish does when the queue is full.
type Policy string

const (
	// PolicyBlock makes the producer wait for room.
	PolicyBlock Policy = "block"
	// PolicyDrop discards the new message and counts it.
	PolicyDrop Policy = "drop"
)

type Option[T any] func(*Queue[T])

// WithDropHandler is called with every message discarded under PolicyDrop.
func WithDropHandler[T any](handler func(T)) Option[T] {
	return func(q *Queue[T]) {
		q.onDrop = handler
	}
}

// WithWallClock replaces the clock used for receive timeouts.
func WithWallClock[T any](wall clock.WallClock) Option[T] {
	return func(q *Queue[T]) {
		q.wall = wall
	}
}

type Queue[T any] struct {
	items   chan T
	policy  Policy
	wall    clock.WallClock
	onDrop  func(T)
	dropped atomic.Int64

	closed    chan struct{}
	closeOnce sync.Once

	logger *logger.Logger
}

func New[T any](capacity int, policy Policy, log *logger.Logger, options ...Option[T]) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "queue capacity must be positive, got %d", capacity)
	}

	switch policy {
	case "":
		policy = PolicyBlock
	case PolicyBlock, PolicyDrop:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown back-pressure policy %q", policy)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	q := &Queue[T]{
		items:     make(chan T, capacity),
		policy:    policy,
		wall:      clock.RealClock{},
		onDrop:    nil,
		dropped:   atomic.Int64{},
		closed:    make(chan struct{}),
		closeOnce: sync.Once{},
		logger:    log.Named("intake"),
	}

	for _, option := range options {
		option(q)
	}

	return q, nil
}

// Publish enqueues msg according to the queue policy.
func (q *Queue[T]) Publish(ctx context.Context, msg T) error {
	if q.policy == PolicyBlock {
		return q.Deliver(ctx, msg)
	}

	if q.isClosed() {
		return errors.New(errors.ErrCodeQueueClosed, "intake queue is closed")
	}

	select {
	case q.items <- msg:
		return nil
	default:
	}

	total := q.dropped.Add(1)
	q.logger.Warn("Intake queue full, message dropped", zap.Int64("dropped_total", total), zap.Int("capacity", cap(q.items)))

	if q.onDrop != nil {
		q.onDrop(msg)
	}

	return nil
}

// Deliver enqueues msg and waits for room whatever the policy. Messages
// that must never be lost, such as venue reports, go through Deliver.
func (q *Queue[T]) Deliver(ctx context.Context, msg T) error {
	if q.isClosed() {
		return errors.New(errors.ErrCodeQueueClosed, "intake queue is closed")
	}

	select {
	case q.items <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return errors.New(errors.ErrCodeQueueClosed, "intake queue is closed")
	}
}

// Receive returns the next message. It fails with ErrCodeFeedStalled when
// nothing arrives within timeout; a timeout of zero waits forever. Messages
// already queued are still handed out after Close.
func (q *Queue[T]) Receive(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = q.wall.After(timeout)
	}

	select {
	case msg := <-q.items:
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-deadline:
		return zero, errors.Newf(errors.ErrCodeFeedStalled, "no message received within %s", timeout)
	case <-q.closed:
		select {
		case msg := <-q.items:
			return msg, nil
		default:
			return zero, errors.New(errors.ErrCodeQueueClosed, "intake queue is closed")
		}
	}
}

// Close stops further publishing. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

func (q *Queue[T]) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Dropped returns how many messages PolicyDrop discarded.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}
