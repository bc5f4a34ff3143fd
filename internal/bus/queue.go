package bus

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/errors"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded, non-blocking event queue with a single consumer.
type Queue[T any] struct {
	ch     chan T
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue[T]) TryPublish(e T) (err error) {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	// a concurrent Close may close the channel between the check and the send
	defer func() {
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued events.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new events. Queued events are still delivered.
func (q *Queue[T]) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events until the context is done, the queue is closed and
// drained, or the handler returns an error.
func (q *Queue[T]) Run(ctx context.Context, handler func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := handler(e); err != nil {
				return err
			}
		}
	}
}
