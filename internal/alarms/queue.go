package alarms

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue is an unbounded FIFO with a blocking, cancellable Pop. Push never
// blocks, so producers are not slowed by a stalled consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	depth  prometheus.Gauge
}

// NewQueue creates an empty queue; depth may be nil.
func NewQueue[T any](depth prometheus.Gauge) *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		depth:  depth,
	}
}

func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	n := len(q.items)
	q.mu.Unlock()

	if q.depth != nil {
		q.depth.Set(float64(n))
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes the oldest item, waiting until one is available or ctx ends.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			n := len(q.items)
			if n == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			if q.depth != nil {
				q.depth.Set(float64(n))
			}
			return v, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
