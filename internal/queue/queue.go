package queue

import (
	"context"
	"errors"
	"sync"

	"tickwatch/internal/model"
)

// ErrBackpressure is returned by Enqueue when the queue is at capacity. The
// producer is expected to retry later; nothing is buffered beyond capacity.
var ErrBackpressure = errors.New("queue at capacity")

// ErrClosed is returned once the queue is closed.
var ErrClosed = errors.New("queue closed")

// Queue is a fixed-capacity FIFO of ticks awaiting processing. Enqueue never
// blocks: a full queue rejects immediately so the ingestion boundary can
// answer with a transient-overload status instead of stalling the producer.
// Order is exact arrival order; there is no reordering or coalescing.
type Queue struct {
	ch       chan model.Tick
	capacity int

	mu     sync.RWMutex
	closed bool
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{ch: make(chan model.Tick, capacity), capacity: capacity}
}

func (q *Queue) Enqueue(t model.Tick) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrBackpressure
	}
}

// Dequeue blocks until a tick is available, the queue is closed and drained,
// or the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (model.Tick, error) {
	select {
	case t, ok := <-q.ch:
		if !ok {
			return model.Tick{}, ErrClosed
		}
		return t, nil
	case <-ctx.Done():
		return model.Tick{}, ctx.Err()
	}
}

// C exposes the receive side for callers that need to select over the queue
// together with other channels. The channel yields ticks in FIFO order for a
// single consumer.
func (q *Queue) C() <-chan model.Tick {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return q.capacity
}

// Close stops accepting ticks. Buffered ticks remain readable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
