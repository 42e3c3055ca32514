// Package queue defines the bounded hand-off between rank callers and the
// batch uploader.
//
// Producers never block: when the queue is full the push fails and the caller
// drops the event. Exactly one consumer drains it in FIFO order.
package queue

import (
	"sync"

	"github.com/okian/decisionlog/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
)

// Queue provides non-blocking enqueue and dequeue of serialized events.
type Queue interface {
	// TryEnqueue adds a payload to the queue.
	// Returns false if the queue is full or closed and the payload was not enqueued.
	TryEnqueue(payload []byte) bool

	// TryDequeue returns the oldest payload, or false when the queue is empty.
	TryDequeue() ([]byte, bool)

	// Len returns the current number of queued payloads.
	Len() int

	// Cap returns the fixed capacity.
	Cap() int
}

// BoundedQueue implements Queue using a buffered channel of fixed capacity.
type BoundedQueue struct {
	events   chan []byte
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewBoundedQueue creates a new bounded queue with configuration options.
func NewBoundedQueue(opts ...Option) *BoundedQueue {
	q := &BoundedQueue{
		capacity: defaultQueueCapacity,
	}

	for _, opt := range opts {
		opt(q)
	}

	q.events = make(chan []byte, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// TryEnqueue adds a payload to the queue without blocking.
func (q *BoundedQueue) TryEnqueue(payload []byte) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.events <- payload:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	default:
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// TryDequeue removes the oldest payload without blocking.
func (q *BoundedQueue) TryDequeue() ([]byte, bool) {
	select {
	case payload, ok := <-q.events:
		if !ok {
			return nil, false
		}
		metrics.RecordQueueDequeue()
		q.observe()
		return payload, true
	default:
		return nil, false
	}
}

// Len returns the current number of queued payloads.
func (q *BoundedQueue) Len() int {
	return len(q.events)
}

// Cap returns the fixed capacity of the queue.
func (q *BoundedQueue) Cap() int {
	return q.capacity
}

// Close stops accepting new payloads. Payloads already queued remain
// available to TryDequeue and Drain.
func (q *BoundedQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *BoundedQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Drain discards every queued payload and returns how many were dropped.
func (q *BoundedQueue) Drain() int {
	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			return n
		}
		n++
	}
}

func (q *BoundedQueue) observe() {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
