package queue

// Option applies a configuration option to the BoundedQueue.
type Option func(*BoundedQueue)

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity(capacity int) Option {
	return func(q *BoundedQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}
