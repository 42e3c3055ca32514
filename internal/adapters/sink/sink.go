// Package sink defines outbound channels for interaction batches and rewards,
// and an HTTP implementation of them.
package sink

import (
	"context"
)

// Status is the outcome reported by a sink for a delivered payload.
type Status int

// Sink statuses. Transport failures are reported through the error return.
const (
	StatusSuccess Status = iota
	StatusRejected
)

// String returns a short label used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// EventSink accepts one payload at a time. A non-nil error means the payload
// never reached the remote end (transport error).
type EventSink interface {
	Send(ctx context.Context, payload []byte) (Status, error)
}

// Func adapts a function to EventSink.
type Func func(ctx context.Context, payload []byte) (Status, error)

// Send implements EventSink.
func (f Func) Send(ctx context.Context, payload []byte) (Status, error) {
	return f(ctx, payload)
}
