package service

import (
	"log/slog"
	"time"

	"github.com/okian/decisionlog/internal/adapters/sink"
	"github.com/okian/decisionlog/internal/domain/modelslot"
	"github.com/okian/decisionlog/internal/domain/ranking"
	"github.com/okian/decisionlog/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithQueueCapacity sets how many serialized events may wait for upload.
func WithQueueCapacity(capacity int) Option {
	return func(c *Client) {
		if capacity > 0 {
			c.queueCapacity = capacity
		}
	}
}

// WithInteractionSinks sets the pooled upload connections. Each sink carries
// at most one batch at a time.
func WithInteractionSinks(conns ...sink.EventSink) Option {
	return func(c *Client) {
		c.conns = append([]sink.EventSink(nil), conns...)
	}
}

// WithObservationSink sets the reward channel.
func WithObservationSink(s sink.EventSink) Option {
	return func(c *Client) {
		c.observation = s
	}
}

// WithBatchMaxBytes caps the size of an uploaded batch.
func WithBatchMaxBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchMaxBytes = n
		}
	}
}

// WithFlushInterval sets how long the uploader sleeps on an empty queue.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithRanker replaces the default weighted ranker.
func WithRanker(r ranking.Ranker) Option {
	return func(c *Client) {
		if r != nil {
			c.ranker = r
		}
	}
}

// WithModelSource enables background model refresh from src.
func WithModelSource(src modelslot.Source) Option {
	return func(c *Client) {
		c.source = src
	}
}

// WithModelRefreshInterval sets the model polling interval.
func WithModelRefreshInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshInterval = d
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLogListener forwards log entries at or above minLevel to fn.
func WithLogListener(minLevel slog.Level, fn logger.Listener) Option {
	return func(c *Client) {
		c.listenerLevel = minLevel
		c.listener = fn
	}
}
