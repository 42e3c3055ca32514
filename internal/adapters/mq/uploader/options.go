package uploader

import (
	"time"

	"github.com/okian/decisionlog/pkg/logger"
)

// Option applies a configuration option to the Uploader.
type Option func(*Uploader)

// WithName sets the uploader name used for logging.
func WithName(name string) Option {
	return func(u *Uploader) {
		if name != "" {
			u.name = name
		}
	}
}

// WithLogger sets a custom logger for the uploader.
func WithLogger(l logger.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// WithMaxBytes caps the size of a batch.
func WithMaxBytes(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.maxBytes = n
		}
	}
}

// WithFlushInterval sets how long the loop sleeps when the queue is empty.
func WithFlushInterval(d time.Duration) Option {
	return func(u *Uploader) {
		if d > 0 {
			u.flushInterval = d
		}
	}
}
