package modelslot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/decisionlog/pkg/logger"
	"github.com/okian/decisionlog/pkg/metrics"
)

const defaultRefreshInterval = time.Minute

// Source provides model bytes. Fetch returns ErrNotModified when the model
// has not changed since the previous successful fetch.
type Source interface {
	Fetch(ctx context.Context) (version string, data []byte, err error)
}

// RefresherOption applies a configuration option to the Refresher.
type RefresherOption func(*Refresher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets a custom logger for the refresher.
func WithLogger(l logger.Logger) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOnInstall registers a callback invoked after each install.
func WithOnInstall(fn func(*Slot)) RefresherOption {
	return func(r *Refresher) {
		r.onInstall = fn
	}
}

// Refresher periodically polls a Source and installs new versions into a
// Holder. Refreshes never interleave.
type Refresher struct {
	holder    *Holder
	source    Source
	interval  time.Duration
	logger    logger.Logger
	onInstall func(*Slot)

	refreshMu   sync.Mutex
	lastFetched string

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	shutdown  chan struct{}
	done      chan struct{}
}

// NewRefresher creates a refresher for holder fed by source.
func NewRefresher(holder *Holder, source Source, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		holder:   holder,
		source:   source,
		interval: defaultRefreshInterval,
		logger:   logger.Nop(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the polling loop. The first refresh happens immediately.
func (r *Refresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.run(ctx)
	})
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.RefreshNow(ctx); err != nil && !errors.Is(err, ErrNotModified) {
			metrics.RecordModelRefreshError()
			metrics.RecordErrorByComponent("model_refresher", "fetch_error")
			r.logger.Error(ctx, "model refresh failed", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		case <-ticker.C:
		}
	}
}

// RefreshNow fetches once and installs the result when the source reports a
// version it has not reported before.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	version, data, err := r.source.Fetch(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmptyModel
	}
	if version == "" {
		version = Fingerprint(data)
	}
	if version == r.lastFetched {
		return ErrNotModified
	}

	slot := r.holder.Install(version, data)
	r.lastFetched = version
	r.logger.Info(ctx, "model installed",
		logger.String("version", slot.Version),
		logger.Int("bytes", slot.Size()),
	)
	if r.onInstall != nil {
		r.onInstall(slot)
	}
	return nil
}

// Shutdown stops the polling loop and waits for it to exit.
func (r *Refresher) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.shutdown) })

	if !r.started.Load() {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("model refresher shutdown timed out: %w", ctx.Err())
	}
}
