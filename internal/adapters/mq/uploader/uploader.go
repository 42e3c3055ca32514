// Package uploader drains the event queue into size-bounded batches and
// uploads them over a fixed pool of connections.
//
// A connection carries at most one batch at a time. The next batch goes to
// whichever connection finishes first, so at most len(conns) uploads are in
// flight and batches on one connection are delivered in dispatch order.
// Failed uploads are logged and dropped.
package uploader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/decisionlog/internal/adapters/sink"
	"github.com/okian/decisionlog/pkg/logger"
	"github.com/okian/decisionlog/pkg/metrics"
)

// Default uploader configuration constants.
const (
	defaultBatchMaxBytes = 256 << 10
	defaultFlushInterval = 100 * time.Millisecond
)

// Failure kinds used in logs and metrics.
const (
	kindRejected  = "rejected"
	kindTransport = "transport"
)

// Stats is a snapshot of uploader counters.
type Stats struct {
	BatchesDispatched int64
	BatchesUploaded   int64
	EventsUploaded    int64
	Failures          int64
	InFlight          int64
	MaxInFlight       int64
	Discarded         int64
}

// Uploader is the single consumer of the event queue.
type Uploader struct {
	batcher       *Batcher
	conns         []sink.EventSink
	free          chan int
	flushInterval time.Duration
	name          string

	uploadCtx     context.Context
	cancelUploads context.CancelFunc
	inflight      sync.WaitGroup

	// Shutdown control
	shutdown     chan struct{}
	done         chan struct{}
	started      atomic.Bool
	shutdownOnce sync.Once

	dispatched  atomic.Int64
	uploaded    atomic.Int64
	events      atomic.Int64
	failures    atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	discarded   atomic.Int64

	logger   logger.Logger
	maxBytes int
}

// New creates an uploader reading from src and sending on conns.
func New(src Dequeuer, conns []sink.EventSink, opts ...Option) (*Uploader, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil queue", ErrInvalidUploader)
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("%w: no connections", ErrInvalidUploader)
	}
	for i, c := range conns {
		if c == nil {
			return nil, fmt.Errorf("%w: connection %d is nil", ErrInvalidUploader, i)
		}
	}

	uploadCtx, cancel := context.WithCancel(context.Background())
	u := &Uploader{
		conns:         conns,
		free:          make(chan int, len(conns)),
		flushInterval: defaultFlushInterval,
		name:          "uploader",
		uploadCtx:     uploadCtx,
		cancelUploads: cancel,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger.Nop(),
		maxBytes:      defaultBatchMaxBytes,
	}

	for _, opt := range opts {
		opt(u)
	}

	u.logger = u.logger.Named(u.name)
	u.batcher = NewBatcher(src, u.maxBytes)
	for i := range conns {
		u.free <- i
	}

	metrics.UpdateUploadConnections(len(conns))
	metrics.UpdateUploadsInFlight(0)

	return u, nil
}

// Start runs the upload loop in a new goroutine.
func (u *Uploader) Start(ctx context.Context) {
	u.started.Store(true)
	go u.Run(ctx)
}

// Run drives the upload loop until ctx is cancelled or Shutdown is called.
func (u *Uploader) Run(ctx context.Context) {
	u.started.Store(true)
	defer close(u.done)

	for {
		if u.stopping(ctx) {
			u.discardSeed(ctx)
			return
		}

		batch, n := u.batcher.Next()
		if n == 0 {
			if !u.sleep(ctx) {
				return
			}
			continue
		}

		idx, ok := u.acquire(ctx)
		if !ok {
			u.discarded.Add(int64(n))
			u.discardSeed(ctx)
			u.logger.Warn(ctx, "dropping batch at shutdown", logger.Int("events", n))
			return
		}
		u.dispatch(idx, batch, n)
	}
}

// Shutdown stops the loop and waits for in-flight uploads. If ctx expires
// first, outstanding uploads are cancelled.
func (u *Uploader) Shutdown(ctx context.Context) error {
	u.shutdownOnce.Do(func() { close(u.shutdown) })

	if u.started.Load() {
		select {
		case <-u.done:
		case <-ctx.Done():
			u.cancelUploads()
			u.logger.Warn(ctx, "shutdown timed out waiting for upload loop")
			return fmt.Errorf("uploader shutdown timed out: %w", ctx.Err())
		}
	}

	waited := make(chan struct{})
	go func() {
		u.inflight.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		u.cancelUploads()
		return nil
	case <-ctx.Done():
		u.cancelUploads()
		u.logger.Warn(ctx, "shutdown timed out waiting for uploads",
			logger.Int64("in_flight", u.inFlight.Load()))
		return fmt.Errorf("uploader shutdown timed out: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the uploader counters.
func (u *Uploader) Stats() Stats {
	return Stats{
		BatchesDispatched: u.dispatched.Load(),
		BatchesUploaded:   u.uploaded.Load(),
		EventsUploaded:    u.events.Load(),
		Failures:          u.failures.Load(),
		InFlight:          u.inFlight.Load(),
		MaxInFlight:       u.maxInFlight.Load(),
		Discarded:         u.discarded.Load(),
	}
}

// Connections returns the pool size.
func (u *Uploader) Connections() int {
	return len(u.conns)
}

func (u *Uploader) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-u.shutdown:
		return true
	default:
		return false
	}
}

// sleep waits one flush interval. It returns false when the loop must exit.
func (u *Uploader) sleep(ctx context.Context) bool {
	timer := time.NewTimer(u.flushInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-u.shutdown:
		return false
	case <-timer.C:
		return true
	}
}

// acquire returns the index of the first free connection, blocking until one
// of the in-flight uploads completes. It fails once shutdown has begun, even
// when a connection is free.
func (u *Uploader) acquire(ctx context.Context) (int, bool) {
	idx, ok := u.take(ctx)
	if !ok {
		return 0, false
	}
	if u.stopping(ctx) {
		u.free <- idx
		return 0, false
	}
	return idx, true
}

func (u *Uploader) take(ctx context.Context) (int, bool) {
	select {
	case idx := <-u.free:
		return idx, true
	default:
	}

	metrics.RecordUploadSlotWait()
	select {
	case idx := <-u.free:
		return idx, true
	case <-ctx.Done():
		return 0, false
	case <-u.shutdown:
		return 0, false
	}
}

func (u *Uploader) dispatch(idx int, batch []byte, n int) {
	u.inflight.Add(1)
	u.dispatched.Add(1)
	cur := u.inFlight.Add(1)
	for {
		peak := u.maxInFlight.Load()
		if cur <= peak || u.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	metrics.UpdateUploadsInFlight(int(cur))
	metrics.RecordBatchDispatched(len(batch), n)

	go func() {
		defer func() {
			metrics.UpdateUploadsInFlight(int(u.inFlight.Add(-1)))
			u.free <- idx
			u.inflight.Done()
		}()
		u.upload(idx, batch, n)
	}()
}

func (u *Uploader) upload(idx int, batch []byte, n int) {
	ctx := u.uploadCtx
	start := time.Now()
	status, err := u.conns[idx].Send(ctx, batch)
	metrics.RecordUploadLatency(float64(time.Since(start).Microseconds()) / 1000)

	switch {
	case err != nil:
		u.fail(ctx, idx, n, kindTransport, fmt.Errorf("%w: %w", ErrUploadTransport, err))
	case status != sink.StatusSuccess:
		u.fail(ctx, idx, n, kindRejected, fmt.Errorf("%w: status %s", ErrUploadRejected, status))
	default:
		u.uploaded.Add(1)
		u.events.Add(int64(n))
		metrics.RecordBatchUploaded(n)
		u.logger.Debug(ctx, "batch uploaded",
			logger.Int("conn", idx),
			logger.Int("events", n),
			logger.Int("bytes", len(batch)),
		)
	}
}

func (u *Uploader) fail(ctx context.Context, idx, n int, kind string, err error) {
	u.failures.Add(1)
	metrics.RecordUploadError(kind)
	metrics.RecordErrorByComponent("uploader", kind)
	u.logger.Error(ctx, "batch upload failed, dropping batch",
		logger.Int("conn", idx),
		logger.Int("events", n),
		logger.String("kind", kind),
		logger.Error(err),
	)
}

func (u *Uploader) discardSeed(ctx context.Context) {
	if u.batcher.Discard() {
		u.discarded.Add(1)
		u.logger.Debug(ctx, "dropping held event at shutdown")
	}
}
