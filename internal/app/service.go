// Package service provides the decision-logging client: it ranks actions,
// queues each interaction for batched upload, reports rewards and keeps the
// active model current.
//
// Delivery is best-effort. Events still queued when the client shuts down are
// discarded, and failed uploads are dropped without retry.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	eventqueue "github.com/okian/decisionlog/internal/adapters/mq/queue"
	"github.com/okian/decisionlog/internal/adapters/mq/uploader"
	"github.com/okian/decisionlog/internal/adapters/sink"
	"github.com/okian/decisionlog/internal/domain/codec"
	"github.com/okian/decisionlog/internal/domain/model"
	"github.com/okian/decisionlog/internal/domain/modelslot"
	"github.com/okian/decisionlog/internal/domain/ranking"
	"github.com/okian/decisionlog/pkg/logger"
	"github.com/okian/decisionlog/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultQueueCapacity   = 10000
	defaultBatchMaxBytes   = 256 << 10
	defaultFlushInterval   = 100 * time.Millisecond
	defaultRefreshInterval = time.Minute
)

// Client is the decision service client. Rank and Reward are safe for
// concurrent use.
type Client struct {
	mu sync.Mutex

	// Core components
	queue     *eventqueue.BoundedQueue
	uploader  *uploader.Uploader
	rewards   *RewardReporter
	holder    *modelslot.Holder
	refresher *modelslot.Refresher
	ranker    ranking.Ranker

	// Configuration
	conns           []sink.EventSink
	observation     sink.EventSink
	source          modelslot.Source
	queueCapacity   int
	batchMaxBytes   int
	flushInterval   time.Duration
	refreshInterval time.Duration

	// State
	started   atomic.Bool
	closed    atomic.Bool
	runCancel context.CancelFunc

	// Counters
	ranked    atomic.Int64
	overflow  atomic.Int64
	fallbacks atomic.Int64
	discarded atomic.Int64

	// Logging
	logger        logger.Logger
	listener      logger.Listener
	listenerLevel slog.Level
}

// New constructs a client. The queue accepts events immediately; uploads
// and model refresh begin with Start.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		queueCapacity:   defaultQueueCapacity,
		batchMaxBytes:   defaultBatchMaxBytes,
		flushInterval:   defaultFlushInterval,
		refreshInterval: defaultRefreshInterval,
		listenerLevel:   slog.LevelInfo,
	}

	for _, opt := range opts {
		opt(c)
	}

	if len(c.conns) == 0 {
		return nil, fmt.Errorf("%w: no interaction sinks", ErrInvalidClient)
	}
	if c.logger == nil {
		if logger.Initialized() {
			c.logger = logger.Get()
		} else {
			c.logger = logger.Nop()
		}
	}
	c.logger = logger.WithListener(c.logger, c.listenerLevel, c.listener).Named("client")
	if c.ranker == nil {
		c.ranker = ranking.NewWeightedRanker()
	}

	c.holder = modelslot.NewHolder(modelslot.WithVersioner(ranking.DeclaredVersion))
	c.queue = eventqueue.NewBoundedQueue(eventqueue.WithCapacity(c.queueCapacity))

	up, err := uploader.New(c.queue, c.conns,
		uploader.WithLogger(c.logger),
		uploader.WithMaxBytes(c.batchMaxBytes),
		uploader.WithFlushInterval(c.flushInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidClient, err)
	}
	c.uploader = up

	if c.observation != nil {
		c.rewards = NewRewardReporter(c.observation, c.logger.Named("reward"))
	}
	if c.source != nil {
		c.refresher = modelslot.NewRefresher(c.holder, c.source,
			modelslot.WithInterval(c.refreshInterval),
			modelslot.WithLogger(c.logger.Named("model")),
			modelslot.WithOnInstall(func(s *modelslot.Slot) {
				metrics.RecordModelUpdate(s.Size())
			}),
		)
	}

	return c, nil
}

// Start launches the uploader and, when a model source is configured, the
// model refresher.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.started.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel

	c.uploader.Start(runCtx)
	if c.refresher != nil {
		c.refresher.Start(runCtx)
	}

	c.started.Store(true)
	c.logger.Info(ctx, "decision client started",
		logger.Int("queue_capacity", c.queueCapacity),
		logger.Int("connections", len(c.conns)),
		logger.Int("batch_max_bytes", c.batchMaxBytes),
		logger.String("flush_interval", c.flushInterval.String()),
	)
	return nil
}

// Rank scores features with the active model and returns the response. When
// no model is loaded or the ranker fails, defaultRanking is returned with
// uniform probabilities. The interaction is queued for upload without
// blocking; a full queue drops it and increments the overflow count.
func (c *Client) Rank(ctx context.Context, features, eventID string, defaultRanking []int) (model.RankResponse, error) {
	if c.closed.Load() {
		return model.RankResponse{}, ErrClientClosed
	}

	start := time.Now()
	defer func() {
		metrics.RecordRankLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	slot := c.holder.Load()
	version := ""
	if slot != nil {
		version = slot.Version
	}

	actions, probs, err := c.ranker.Rank(ctx, slot, features, defaultRanking)
	if err != nil {
		reason := fallbackReason(err)
		c.fallbacks.Add(1)
		metrics.RecordRankFallback(reason)
		c.logger.Debug(ctx, "using default ranking",
			logger.String("reason", reason),
			logger.Error(err),
		)
		actions, probs = ranking.Uniform(defaultRanking)
		version = ""
	}

	rec, err := model.NewEventRecord(eventID, version, actions, probs, features, time.Now())
	if err != nil {
		metrics.RecordInvalidRecord()
		return model.RankResponse{}, err
	}

	payload, err := codec.EncodeEvent(&rec)
	if err != nil {
		metrics.RecordErrorByComponent("client", "encode_error")
		return model.RankResponse{}, fmt.Errorf("%w: %w", ErrEncodeInteraction, err)
	}

	if !c.queue.TryEnqueue(payload) {
		// Shutdown closed the queue after the check above.
		if c.queue.IsClosed() {
			return model.RankResponse{}, ErrClientClosed
		}
		c.overflow.Add(1)
		metrics.RecordQueueOverflow()
		c.logger.Debug(ctx, "event queue full, dropping interaction",
			logger.String("event_id", rec.EventID),
		)
	}

	c.ranked.Add(1)
	metrics.RecordEventRanked()
	return rec.Response(), nil
}

// Reward sends reward feedback for eventID on the observation channel.
func (c *Client) Reward(ctx context.Context, eventID string, value any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.rewards == nil {
		return ErrNoObservationSink
	}
	return c.rewards.Report(ctx, eventID, value)
}

// UpdateModel installs data as the active model and returns its version.
// Rank calls already using the previous model finish with it.
func (c *Client) UpdateModel(data []byte) (string, error) {
	return c.UpdateModelRange(data, 0, len(data))
}

// UpdateModelRange installs data[offset:offset+length] as the active model
// and returns its version: the "version" the model declares, or a content
// fingerprint.
func (c *Client) UpdateModelRange(data []byte, offset, length int) (string, error) {
	if length == 0 {
		return "", modelslot.ErrEmptyModel
	}
	slot, err := c.holder.InstallRange("", data, offset, length)
	if err != nil {
		return "", err
	}
	metrics.RecordModelUpdate(slot.Size())
	c.logger.Info(context.Background(), "model updated",
		logger.String("version", slot.Version),
		logger.Int("bytes", slot.Size()),
	)
	return slot.Version, nil
}

// ModelVersion returns the version of the active model, or "" when none.
func (c *Client) ModelVersion() string {
	return c.holder.Version()
}

// OverflowCount returns how many interactions were dropped on a full queue.
func (c *Client) OverflowCount() int64 {
	return c.overflow.Load()
}

// DiscardedCount returns how many queued interactions were dropped at
// shutdown.
func (c *Client) DiscardedCount() int64 {
	return c.discarded.Load()
}

// Shutdown stops background work and waits for in-flight uploads. Events
// still queued are discarded. Errors from each component are aggregated.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Info(ctx, "stopping decision client...")

	var result *multierror.Error
	if c.refresher != nil {
		if err := c.refresher.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.uploader.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if c.runCancel != nil {
		c.runCancel()
	}

	if err := c.queue.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	dropped := int64(c.queue.Drain()) + c.uploader.Stats().Discarded
	if dropped > 0 {
		c.discarded.Add(dropped)
		metrics.RecordEventsDiscarded(int(dropped))
		c.logger.Warn(ctx, "discarding undelivered events", logger.Int64("events", dropped))
	}

	for _, s := range c.sinks() {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	c.started.Store(false)
	c.logger.Info(ctx, "decision client stopped",
		logger.Int64("overflow", c.overflow.Load()),
		logger.Int64("discarded", c.discarded.Load()),
	)
	return result.ErrorOrNil()
}

func (c *Client) sinks() []sink.EventSink {
	all := append([]sink.EventSink(nil), c.conns...)
	if c.observation != nil {
		all = append(all, c.observation)
	}
	return all
}

// GetStats returns client statistics for monitoring.
func (c *Client) GetStats() map[string]interface{} {
	up := c.uploader.Stats()
	queueLen := c.queue.Len()
	metrics.UpdateQueueSize(queueLen)

	stats := map[string]interface{}{
		"started":            c.started.Load(),
		"closed":             c.closed.Load(),
		"queueCapacity":      c.queue.Cap(),
		"queueLength":        queueLen,
		"connections":        c.uploader.Connections(),
		"eventsRanked":       c.ranked.Load(),
		"rankFallbacks":      c.fallbacks.Load(),
		"overflowCount":      c.overflow.Load(),
		"discardedCount":     c.discarded.Load(),
		"batchesDispatched":  up.BatchesDispatched,
		"batchesUploaded":    up.BatchesUploaded,
		"eventsUploaded":     up.EventsUploaded,
		"uploadFailures":     up.Failures,
		"uploadsInFlight":    up.InFlight,
		"maxUploadsInFlight": up.MaxInFlight,
		"modelVersion":       c.holder.Version(),
		"modelSwaps":         c.holder.Swaps(),
	}
	if c.rewards != nil {
		stats["rewardsSent"] = c.rewards.Sent()
		stats["rewardFailures"] = c.rewards.Failed()
	}
	return stats
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ranking.ErrNoModel):
		return "no_model"
	case errors.Is(err, ranking.ErrBadModel):
		return "bad_model"
	case errors.Is(err, ranking.ErrNoActions):
		return "no_actions"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "ranker_error"
	}
}
