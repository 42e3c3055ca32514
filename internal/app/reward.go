package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/decisionlog/internal/adapters/sink"
	"github.com/okian/decisionlog/internal/domain/codec"
	"github.com/okian/decisionlog/internal/domain/model"
	"github.com/okian/decisionlog/pkg/logger"
	"github.com/okian/decisionlog/pkg/metrics"
)

// RewardReporter sends reward records straight to the observation sink,
// bypassing the interaction queue. Each call is one synchronous send.
type RewardReporter struct {
	sink   sink.EventSink
	logger logger.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// NewRewardReporter creates a reporter for s.
func NewRewardReporter(s sink.EventSink, l logger.Logger) *RewardReporter {
	if l == nil {
		l = logger.Nop()
	}
	return &RewardReporter{sink: s, logger: l}
}

// Report builds a reward record and sends it. Send failures are returned to
// the caller; they are not retried.
func (r *RewardReporter) Report(ctx context.Context, eventID string, value any) error {
	rec, err := model.NewRewardRecord(eventID, value)
	if err != nil {
		return err
	}
	payload, err := codec.EncodeReward(&rec)
	if err != nil {
		return err
	}

	start := time.Now()
	status, err := r.sink.Send(ctx, payload)
	metrics.RecordRewardLatency(float64(time.Since(start).Microseconds()) / 1000)

	switch {
	case err != nil:
		r.failed.Add(1)
		metrics.RecordRewardError("transport")
		metrics.RecordErrorByComponent("reward_reporter", "transport")
		r.logger.Error(ctx, "reward send failed",
			logger.String("event_id", eventID),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrRewardTransport, err)
	case status != sink.StatusSuccess:
		r.failed.Add(1)
		metrics.RecordRewardError("rejected")
		metrics.RecordErrorByComponent("reward_reporter", "rejected")
		r.logger.Error(ctx, "reward rejected by sink", logger.String("event_id", eventID))
		return fmt.Errorf("%w: event %s", ErrRewardRejected, eventID)
	}

	r.sent.Add(1)
	metrics.RecordRewardSent()
	return nil
}

// Sent returns the number of rewards accepted by the sink.
func (r *RewardReporter) Sent() int64 { return r.sent.Load() }

// Failed returns the number of rewards that could not be delivered.
func (r *RewardReporter) Failed() int64 { return r.failed.Load() }
