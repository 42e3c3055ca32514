package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/okian/decisionlog/pkg/logger"
)

const (
	directoryPermission = 0o750
	filePermission      = 0o600
	maxReportedProblems = 10
	probabilityEpsilon  = 1e-6
)

// ErrVerification is returned when ranked results or service counters do not
// match what was sent.
var ErrVerification = errors.New("verification failed")

// Run executes a complete load run and returns its statistics.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting decision client load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("events", cfg.NumEvents),
		logger.Int("actions", cfg.NumActions),
		logger.Float64("rewardRate", cfg.RewardRate),
		logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	if err := client.Get(ctx, "/healthz", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	reqs, err := generateRequests(ctx, cfg, stats)
	if err != nil {
		return stats, err
	}

	results := submitRequests(ctx, cfg, client, reqs, stats)

	if cfg.SettleTime > 0 {
		log.Info(ctx, "waiting for uploads to settle", logger.String("settle", cfg.SettleTime.String()))
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(cfg.SettleTime):
		}
	}

	if err := client.Get(ctx, "/stats", &stats.ServiceStats); err != nil {
		return stats, fmt.Errorf("stats retrieval failed: %w", err)
	}

	if cfg.OutputFile != "" {
		if err := saveResults(cfg.OutputFile, results); err != nil {
			log.Warn(ctx, "failed to save results", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if err := verifyResults(reqs, results, stats); err != nil {
		return stats, err
	}
	log.Info(ctx, "load run completed successfully")
	return stats, nil
}

// verifyResults checks every successful rank response against its request
// and the service counters against the client-side totals.
func verifyResults(reqs []Request, results []Result, stats *Stats) error {
	var result *multierror.Error
	problems := 0
	report := func(err error) {
		problems++
		if problems <= maxReportedProblems {
			result = multierror.Append(result, err)
		}
	}

	for i, res := range results {
		if res.EventID == "" {
			continue
		}
		if err := checkResult(reqs[i], res); err != nil {
			report(err)
		}
	}

	if ranked, ok := stats.ServiceStats["eventsRanked"].(float64); ok && int(ranked) < stats.EventsRanked {
		report(fmt.Errorf("service counted %d ranked events, expected at least %d", int(ranked), stats.EventsRanked))
	}

	if problems == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d problems: %w", ErrVerification, problems, result.ErrorOrNil())
}

func checkResult(req Request, res Result) error {
	if res.EventID != req.EventID {
		return fmt.Errorf("event %s answered as %s", req.EventID, res.EventID)
	}
	if len(res.Ranking) != len(req.DefaultRanking) || len(res.Probabilities) != len(res.Ranking) {
		return fmt.Errorf("event %s: ranking has %d actions and %d probabilities, sent %d",
			req.EventID, len(res.Ranking), len(res.Probabilities), len(req.DefaultRanking))
	}

	want := make(map[int]int, len(req.DefaultRanking))
	for _, a := range req.DefaultRanking {
		want[a]++
	}
	for _, a := range res.Ranking {
		want[a]--
	}
	for a, n := range want {
		if n != 0 {
			return fmt.Errorf("event %s: action %d is not a permutation member", req.EventID, a)
		}
	}

	sum := 0.0
	for _, p := range res.Probabilities {
		sum += p
	}
	if math.Abs(sum-1) > probabilityEpsilon {
		return fmt.Errorf("event %s: probabilities sum to %f", req.EventID, sum)
	}
	return nil
}

func saveResults(filename string, results []Result) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	logger.Get().Info(context.Background(), "results saved to file", logger.String("filename", filename))
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var eventsPerSecond float64
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsRanked) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsRanked", stats.EventsRanked),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("rewardsSent", stats.RewardsSent),
		logger.Int("rewardsFailed", stats.RewardsFailed),
		logger.Any("serviceOverflow", stats.ServiceStats["overflowCount"]),
		logger.Any("serviceUploaded", stats.ServiceStats["eventsUploaded"]),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
