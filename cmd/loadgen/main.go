package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/decisionlog/internal/loadgen"
	"github.com/okian/decisionlog/pkg/logger"
)

// Default configuration constants.
const (
	defaultNumEvents   = 10000
	defaultNumActions  = 5
	defaultRewardRate  = 0.3
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultSettleTime  = 2 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9090", "Base URL of the decision client")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of rank requests to send")
		numActions = flag.Int("actions", defaultNumActions, "Number of actions in each default ranking")
		rewardRate = flag.Float64("reward-rate", defaultRewardRate, "Share of ranked events that receive a reward")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettleTime, "Wait before reading service stats")
		outputFile = flag.String("output", "", "Write rank results to this JSON file")
		verbose    = flag.Bool("verbose", false, "Log every failed request")
		level      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(*level); err != nil {
		os.Stderr.WriteString("invalid log level: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *numEvents < 1 || *numActions < 1 || *workers < 1 || *rewardRate < 0 || *rewardRate > 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:    *baseURL,
		NumEvents:  *numEvents,
		NumActions: *numActions,
		RewardRate: *rewardRate,
		Workers:    *workers,
		Timeout:    *timeout,
		SettleTime: *settle,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	}

	if _, err := loadgen.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		cancel()
		stop()
		os.Exit(1)
	}
}
