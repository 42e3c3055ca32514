package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/okian/decisionlog/internal/adapters/http/api"
	"github.com/okian/decisionlog/internal/adapters/modelsource"
	"github.com/okian/decisionlog/internal/adapters/sink"
	service "github.com/okian/decisionlog/internal/app"
	"github.com/okian/decisionlog/internal/config"
	"github.com/okian/decisionlog/internal/domain/modelslot"
	"github.com/okian/decisionlog/pkg/logger"
	"github.com/okian/decisionlog/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	systemMetricsInterval = 10 * time.Second
	clientMetricsInterval = 5 * time.Second
)

func main() {
	// We export our own registry; drop the default collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "decision client exited with error", logger.Error(err))
		return
	}
	log.Info(ctx, "server stopped")
}

// run serves the HTTP API until ctx is cancelled, then shuts the server and
// the client down within the configured timeout.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	client, err := buildClient(cfg, log)
	if err != nil {
		return err
	}
	// Uploads must outlive the signal so that Shutdown can drain in-flight batches.
	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	mux := http.NewServeMux()
	api.NewServer(client).Register(ctx, mux)
	srv := newHTTPServer(cfg.Addr, mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startClientMetricsUpdater(gctx, client)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()

		var result *multierror.Error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("server shutdown: %w", err))
		}
		if err := client.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("client shutdown: %w", err))
		}
		return result.ErrorOrNil()
	})

	return g.Wait()
}

// buildClient wires the sinks and model source named by cfg into a client.
func buildClient(cfg *config.Config, log logger.Logger) (*service.Client, error) {
	sinkOpts := []sink.HTTPOption{
		sink.WithAPIKey(cfg.APIKey),
		sink.WithCompression(cfg.Compression),
		sink.WithInsecureSkipVerify(cfg.CertValidationDisabled),
		sink.WithTimeout(cfg.UploadTimeout()),
	}
	conns, err := sink.NewHTTPPool(cfg.NumParallelConnections, cfg.InteractionEndpoint, sinkOpts...)
	if err != nil {
		return nil, fmt.Errorf("interaction sinks: %w", err)
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithInteractionSinks(conns...),
		service.WithQueueCapacity(cfg.QueueCapacity),
		service.WithBatchMaxBytes(cfg.BatchMaxBytes),
		service.WithFlushInterval(cfg.BatchFlushInterval()),
		service.WithModelRefreshInterval(cfg.ModelRefreshInterval()),
	}

	if cfg.ObservationEndpoint != "" {
		// Rewards go out uncompressed; they are single small records.
		obs, err := sink.NewHTTPSink(cfg.ObservationEndpoint,
			sink.WithAPIKey(cfg.APIKey),
			sink.WithInsecureSkipVerify(cfg.CertValidationDisabled),
			sink.WithTimeout(cfg.UploadTimeout()),
			sink.WithContentType("application/json"),
		)
		if err != nil {
			return nil, fmt.Errorf("observation sink: %w", err)
		}
		opts = append(opts, service.WithObservationSink(obs))
	}

	src, err := buildModelSource(cfg)
	if err != nil {
		return nil, err
	}
	if src != nil {
		opts = append(opts, service.WithModelSource(src))
	}

	return service.New(opts...)
}

// buildModelSource returns nil when no model source is configured.
func buildModelSource(cfg *config.Config) (modelslot.Source, error) {
	switch {
	case cfg.ModelPath != "":
		src, err := modelsource.NewFileSource(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("model source: %w", err)
		}
		return src, nil
	case cfg.ModelURL != "":
		src, err := modelsource.NewHTTPSource(cfg.ModelURL,
			modelsource.WithAPIKey(cfg.APIKey),
			modelsource.WithInsecureSkipVerify(cfg.CertValidationDisabled),
			modelsource.WithTimeout(cfg.UploadTimeout()),
		)
		if err != nil {
			return nil, fmt.Errorf("model source: %w", err)
		}
		return src, nil
	default:
		return nil, nil
	}
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater updates system metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startClientMetricsUpdater refreshes client gauges until ctx is done.
func startClientMetricsUpdater(ctx context.Context, stats api.StatsProvider) {
	ticker := time.NewTicker(clientMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateClientMetrics(stats)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func updateClientMetrics(stats api.StatsProvider) {
	s := stats.GetStats()

	queueLen, okLen := s["queueLength"].(int)
	queueCap, okCap := s["queueCapacity"].(int)
	if okLen && okCap && queueCap > 0 {
		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateQueueCapacity(queueCap)
		metrics.UpdateQueueUtilization(float64(queueLen) / float64(queueCap))
	}
	if conns, ok := s["connections"].(int); ok {
		metrics.UpdateUploadConnections(conns)
	}
}
