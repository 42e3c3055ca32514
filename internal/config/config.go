// Package config defines the decision client configuration and how it is
// loaded.
//
// Conventions:
// - Durations are integer milliseconds in files and env vars and are exposed
//   as time.Duration through accessor methods.
// - New(ctx) returns defaults; Load(ctx) layers a YAML file and env vars on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/decisionlog/pkg/logger"
)

// Compression values accepted for uploads.
var compressions = map[string]bool{"none": true, "gzip": true, "zstd": true}

// Config contains process configuration. It is immutable once handed to the
// client.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9090".
	Addr string `koanf:"addr"`

	// QueueCapacity bounds the number of serialized events awaiting upload.
	QueueCapacity int `koanf:"queue_capacity"`

	// NumParallelConnections is the number of concurrent upload connections.
	NumParallelConnections int `koanf:"num_parallel_connections"`

	// BatchMaxBytes caps the size of one uploaded batch.
	BatchMaxBytes int `koanf:"batch_max_bytes"`

	// BatchFlushIntervalMS is how long the uploader sleeps on an empty queue.
	BatchFlushIntervalMS int `koanf:"batch_flush_interval_ms"`

	// InteractionEndpoint receives batched ranking events.
	InteractionEndpoint string `koanf:"interaction_endpoint"`

	// ObservationEndpoint receives rewards.
	ObservationEndpoint string `koanf:"observation_endpoint"`

	// APIKey is sent as a bearer token to every endpoint.
	APIKey string `koanf:"api_key"`

	// CertValidationDisabled turns off TLS certificate verification.
	CertValidationDisabled bool `koanf:"cert_validation_disabled"`

	// UploadTimeoutMS bounds a single upload or reward request.
	UploadTimeoutMS int `koanf:"upload_timeout_ms"`

	// Compression selects the upload body encoding: none, gzip or zstd.
	Compression string `koanf:"compression"`

	// ModelPath and ModelURL name the model source. At most one may be set.
	ModelPath string `koanf:"model_path"`
	ModelURL  string `koanf:"model_url"`

	// ModelRefreshIntervalMS is the model polling interval.
	ModelRefreshIntervalMS int `koanf:"model_refresh_interval_ms"`

	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":9090",
		QueueCapacity:          10_000,
		NumParallelConnections: 4,
		BatchMaxBytes:          256 << 10,
		BatchFlushIntervalMS:   100,
		UploadTimeoutMS:        5_000,
		Compression:            "none",
		ModelRefreshIntervalMS: 60_000,
		ShutdownTimeoutMS:      30_000,
	}
}

// Validate checks ranges and mutually exclusive settings.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Addr) == "" {
		problems = append(problems, "addr must not be empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log_level %q is not a level", c.LogLevel))
	}
	positive := []struct {
		name  string
		value int
	}{
		{"queue_capacity", c.QueueCapacity},
		{"num_parallel_connections", c.NumParallelConnections},
		{"batch_max_bytes", c.BatchMaxBytes},
		{"batch_flush_interval_ms", c.BatchFlushIntervalMS},
		{"upload_timeout_ms", c.UploadTimeoutMS},
		{"model_refresh_interval_ms", c.ModelRefreshIntervalMS},
		{"shutdown_timeout_ms", c.ShutdownTimeoutMS},
	}
	for _, p := range positive {
		if p.value <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", p.name))
		}
	}
	if !compressions[strings.ToLower(c.Compression)] {
		problems = append(problems, fmt.Sprintf("compression %q must be none, gzip or zstd", c.Compression))
	}
	kind := ErrInvalidConfig
	if c.ModelPath != "" && c.ModelURL != "" {
		kind = ErrModelSourceConflict
		problems = append(problems, "model_path and model_url are mutually exclusive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", kind, strings.Join(problems, "; "))
	}
	return nil
}

// BatchFlushInterval returns BatchFlushIntervalMS as a duration.
func (c *Config) BatchFlushInterval() time.Duration {
	return time.Duration(c.BatchFlushIntervalMS) * time.Millisecond
}

// UploadTimeout returns UploadTimeoutMS as a duration.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutMS) * time.Millisecond
}

// ModelRefreshInterval returns ModelRefreshIntervalMS as a duration.
func (c *Config) ModelRefreshInterval() time.Duration {
	return time.Duration(c.ModelRefreshIntervalMS) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}
