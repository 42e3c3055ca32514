package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/decisionlog/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.QueueCapacity, convey.ShouldEqual, 10_000)
				convey.So(cfg.NumParallelConnections, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DECISIONLOG_ADDR", ":8080")
			_ = os.Setenv("DECISIONLOG_QUEUE_CAPACITY", "64")
			_ = os.Setenv("DECISIONLOG_NUM_PARALLEL_CONNECTIONS", "8")
			_ = os.Setenv("DECISIONLOG_CERT_VALIDATION_DISABLED", "true")
			_ = os.Setenv("DECISIONLOG_INTERACTION_ENDPOINT", "https://dsn/interaction")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueCapacity, convey.ShouldEqual, 64)
				convey.So(cfg.NumParallelConnections, convey.ShouldEqual, 8)
				convey.So(cfg.CertValidationDisabled, convey.ShouldBeTrue)
				convey.So(cfg.InteractionEndpoint, convey.ShouldEqual, "https://dsn/interaction")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":7070"
queue_capacity: 500
batch_max_bytes: 1024
batch_flush_interval_ms: 5
compression: zstd
model_url: "http://models/current"
`
			tmpFile := createTempConfigFile(t, yamlContent)
			_ = os.Setenv("DECISIONLOG_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.QueueCapacity, convey.ShouldEqual, 500)
				convey.So(cfg.BatchMaxBytes, convey.ShouldEqual, 1024)
				convey.So(cfg.BatchFlushIntervalMS, convey.ShouldEqual, 5)
				convey.So(cfg.Compression, convey.ShouldEqual, "zstd")
				convey.So(cfg.ModelURL, convey.ShouldEqual, "http://models/current")
				convey.So(cfg.NumParallelConnections, convey.ShouldEqual, 4) // From defaults
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(t, "addr: \":7070\"\nqueue_capacity: 500\n")
			_ = os.Setenv("DECISIONLOG_CONFIG", tmpFile)
			_ = os.Setenv("DECISIONLOG_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")      // Overridden by env
				convey.So(cfg.QueueCapacity, convey.ShouldEqual, 500) // From file
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			_ = os.Setenv("DECISIONLOG_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("DECISIONLOG_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an invalid value", func() {
			_ = os.Setenv("DECISIONLOG_COMPRESSION", "brotli")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "compression")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, name := range []string{
		"DECISIONLOG_CONFIG",
		"DECISIONLOG_ADDR",
		"DECISIONLOG_QUEUE_CAPACITY",
		"DECISIONLOG_NUM_PARALLEL_CONNECTIONS",
		"DECISIONLOG_CERT_VALIDATION_DISABLED",
		"DECISIONLOG_INTERACTION_ENDPOINT",
		"DECISIONLOG_COMPRESSION",
	} {
		_ = os.Unsetenv(name)
	}
}
