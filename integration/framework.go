// Package integration provides a framework for end-to-end testing of the
// telemetry pipeline against an in-process OTLP/gRPC collector.
package integration

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/collectortest"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/config"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/otlp"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/pipeline"
)

// TestOption defines functional options for configuring the test framework
type TestOption func(*TestFramework)

// ConfigOption adjusts the pipeline configuration before it is built
type ConfigOption func(*config.Config)

// TestFramework runs one pipeline against one collector
type TestFramework struct {
	// Test configuration
	t      testing.TB
	logger *zap.Logger

	// Components
	Collector  *collectortest.Collector
	Controller *pipeline.Controller
	Config     *config.Config
}

// WithLogger specifies a custom logger for the pipeline
func WithLogger(logger *zap.Logger) TestOption {
	return func(tf *TestFramework) {
		tf.logger = logger
	}
}

// WithRetry sets the retry budget and a fast backoff
func WithRetry(maxAttempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Retry.Enabled = true
		cfg.Retry.MaxAttempts = maxAttempts
		cfg.Retry.InitialInterval = 5 * time.Millisecond
		cfg.Retry.MaxInterval = 20 * time.Millisecond
		cfg.Retry.RandomizationFactor = 0
	}
}

// WithQueueSize sets the per-exporter queue and batch sizes
func WithQueueSize(queue, batch int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Batch.MaxQueueSize = queue
		cfg.Batch.MaxExportBatchSize = batch
	}
}

// WithSpool enables the dead-letter spool in a temporary directory
func WithSpool(path string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Spool.Path = path
	}
}

// NewTestFramework starts a collector and returns a framework ready for Setup
func NewTestFramework(t testing.TB, options ...TestOption) *TestFramework {
	t.Helper()
	tf := &TestFramework{
		t:         t,
		logger:    zaptest.NewLogger(t, zaptest.Level(zapcore.InfoLevel)),
		Collector: collectortest.Start(t),
	}
	for _, opt := range options {
		opt(tf)
	}
	return tf
}

// Setup builds a pipeline exporting to the framework's collector over gRPC.
// Timer-driven flushes are pushed out of the way so tests decide when
// batches leave.
func (tf *TestFramework) Setup(options ...ConfigOption) *pipeline.Controller {
	tf.t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Service.Name = "integration-test"
	cfg.Exporter.Transport = otlp.TransportGRPC
	cfg.Exporter.Endpoint = tf.Collector.Endpoint()
	cfg.Exporter.Insecure = true
	cfg.Batch.MaxAge = time.Hour
	cfg.Retry.Enabled = false
	cfg.Shutdown.Timeout = 10 * time.Second
	cfg.Diagnostics.ReportSchedule = ""
	cfg.RuntimeMetrics.Enabled = false
	for _, opt := range options {
		opt(cfg)
	}

	controller, err := pipeline.New(cfg, pipeline.WithLogger(tf.logger))
	if err != nil {
		tf.t.Fatalf("failed to create pipeline: %v", err)
	}
	tf.t.Cleanup(func() {
		_ = controller.ShutdownAll(context.Background())
	})

	tf.Config = cfg
	tf.Controller = controller
	return controller
}

// Stats returns the counters of the exporter for signal
func (tf *TestFramework) Stats(signal string) diagnostics.ExporterSnapshot {
	return tf.Controller.Diagnostics().Exporter(signal).Snapshot()
}

// VerifyAccounting checks that every recorded item was either exported or
// dropped, once the exporter has stopped.
func (tf *TestFramework) VerifyAccounting(signal string) error {
	s := tf.Stats(signal)
	if s.Recorded != s.Exported+s.Dropped {
		return fmt.Errorf("%s: recorded %d != exported %d + dropped %d",
			signal, s.Recorded, s.Exported, s.Dropped)
	}
	return nil
}

// ExportedSpanIDs returns the hex ids of every span the collector accepted
func (tf *TestFramework) ExportedSpanIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, s := range tf.Collector.Spans() {
		ids[hex.EncodeToString(s.GetSpanId())] = struct{}{}
	}
	return ids
}
