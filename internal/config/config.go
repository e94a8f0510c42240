// Package config loads the configuration of the demo pipeline.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/exporter"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/logging"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/otlp"
)

// Config is the complete configuration of the process. It is static for the
// process lifetime.
type Config struct {
	Service        ServiceConfig        `koanf:"service"`
	Resource       ResourceConfig       `koanf:"resource"`
	Exporter       otlp.Config          `koanf:"exporter"`
	Batch          exporter.BatchConfig `koanf:"batch"`
	Retry          exporter.RetryConfig `koanf:"retry"`
	Shutdown       ShutdownConfig       `koanf:"shutdown"`
	Spool          SpoolConfig          `koanf:"spool"`
	Diagnostics    DiagnosticsConfig    `koanf:"diagnostics"`
	RuntimeMetrics RuntimeMetricsConfig `koanf:"runtime_metrics"`
	Workload       WorkloadConfig       `koanf:"workload"`
	Logging        logging.Config       `koanf:"logging"`
}

// ServiceConfig identifies the emitting service.
type ServiceConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// ResourceConfig lists extra resource attributes. Keys usually contain dots,
// so attributes are a list rather than a map.
type ResourceConfig struct {
	Attributes []ResourceAttribute `koanf:"attributes"`
}

// ResourceAttribute is one resource attribute.
type ResourceAttribute struct {
	Key   string `koanf:"key"`
	Value any    `koanf:"value"`
}

// ShutdownConfig bounds the final flush.
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// SpoolConfig enables the dead-letter spool when Path is set.
type SpoolConfig struct {
	Path string `koanf:"path"`
}

// DiagnosticsConfig controls the self-diagnostics surface.
type DiagnosticsConfig struct {
	// ListenAddr serves /metrics when set, e.g. "localhost:9464".
	ListenAddr string `koanf:"listen_addr"`

	// ReportSchedule is the cron schedule of the counter report on the
	// console logger. Empty disables the report.
	ReportSchedule string `koanf:"report_schedule"`
}

// RuntimeMetricsConfig controls Go runtime sampling.
type RuntimeMetricsConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
}

// WorkloadConfig configures the demo iterations.
type WorkloadConfig struct {
	Iterations  int           `koanf:"iterations"`
	Interval    time.Duration `koanf:"interval"`
	TargetURL   string        `koanf:"target_url"`
	HTTPTimeout time.Duration `koanf:"http_timeout"`
}

// NewDefaultConfig returns the configuration used when nothing overrides it.
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:    "otlp-demo",
			Version: "1.0.0",
		},
		Resource: ResourceConfig{
			Attributes: []ResourceAttribute{
				{Key: "deployment.environment", Value: "staging"},
			},
		},
		Exporter: otlp.DefaultConfig(),
		Batch:    exporter.DefaultBatchConfig(),
		Retry:    exporter.DefaultRetryConfig(),
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			ReportSchedule: "@every 1m",
		},
		RuntimeMetrics: RuntimeMetricsConfig{
			Enabled:  true,
			Schedule: "@every 10s",
		},
		Workload: WorkloadConfig{
			Iterations:  5,
			Interval:    time.Second,
			TargetURL:   "https://example.com/",
			HTTPTimeout: 10 * time.Second,
		},
		Logging: logging.NewDefaultConfig(),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name must be specified")
	}
	for i, attr := range c.Resource.Attributes {
		if attr.Key == "" {
			return fmt.Errorf("resource.attributes[%d]: key must be specified", i)
		}
	}

	if err := c.Exporter.Validate(); err != nil {
		return fmt.Errorf("exporter: %w", err)
	}
	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive, got %s", c.Shutdown.Timeout)
	}

	if c.Diagnostics.ReportSchedule != "" {
		if _, err := cron.ParseStandard(c.Diagnostics.ReportSchedule); err != nil {
			return fmt.Errorf("invalid diagnostics.report_schedule: %w", err)
		}
	}
	if c.RuntimeMetrics.Enabled {
		if _, err := cron.ParseStandard(c.RuntimeMetrics.Schedule); err != nil {
			return fmt.Errorf("invalid runtime_metrics.schedule: %w", err)
		}
	}

	if c.Workload.Iterations < 0 {
		return fmt.Errorf("workload.iterations must not be negative, got %d", c.Workload.Iterations)
	}
	if c.Workload.Interval < 0 {
		return fmt.Errorf("workload.interval must not be negative, got %s", c.Workload.Interval)
	}
	if c.Workload.HTTPTimeout <= 0 {
		return fmt.Errorf("workload.http_timeout must be positive, got %s", c.Workload.HTTPTimeout)
	}
	if _, err := url.ParseRequestURI(c.Workload.TargetURL); err != nil {
		return fmt.Errorf("invalid workload.target_url: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
