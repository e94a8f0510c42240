package diagnostics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"
)

type exporterCounter struct {
	name        string
	description string
	unit        string
	value       func(*ExporterStats) *atomic.Int64
}

var exporterCounters = []exporterCounter{
	{"otlp_pipeline.exporter.recorded", "Signal instances accepted by the exporter", "{items}",
		func(s *ExporterStats) *atomic.Int64 { return s.Recorded }},
	{"otlp_pipeline.exporter.exported", "Signal instances acknowledged by the collector", "{items}",
		func(s *ExporterStats) *atomic.Int64 { return s.Exported }},
	{"otlp_pipeline.exporter.dropped", "Signal instances dropped after an unrecoverable failure", "{items}",
		func(s *ExporterStats) *atomic.Int64 { return s.Dropped }},
	{"otlp_pipeline.exporter.attempts", "Batch transmission attempts", "{attempts}",
		func(s *ExporterStats) *atomic.Int64 { return s.Attempts }},
	{"otlp_pipeline.exporter.retries", "Batch transmission retries", "{attempts}",
		func(s *ExporterStats) *atomic.Int64 { return s.Retries }},
	{"otlp_pipeline.exporter.failed_batches", "Batches given up on after retries were exhausted", "{batches}",
		func(s *ExporterStats) *atomic.Int64 { return s.FailedBatches }},
	{"otlp_pipeline.exporter.flushes", "Batch flushes performed", "{flushes}",
		func(s *ExporterStats) *atomic.Int64 { return s.Flushes }},
}

// RegisterMetrics registers every counter as an observable instrument on meter.
// The meter must belong to a provider outside the pipeline being observed.
func (m *Manager) RegisterMetrics(meter metric.Meter) error {
	for _, c := range exporterCounters {
		c := c
		_, err := meter.Int64ObservableCounter(
			c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				for _, name := range []string{SignalTraces, SignalMetrics, SignalLogs} {
					o.Observe(c.value(m.exporters[name]).Load(),
						metric.WithAttributes(attribute.String("signal", name)))
				}
				return nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to register %s counter: %w", c.name, err)
		}
	}

	// Register the misuse counter
	_, err := m.registerProducerCounter(meter,
		"otlp_pipeline.producer.misuse",
		"Telemetry API calls rejected as programmer errors",
		m.misuse)
	if err != nil {
		return err
	}

	// Register the internal error counter
	_, err = m.registerProducerCounter(meter,
		"otlp_pipeline.producer.internal_errors",
		"Faults swallowed inside telemetry API calls",
		m.internalErrors)
	return err
}

func (m *Manager) registerProducerCounter(meter metric.Meter, name, description string, v *atomic.Int64) (metric.Int64ObservableCounter, error) {
	c, err := meter.Int64ObservableCounter(
		name,
		metric.WithDescription(description),
		metric.WithUnit("{calls}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(v.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s counter: %w", name, err)
	}
	return c, nil
}
