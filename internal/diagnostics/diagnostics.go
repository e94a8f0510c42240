// Package diagnostics keeps the pipeline's self-diagnostic counters. Nothing in
// here ever exports through the pipeline it describes; counters are read by
// the side-channel reporter and, optionally, by an external meter.
package diagnostics

import (
	"fmt"
	"sort"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Signal names used as the "signal" attribute and as exporter names.
const (
	SignalTraces  = "traces"
	SignalMetrics = "metrics"
	SignalLogs    = "logs"
)

// ExporterStats holds the counters of one batching exporter.
type ExporterStats struct {
	// Items
	Recorded *atomic.Int64
	Exported *atomic.Int64
	Dropped  *atomic.Int64

	// Transmission
	Attempts      *atomic.Int64
	Retries       *atomic.Int64
	FailedBatches *atomic.Int64
	Flushes       *atomic.Int64
}

// NewExporterStats creates zeroed exporter counters.
func NewExporterStats() *ExporterStats {
	return &ExporterStats{
		Recorded:      atomic.NewInt64(0),
		Exported:      atomic.NewInt64(0),
		Dropped:       atomic.NewInt64(0),
		Attempts:      atomic.NewInt64(0),
		Retries:       atomic.NewInt64(0),
		FailedBatches: atomic.NewInt64(0),
		Flushes:       atomic.NewInt64(0),
	}
}

// ExporterSnapshot is a point-in-time copy of ExporterStats.
type ExporterSnapshot struct {
	Recorded      int64
	Exported      int64
	Dropped       int64
	Attempts      int64
	Retries       int64
	FailedBatches int64
	Flushes       int64
}

// Snapshot copies the current counter values.
func (s *ExporterStats) Snapshot() ExporterSnapshot {
	return ExporterSnapshot{
		Recorded:      s.Recorded.Load(),
		Exported:      s.Exported.Load(),
		Dropped:       s.Dropped.Load(),
		Attempts:      s.Attempts.Load(),
		Retries:       s.Retries.Load(),
		FailedBatches: s.FailedBatches.Load(),
		Flushes:       s.Flushes.Load(),
	}
}

// Manager owns every counter of a pipeline.
type Manager struct {
	exporters map[string]*ExporterStats

	// Producer faults
	misuse         *atomic.Int64
	internalErrors *atomic.Int64

	logger *zap.Logger
}

// NewManager creates a manager with stats for the traces, metrics and logs
// exporters. The logger is the side channel: it must never feed back into the
// pipeline.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		exporters: map[string]*ExporterStats{
			SignalTraces:  NewExporterStats(),
			SignalMetrics: NewExporterStats(),
			SignalLogs:    NewExporterStats(),
		},
		misuse:         atomic.NewInt64(0),
		internalErrors: atomic.NewInt64(0),
		logger:         logger,
	}
}

// Exporter returns the stats of the named exporter. It panics on names other
// than the three signal names.
func (m *Manager) Exporter(name string) *ExporterStats {
	if s, ok := m.exporters[name]; ok {
		return s
	}
	panic(fmt.Sprintf("diagnostics: unknown exporter %q", name))
}

// Logger returns the side-channel logger.
func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// Misuse records a programmer error such as ending a span twice.
func (m *Manager) Misuse(op string, fields ...zap.Field) {
	m.misuse.Inc()
	m.logger.Debug("Telemetry API misuse", append([]zap.Field{zap.String("op", op)}, fields...)...)
}

// InternalError records a fault inside a producer call.
func (m *Manager) InternalError(op string, err error) {
	m.internalErrors.Inc()
	m.logger.Warn("Telemetry internal error", zap.String("op", op), zap.Error(err))
}

// MisuseCount returns the number of misuse events so far.
func (m *Manager) MisuseCount() int64 {
	return m.misuse.Load()
}

// InternalErrorCount returns the number of internal errors so far.
func (m *Manager) InternalErrorCount() int64 {
	return m.internalErrors.Load()
}

// Recover turns a panic inside a producer call into an internal error. It must
// be called directly by defer.
func (m *Manager) Recover(op string) {
	if r := recover(); r != nil {
		m.InternalError(op, fmt.Errorf("panic: %v", r))
	}
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Exporters      map[string]ExporterSnapshot
	Misuse         int64
	InternalErrors int64
}

// Snapshot copies the current counter values.
func (m *Manager) Snapshot() Snapshot {
	snap := Snapshot{
		Exporters:      make(map[string]ExporterSnapshot, len(m.exporters)),
		Misuse:         m.misuse.Load(),
		InternalErrors: m.internalErrors.Load(),
	}
	for name, s := range m.exporters {
		snap.Exporters[name] = s.Snapshot()
	}
	return snap
}

// Report logs the current counters on the side channel.
func (m *Manager) Report() {
	snap := m.Snapshot()

	names := make([]string, 0, len(snap.Exporters))
	for name := range snap.Exporters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := snap.Exporters[name]
		m.logger.Info("Exporter statistics",
			zap.String("signal", name),
			zap.Int64("recorded", s.Recorded),
			zap.Int64("exported", s.Exported),
			zap.Int64("dropped", s.Dropped),
			zap.Int64("attempts", s.Attempts),
			zap.Int64("retries", s.Retries),
			zap.Int64("failed_batches", s.FailedBatches),
			zap.Int64("flushes", s.Flushes))
	}
	m.logger.Info("Producer statistics",
		zap.Int64("misuse", snap.Misuse),
		zap.Int64("internal_errors", snap.InternalErrors))
}
