package producer

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

var defaultBounds = []float64{0, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500, 5000, 7500, 10000}

// DefaultBounds returns a copy of the explicit histogram bucket boundaries used
// when an instrument does not set its own.
func DefaultBounds() []float64 {
	return append([]float64(nil), defaultBounds...)
}

// Meter creates instruments and records their measurements as metric points.
type Meter struct {
	// Configuration
	scope    signal.Scope
	resource *signal.Resource

	// Output
	recorder Recorder[signal.MetricPoint]
	diag     *diagnostics.Manager

	mu          sync.Mutex
	instruments map[string]*instrument
}

// NewMeter creates a new meter recording points into recorder.
func NewMeter(settings Settings, recorder Recorder[signal.MetricPoint]) *Meter {
	return &Meter{
		scope:       settings.Scope,
		resource:    settings.Resource,
		recorder:    recorder,
		diag:        settings.diag(),
		instruments: make(map[string]*instrument),
	}
}

// Instrument is implemented by every instrument type a Meter creates.
type Instrument interface {
	descriptor() *instrument
}

type instrument struct {
	meter       *Meter
	name        string
	description string
	unit        string
	kind        signal.InstrumentKind
	isInt       bool
	bounds      []float64

	// Running total of a counter
	total *atomic.Float64
}

func (i *instrument) descriptor() *instrument {
	return i
}

// InstrumentOption configures an instrument.
type InstrumentOption func(*instrument)

// WithDescription sets the instrument description.
func WithDescription(description string) InstrumentOption {
	return func(i *instrument) {
		i.description = description
	}
}

// WithUnit sets the instrument unit.
func WithUnit(unit string) InstrumentOption {
	return func(i *instrument) {
		i.unit = unit
	}
}

// WithBounds sets the explicit bucket boundaries of a histogram. They must be
// strictly increasing.
func WithBounds(bounds ...float64) InstrumentOption {
	return func(i *instrument) {
		i.bounds = append([]float64(nil), bounds...)
	}
}

// Counter is a monotonic float64 sum.
type Counter struct{ *instrument }

// Int64Counter is a monotonic integer sum.
type Int64Counter struct{ *instrument }

// Gauge records the current value of something.
type Gauge struct{ *instrument }

// Histogram records a distribution of values.
type Histogram struct{ *instrument }

// Counter returns the float64 counter called name, creating it on first use.
func (m *Meter) Counter(name string, opts ...InstrumentOption) *Counter {
	return &Counter{m.instrument(name, signal.InstrumentCounter, false, opts)}
}

// Int64Counter returns the integer counter called name.
func (m *Meter) Int64Counter(name string, opts ...InstrumentOption) *Int64Counter {
	return &Int64Counter{m.instrument(name, signal.InstrumentCounter, true, opts)}
}

// Gauge returns the gauge called name.
func (m *Meter) Gauge(name string, opts ...InstrumentOption) *Gauge {
	return &Gauge{m.instrument(name, signal.InstrumentGauge, false, opts)}
}

// Int64Gauge returns the integer gauge called name.
func (m *Meter) Int64Gauge(name string, opts ...InstrumentOption) *Gauge {
	return &Gauge{m.instrument(name, signal.InstrumentGauge, true, opts)}
}

// Histogram returns the histogram called name.
func (m *Meter) Histogram(name string, opts ...InstrumentOption) *Histogram {
	return &Histogram{m.instrument(name, signal.InstrumentHistogram, false, opts)}
}

func (m *Meter) instrument(name string, kind signal.InstrumentKind, isInt bool, opts []InstrumentOption) *instrument {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.instruments[name]; ok {
		if existing.kind == kind && existing.isInt == isInt {
			return existing
		}
		// Keep the first registration; the conflicting one records unregistered
		m.diag.Misuse("meter.instrument",
			zap.String("instrument", name),
			zap.Stringer("registered", existing.kind),
			zap.Stringer("requested", kind))
	}

	inst := &instrument{
		meter: m,
		name:  name,
		kind:  kind,
		isInt: isInt,
		total: atomic.NewFloat64(0),
	}
	for _, opt := range opts {
		opt(inst)
	}
	if kind == signal.InstrumentHistogram && inst.bounds == nil {
		inst.bounds = DefaultBounds()
	}
	if _, ok := m.instruments[name]; !ok {
		m.instruments[name] = inst
	}
	return inst
}

// Record records value on inst. Counters reject negative deltas: the value is
// left unchanged and the call is counted as misuse.
func (m *Meter) Record(ctx context.Context, inst Instrument, value float64, attrs ...attribute.KeyValue) {
	if m == nil || inst == nil {
		return
	}
	defer m.diag.Recover("meter.record")

	d := inst.descriptor()
	if d == nil {
		return
	}
	d.record(ctx, value, attrs)
}

// Add adds a non-negative delta.
func (c *Counter) Add(ctx context.Context, delta float64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.record(ctx, delta, attrs)
}

// Value returns the sum of every accepted delta.
func (c *Counter) Value() float64 {
	if c == nil || c.instrument == nil {
		return 0
	}
	return c.total.Load()
}

// Add adds a non-negative delta.
func (c *Int64Counter) Add(ctx context.Context, delta int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.record(ctx, float64(delta), attrs)
}

// Value returns the sum of every accepted delta.
func (c *Int64Counter) Value() int64 {
	if c == nil || c.instrument == nil {
		return 0
	}
	return int64(c.total.Load())
}

// Record records the current value.
func (g *Gauge) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	if g == nil {
		return
	}
	g.record(ctx, value, attrs)
}

// Record records one observation.
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.record(ctx, value, attrs)
}

func (i *instrument) record(_ context.Context, value float64, attrs []attribute.KeyValue) {
	if i == nil {
		return
	}
	m := i.meter
	defer m.diag.Recover("meter.record")

	if math.IsNaN(value) || math.IsInf(value, 0) {
		m.diag.Misuse("meter.record", zap.String("instrument", i.name), zap.String("reason", "non-finite value"))
		return
	}
	if i.kind == signal.InstrumentCounter {
		if value < 0 {
			m.diag.Misuse("counter.add",
				zap.String("instrument", i.name),
				zap.Float64("delta", value))
			return
		}
		i.total.Add(value)
	}
	if i.isInt {
		value = math.Trunc(value)
	}

	point := signal.MetricPoint{
		Instrument:  i.name,
		Description: i.description,
		Unit:        i.unit,
		Kind:        i.kind,
		Int:         i.isInt,
		Value:       value,
		Bounds:      i.bounds,
		Time:        time.Now(),
		Scope:       m.scope,
		Resource:    m.resource,
	}
	point.Attributes, _ = signal.UpsertAttributes(nil, 0, attrs...)

	if m.recorder != nil {
		m.recorder.Record(point)
	}
}
