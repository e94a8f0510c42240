// Package pipeline wires producers, exporters and the transport into one
// explicitly constructed Controller. A process builds exactly one and passes
// it by reference; tests build as many independent ones as they need.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/config"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/exporter"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/otlp"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/producer"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/spool"
)

// Instrumentation scope of every signal the controller's producers emit.
const (
	ScopeName = "github.com/deepaksharma/otlp-signal-pipeline"
	Version   = "0.1.0"
)

// Controller owns the Resource, the three producers and one batching exporter
// per signal type for the lifetime of the process.
type Controller struct {
	// Configuration
	cfg      *config.Config
	resource *signal.Resource
	logger   *zap.Logger

	// Producers
	tracer *producer.Tracer
	meter  *producer.Meter
	log    *producer.Logger

	// Exporters
	traces  *exporter.Exporter[signal.SpanData]
	metrics *exporter.Exporter[signal.MetricPoint]
	logs    *exporter.Exporter[signal.LogRecord]

	transport otlp.Transport
	spool     *spool.Store
	diag      *diagnostics.Manager
	scheduler *cron.Cron

	shutdownOnce sync.Once
	shutdown     *atomic.Bool
}

type options struct {
	transport   otlp.Transport
	logger      *zap.Logger
	diagMeter   metric.Meter
	idGenerator signal.IDGenerator
}

// Option configures a Controller.
type Option func(*options)

// WithTransport sends to t instead of the transport built from the exporter
// configuration. The controller closes t on shutdown.
func WithTransport(t otlp.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithLogger sets the side-channel logger used for the pipeline's own
// diagnostics. It must not write into the pipeline.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDiagnosticsMeter registers the self-diagnostic counters on meter.
func WithDiagnosticsMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.diagMeter = meter
	}
}

// WithIDGenerator replaces the crypto/rand trace and span id source.
func WithIDGenerator(ids signal.IDGenerator) Option {
	return func(o *options) {
		o.idGenerator = ids
	}
}

// New builds and starts a pipeline from cfg.
func New(cfg *config.Config, opts ...Option) (_ *Controller, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger

	c := &Controller{
		cfg:       cfg,
		resource:  NewResource(cfg),
		logger:    logger,
		diag:      diagnostics.NewManager(logger),
		scheduler: cron.New(),
		shutdown:  atomic.NewBool(false),
	}

	defer func() {
		if err != nil {
			c.closeResources(context.Background())
		}
	}()

	c.transport = o.transport
	if c.transport == nil {
		if c.transport, err = otlp.NewTransport(cfg.Exporter, logger); err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
	}

	if cfg.Spool.Path != "" {
		if c.spool, err = spool.Open(cfg.Spool.Path, logger); err != nil {
			return nil, err
		}
	}

	if o.diagMeter != nil {
		if err = c.diag.RegisterMetrics(o.diagMeter); err != nil {
			return nil, fmt.Errorf("failed to register diagnostic metrics: %w", err)
		}
	}

	if err = c.buildExporters(); err != nil {
		return nil, err
	}

	settings := producer.Settings{
		Scope:       signal.Scope{Name: ScopeName, Version: Version},
		Resource:    c.resource,
		Diagnostics: c.diag,
	}
	var tracerOpts []producer.TracerOption
	if o.idGenerator != nil {
		tracerOpts = append(tracerOpts, producer.WithIDGenerator(o.idGenerator))
	}
	c.tracer = producer.NewTracer(settings, c.traces, tracerOpts...)
	c.meter = producer.NewMeter(settings, c.metrics)
	c.log = producer.NewLogger(settings, c.logs, signal.SeverityTrace)

	if err = c.schedule(); err != nil {
		return nil, err
	}

	c.traces.Start()
	c.metrics.Start()
	c.logs.Start()
	c.scheduler.Start()

	logger.Info("Pipeline started",
		zap.String("service", c.resource.ServiceName()),
		zap.String("transport", cfg.Exporter.Transport),
		zap.String("endpoint", cfg.Exporter.Endpoint))
	return c, nil
}

// NewResource builds the resource shared by every signal of a pipeline. The
// service identity from cfg.Service wins over same-named extra attributes.
func NewResource(cfg *config.Config) *signal.Resource {
	attrs := make([]attribute.KeyValue, 0, len(cfg.Resource.Attributes)+6)
	for _, a := range cfg.Resource.Attributes {
		attrs = append(attrs, signal.AttributeFromAny(a.Key, a.Value))
	}
	attrs = append(attrs,
		semconv.ServiceName(cfg.Service.Name),
		semconv.ServiceVersion(cfg.Service.Version),
		semconv.ServiceInstanceID(uuid.NewString()),
		semconv.TelemetrySDKName(ScopeName),
		semconv.TelemetrySDKLanguageGo,
		semconv.TelemetrySDKVersion(Version),
	)
	return signal.NewResource(attrs...)
}

func (c *Controller) buildExporters() error {
	var err error

	c.traces, err = exporter.New(diagnostics.SignalTraces, c.cfg.Batch, c.cfg.Retry,
		func(ctx context.Context, batch []signal.SpanData) error {
			return c.transport.ConsumeTraces(ctx, otlp.Traces(batch))
		},
		c.diag.Exporter(diagnostics.SignalTraces), c.logger,
		spoolOption(c.spool, otlp.KindTraces, func(batch []signal.SpanData) ([]byte, error) {
			return otlp.MarshalTraces(otlp.Traces(batch))
		}, c.logger)...)
	if err != nil {
		return fmt.Errorf("failed to create traces exporter: %w", err)
	}

	c.metrics, err = exporter.New(diagnostics.SignalMetrics, c.cfg.Batch, c.cfg.Retry,
		func(ctx context.Context, batch []signal.MetricPoint) error {
			return c.transport.ConsumeMetrics(ctx, otlp.Metrics(batch))
		},
		c.diag.Exporter(diagnostics.SignalMetrics), c.logger,
		spoolOption(c.spool, otlp.KindMetrics, func(batch []signal.MetricPoint) ([]byte, error) {
			return otlp.MarshalMetrics(otlp.Metrics(batch))
		}, c.logger)...)
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	c.logs, err = exporter.New(diagnostics.SignalLogs, c.cfg.Batch, c.cfg.Retry,
		func(ctx context.Context, batch []signal.LogRecord) error {
			return c.transport.ConsumeLogs(ctx, otlp.Logs(batch))
		},
		c.diag.Exporter(diagnostics.SignalLogs), c.logger,
		spoolOption(c.spool, otlp.KindLogs, func(batch []signal.LogRecord) ([]byte, error) {
			return otlp.MarshalLogs(otlp.Logs(batch))
		}, c.logger)...)
	if err != nil {
		return fmt.Errorf("failed to create logs exporter: %w", err)
	}
	return nil
}

// spoolOption persists dropped batches into store, when one is configured.
// The drop itself has already been counted by the exporter.
func spoolOption[R any](store *spool.Store, kind string, marshal func([]R) ([]byte, error), logger *zap.Logger) []exporter.Option[R] {
	if store == nil {
		return nil
	}
	return []exporter.Option[R]{exporter.WithDropHandler(func(batch []R, reason error) {
		payload, err := marshal(batch)
		if err != nil {
			logger.Warn("Failed to encode dropped batch for the spool", zap.String("kind", kind), zap.Error(err))
			return
		}
		if err := store.Put(kind, payload); err != nil {
			logger.Warn("Failed to spool dropped batch", zap.String("kind", kind), zap.Error(err))
			return
		}
		logger.Info("Spooled dropped batch",
			zap.String("kind", kind),
			zap.Int("items", len(batch)),
			zap.NamedError("reason", reason))
	})}
}

func (c *Controller) schedule() error {
	if s := c.cfg.Diagnostics.ReportSchedule; s != "" {
		if _, err := c.scheduler.AddFunc(s, c.diag.Report); err != nil {
			return fmt.Errorf("failed to schedule diagnostics report: %w", err)
		}
	}
	if c.cfg.RuntimeMetrics.Enabled {
		runtimeMetrics := producer.NewRuntimeMetrics(c.meter)
		_, err := c.scheduler.AddFunc(c.cfg.RuntimeMetrics.Schedule, func() {
			runtimeMetrics.Collect(context.Background())
		})
		if err != nil {
			return fmt.Errorf("failed to schedule runtime metrics: %w", err)
		}
	}
	return nil
}

// Resource returns the pipeline's resource.
func (c *Controller) Resource() *signal.Resource {
	return c.resource
}

// Tracer returns the pipeline's tracer.
func (c *Controller) Tracer() *producer.Tracer {
	return c.tracer
}

// Meter returns the pipeline's meter.
func (c *Controller) Meter() *producer.Meter {
	return c.meter
}

// Logger returns the pipeline's log record producer.
func (c *Controller) Logger() *producer.Logger {
	return c.log
}

// Diagnostics returns the pipeline's self-diagnostic counters.
func (c *Controller) Diagnostics() *diagnostics.Manager {
	return c.diag
}

// ForceFlushAll flushes every exporter and waits for the transmissions. After
// ShutdownAll it does nothing.
func (c *Controller) ForceFlushAll(ctx context.Context) error {
	if c.shutdown.Load() {
		return nil
	}
	return multierr.Combine(
		ignoreStopped(c.traces.ForceFlush(ctx)),
		ignoreStopped(c.metrics.ForceFlush(ctx)),
		ignoreStopped(c.logs.ForceFlush(ctx)),
	)
}

// ignoreStopped hides the error from an exporter that a concurrent ShutdownAll
// stopped after the shutdown check above.
func ignoreStopped(err error) error {
	if errors.Is(err, exporter.ErrNotRunning) {
		return nil
	}
	return err
}

// ShutdownAll ends spans that are still open, drains every exporter with one
// final flush and releases the transport. Without a deadline on ctx the
// configured shutdown timeout applies. Only the first call does anything;
// later calls return nil without touching the network.
func (c *Controller) ShutdownAll(ctx context.Context) error {
	var err error
	c.shutdownOnce.Do(func() {
		err = c.shutdownAll(ctx)
	})
	return err
}

func (c *Controller) shutdownAll(ctx context.Context) error {
	c.shutdown.Store(true)
	start := time.Now()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Shutdown.Timeout)
		defer cancel()
	}

	select {
	case <-c.scheduler.Stop().Done():
	case <-ctx.Done():
	}

	if n := c.tracer.EndOpenSpans(); n > 0 {
		c.logger.Warn("Ended spans still open at shutdown", zap.Int("count", n))
	}

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, shutdown := range []func(context.Context) error{
		c.traces.Shutdown,
		c.metrics.Shutdown,
		c.logs.Shutdown,
	} {
		wg.Add(1)
		go func(shutdown func(context.Context) error) {
			defer wg.Done()
			if err := shutdown(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(shutdown)
	}
	wg.Wait()

	errs = multierr.Append(errs, c.closeResources(ctx))

	c.diag.Report()
	if errs != nil {
		c.logger.Warn("Pipeline shut down with errors", zap.Error(errs), zap.Duration("elapsed", time.Since(start)))
	} else {
		c.logger.Info("Pipeline shut down", zap.Duration("elapsed", time.Since(start)))
	}
	return errs
}

func (c *Controller) closeResources(ctx context.Context) error {
	var errs error
	if c.transport != nil {
		if err := c.transport.Close(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
	}
	if c.spool != nil {
		if err := c.spool.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close spool: %w", err))
		}
	}
	return errs
}
