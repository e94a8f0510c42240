// Package workload runs the demo iterations that exercise the pipeline: a span
// per iteration, correlated log records, an outbound HTTP call traced as a
// client child span, and a couple of metrics.
package workload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/config"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/producer"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/propagator"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

// Span and instrument names.
const (
	OperationSpan     = "demo-operation"
	HTTPSpan          = "HTTP GET"
	IterationsCounter = "demo.iterations"
	DurationHistogram = "http.client.request.duration"
)

// Attribute keys set on the operation span.
const (
	IterationKey   = attribute.Key("demo.iteration")
	TagKey         = attribute.Key("demo.tag")
	OperationIDKey = attribute.Key("operation.id")
)

// durationBounds are the bucket boundaries, in seconds, recommended for HTTP
// client durations.
var durationBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}

// Telemetry gives the runner its producers. *pipeline.Controller implements it.
type Telemetry interface {
	Tracer() *producer.Tracer
	Meter() *producer.Meter
	Logger() *producer.Logger
}

// Runner executes the configured number of demo iterations.
type Runner struct {
	// Configuration
	cfg    config.WorkloadConfig
	target *url.URL

	// Telemetry
	tracer     *producer.Tracer
	log        *producer.Logger
	iterations *producer.Int64Counter
	duration   *producer.Histogram

	client *http.Client
	logger *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithHTTPClient replaces the HTTP client used for the outbound calls.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Runner) {
		r.client = client
	}
}

// WithLogger sets the console logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a new runner emitting through telemetry.
func NewRunner(cfg config.WorkloadConfig, telemetry Telemetry, opts ...Option) (*Runner, error) {
	target, err := url.ParseRequestURI(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}

	meter := telemetry.Meter()
	r := &Runner{
		cfg:    cfg,
		target: target,
		tracer: telemetry.Tracer(),
		log:    telemetry.Logger(),
		iterations: meter.Int64Counter(IterationsCounter,
			producer.WithDescription("Number of completed demo iterations"),
			producer.WithUnit("{iteration}")),
		duration: meter.Histogram(DurationHistogram,
			producer.WithDescription("Duration of outbound HTTP requests"),
			producer.WithUnit("s"),
			producer.WithBounds(durationBounds...)),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the iterations, pausing the configured interval between them.
// It stops early, returning the context error, when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Running demo workload",
		zap.Int("iterations", r.cfg.Iterations),
		zap.Duration("interval", r.cfg.Interval),
		zap.String("target", r.target.String()))

	for i := 0; i < r.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.RunIteration(ctx, i); err != nil {
			return err
		}

		if i == r.cfg.Iterations-1 || r.cfg.Interval <= 0 {
			continue
		}
		timer := time.NewTimer(r.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// RunIteration runs one demo-operation span. A failed HTTP call marks only
// the client span as failed.
func (r *Runner) RunIteration(ctx context.Context, iteration int) error {
	return r.tracer.WithSpan(ctx, OperationSpan, func(ctx context.Context) error {
		r.log.Info(ctx, "Iteration {Iteration}: inside demo-operation span.", iteration)

		status, err := r.get(ctx)
		if err != nil {
			r.log.Error(ctx, "Iteration {Iteration}: HTTP GET to {Host} failed: {Error}", iteration, r.target.Host, err)
			r.logger.Warn("Outbound request failed", zap.Int("iteration", iteration), zap.Error(err))
		} else {
			r.log.Info(ctx, "Iteration {Iteration}: HTTP GET to {Host} returned {StatusCode}", iteration, r.target.Host, status)
		}

		r.log.Warn(ctx, "Iteration {Iteration}: finishing demo-operation.", iteration)
		r.iterations.Add(ctx, 1)
		return nil
	}, producer.WithAttributes(
		IterationKey.Int(iteration),
		TagKey.String("value"),
		OperationIDKey.String(strings.ReplaceAll(uuid.NewString(), "-", "")),
	))
}

// get performs the outbound call inside a client span, propagating the trace
// context in the request headers.
func (r *Runner) get(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, HTTPSpan,
		producer.WithKind(signal.SpanKindClient),
		producer.WithAttributes(r.requestAttributes()...))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.target.String(), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(signal.StatusError, err.Error())
		return 0, err
	}
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := r.client.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(signal.StatusError, err.Error())
		span.SetAttributes(semconv.ErrorTypeKey.String(fmt.Sprintf("%T", err)))
		r.duration.Record(ctx, elapsed, semconv.HTTPRequestMethodGet, semconv.ErrorTypeKey.String(fmt.Sprintf("%T", err)))
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(signal.StatusError, resp.Status)
		span.SetAttributes(semconv.ErrorTypeKey.String(strconv.Itoa(resp.StatusCode)))
	}
	r.duration.Record(ctx, elapsed, semconv.HTTPRequestMethodGet, semconv.HTTPResponseStatusCode(resp.StatusCode))
	return resp.StatusCode, nil
}

func (r *Runner) requestAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodGet,
		semconv.URLFull(r.target.String()),
		semconv.ServerAddress(r.target.Hostname()),
	}
	port := r.target.Port()
	if port == "" {
		port = "80"
		if r.target.Scheme == "https" {
			port = "443"
		}
	}
	if p, err := strconv.Atoi(port); err == nil {
		attrs = append(attrs, semconv.ServerPort(p))
	}
	return attrs
}
