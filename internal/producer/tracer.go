package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/propagator"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

// IncompleteKey marks spans that were still open at shutdown.
const IncompleteKey = attribute.Key("otel.span.incomplete")

const openSpanShards = 16

// SpanKey uniquely identifies an open span.
type SpanKey struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
}

// hashSpanKey picks the registry shard for a span.
func hashSpanKey(key SpanKey) uint64 {
	h := xxhash.New()
	_, _ = h.Write(key.TraceID[:])
	_, _ = h.Write(key.SpanID[:])
	return h.Sum64()
}

type openSpanShard struct {
	mu    sync.Mutex
	spans map[SpanKey]*Span
}

// Tracer starts spans and hands finished ones to its recorder.
type Tracer struct {
	// Configuration
	scope    signal.Scope
	resource *signal.Resource
	limits   Limits
	ids      signal.IDGenerator

	// Output
	recorder Recorder[signal.SpanData]
	diag     *diagnostics.Manager

	// Spans started but not yet ended
	open [openSpanShards]openSpanShard
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithIDGenerator replaces the crypto/rand identifier source.
func WithIDGenerator(ids signal.IDGenerator) TracerOption {
	return func(t *Tracer) {
		t.ids = ids
	}
}

// WithLimits sets the span limits.
func WithLimits(limits Limits) TracerOption {
	return func(t *Tracer) {
		t.limits = limits
	}
}

// NewTracer creates a new tracer recording finished spans into recorder.
func NewTracer(settings Settings, recorder Recorder[signal.SpanData], opts ...TracerOption) *Tracer {
	t := &Tracer{
		scope:    settings.Scope,
		resource: settings.Resource,
		limits:   DefaultLimits(),
		ids:      signal.NewRandomIDGenerator(),
		recorder: recorder,
		diag:     settings.diag(),
	}
	for i := range t.open {
		t.open[i].spans = make(map[SpanKey]*Span)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type startConfig struct {
	parent    *signal.SpanContext
	newRoot   bool
	kind      signal.SpanKind
	attrs     []attribute.KeyValue
	timestamp time.Time
}

// StartOption configures a span at start.
type StartOption func(*startConfig)

// WithParent makes sc the parent instead of the span current in ctx.
func WithParent(sc signal.SpanContext) StartOption {
	return func(c *startConfig) {
		c.parent = &sc
	}
}

// WithNewRoot starts a new trace regardless of ctx.
func WithNewRoot() StartOption {
	return func(c *startConfig) {
		c.newRoot = true
	}
}

// WithKind sets the span kind.
func WithKind(kind signal.SpanKind) StartOption {
	return func(c *startConfig) {
		c.kind = kind
	}
}

// WithAttributes sets initial attributes.
func WithAttributes(attrs ...attribute.KeyValue) StartOption {
	return func(c *startConfig) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// WithTimestamp overrides the start time.
func WithTimestamp(ts time.Time) StartOption {
	return func(c *startConfig) {
		c.timestamp = ts
	}
}

// Start starts a span. The parent is the explicit WithParent option, else the
// span current in ctx; without either, the span roots a new trace. The
// returned context carries the new span; ctx itself is left untouched, so the
// caller's current span is restored simply by continuing with ctx.
func (t *Tracer) Start(ctx context.Context, name string, opts ...StartOption) (spanCtx context.Context, span *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx = ctx
	if t == nil {
		return spanCtx, nil
	}
	defer t.diag.Recover("tracer.start")

	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var parent signal.SpanContext
	switch {
	case cfg.newRoot:
	case cfg.parent != nil:
		parent = *cfg.parent
	default:
		parent, _ = propagator.SpanContextFromContext(ctx)
	}

	sc := signal.SpanContext{SpanID: t.ids.NewSpanID()}
	if parent.IsValid() {
		sc.TraceID = parent.TraceID
		sc.ParentSpanID = parent.SpanID
	} else {
		sc.TraceID = t.ids.NewTraceID()
	}

	start := cfg.timestamp
	if start.IsZero() {
		start = time.Now()
	}

	span = &Span{
		tracer: t,
		data: signal.SpanData{
			Name:        name,
			Kind:        cfg.kind,
			SpanContext: sc,
			StartTime:   start,
			Scope:       t.scope,
			Resource:    t.resource,
		},
	}
	span.data.Attributes, span.data.DroppedAttributes = signal.UpsertAttributes(nil, t.limits.AttributeCount, cfg.attrs...)

	t.register(span)
	return propagator.ContextWithSpanContext(ctx, sc), span
}

// WithSpan runs fn inside a new span and ends it on every exit path. The span
// status becomes Error when fn returns an error, when ctx is cancelled, or
// when fn panics (the panic is re-raised after the span ends); otherwise it
// becomes Ok unless fn set a status itself.
func (t *Tracer) WithSpan(ctx context.Context, name string, fn func(ctx context.Context) error, opts ...StartOption) error {
	ctx, span := t.Start(ctx, name, opts...)

	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(signal.StatusError, fmt.Sprint(r))
			span.End()
			panic(r)
		}
	}()

	err := fn(ctx)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(signal.StatusError, err.Error())
	case ctx.Err() != nil:
		span.SetStatus(signal.StatusError, ctx.Err().Error())
	default:
		span.setStatusIfUnset(signal.StatusOK)
	}
	span.End()
	return err
}

// OpenSpans returns the number of spans started but not yet ended.
func (t *Tracer) OpenSpans() int {
	n := 0
	for i := range t.open {
		shard := &t.open[i]
		shard.mu.Lock()
		n += len(shard.spans)
		shard.mu.Unlock()
	}
	return n
}

// EndOpenSpans ends every span still open, marking it incomplete, so spans
// whose owners never ended them are still exported. It returns how many
// spans were ended.
func (t *Tracer) EndOpenSpans() int {
	var spans []*Span
	for i := range t.open {
		shard := &t.open[i]
		shard.mu.Lock()
		for _, s := range shard.spans {
			spans = append(spans, s)
		}
		shard.mu.Unlock()
	}

	ended := 0
	for _, s := range spans {
		if s.end(true) {
			ended++
		}
	}
	return ended
}

func (t *Tracer) shard(key SpanKey) *openSpanShard {
	return &t.open[hashSpanKey(key)%openSpanShards]
}

func (t *Tracer) register(s *Span) {
	key := s.key()
	shard := t.shard(key)
	shard.mu.Lock()
	shard.spans[key] = s
	shard.mu.Unlock()
}

func (t *Tracer) unregister(s *Span) {
	key := s.key()
	shard := t.shard(key)
	shard.mu.Lock()
	delete(shard.spans, key)
	shard.mu.Unlock()
}
