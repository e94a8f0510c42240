// Package propagator carries the active span context through context.Context
// and across process boundaries with W3C trace context headers.
//
// A context.Context is immutable, so "restoring the previous current span" when
// a scope ends is simply the caller continuing with its own ctx. Nothing has to
// be popped, and no exit path (return, error, panic, cancellation) can leak a
// child span context into the parent scope.
package propagator

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

type spanContextKey struct{}

// textMap propagates W3C traceparent/tracestate and baggage.
var textMap = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// ContextWithSpanContext returns a copy of ctx carrying sc as the current span.
func ContextWithSpanContext(ctx context.Context, sc signal.SpanContext) context.Context {
	return context.WithValue(ctx, spanContextKey{}, sc)
}

// SpanContextFromContext returns the current span context, if any.
func SpanContextFromContext(ctx context.Context) (signal.SpanContext, bool) {
	if ctx == nil {
		return signal.SpanContext{}, false
	}
	sc, ok := ctx.Value(spanContextKey{}).(signal.SpanContext)
	if !ok || !sc.IsValid() {
		return signal.SpanContext{}, false
	}
	return sc, true
}

// Fork returns the context a concurrent branch of the unit of work in ctx should
// run with. The branch gets its own snapshot of the span context current at
// fork time; spans it starts never become visible to its siblings.
func Fork(ctx context.Context) context.Context {
	sc, ok := SpanContextFromContext(ctx)
	if !ok {
		return ctx
	}
	return ContextWithSpanContext(ctx, sc)
}

// Inject writes the current span context into carrier as W3C headers.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if sc, ok := SpanContextFromContext(ctx); ok {
		ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    sc.TraceID,
			SpanID:     sc.SpanID,
			TraceFlags: trace.FlagsSampled,
			Remote:     sc.Remote,
		}))
	}
	textMap.Inject(ctx, carrier)
}

// Extract reads W3C headers from carrier. When a valid traceparent is present
// the returned context carries it as a remote span context, so spans started
// from it join the caller's trace.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	ctx = textMap.Extract(ctx, carrier)
	osc := trace.SpanContextFromContext(ctx)
	if !osc.IsValid() {
		return ctx
	}
	return ContextWithSpanContext(ctx, signal.SpanContext{
		TraceID: osc.TraceID(),
		SpanID:  osc.SpanID(),
		Remote:  true,
	})
}
