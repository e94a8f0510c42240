package signal

import (
	"crypto/rand"

	"go.opentelemetry.io/otel/trace"
)

// SpanContext identifies a span and links it to its parent.
//
// It is a plain value: copying it (into a child context, into a goroutine, into
// a log record) never shares state with the original.
type SpanContext struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Remote       bool
}

// IsValid reports whether both the trace and span identifiers are set.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID.IsValid() && sc.SpanID.IsValid()
}

// HasParent reports whether the span has a parent span.
func (sc SpanContext) HasParent() bool {
	return sc.ParentSpanID.IsValid()
}

// IDGenerator allocates trace and span identifiers.
type IDGenerator interface {
	NewTraceID() trace.TraceID
	NewSpanID() trace.SpanID
}

// NewRandomIDGenerator returns a generator backed by crypto/rand.
func NewRandomIDGenerator() IDGenerator {
	return randomIDGenerator{}
}

type randomIDGenerator struct{}

// NewTraceID returns a random, valid (non-zero) trace id.
func (randomIDGenerator) NewTraceID() trace.TraceID {
	var id trace.TraceID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id
}

// NewSpanID returns a random, valid (non-zero) span id.
func (randomIDGenerator) NewSpanID() trace.SpanID {
	var id trace.SpanID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id
}
