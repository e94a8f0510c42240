package producer

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

// Span is an open unit of work. It is owned by the code that started it until
// End, after which every method is a no-op. All methods are safe on a nil
// *Span.
type Span struct {
	tracer *Tracer

	mu    sync.Mutex
	data  signal.SpanData
	ended bool
}

func (s *Span) key() SpanKey {
	return SpanKey{TraceID: s.data.SpanContext.TraceID, SpanID: s.data.SpanContext.SpanID}
}

// SpanContext returns the span's identifiers.
func (s *Span) SpanContext() signal.SpanContext {
	if s == nil {
		return signal.SpanContext{}
	}
	return s.data.SpanContext
}

// IsRecording reports whether the span is still open.
func (s *Span) IsRecording() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// SetAttributes sets attributes, replacing existing values of the same key.
func (s *Span) SetAttributes(kvs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}

	var dropped int
	s.data.Attributes, dropped = signal.UpsertAttributes(s.data.Attributes, s.tracer.limits.AttributeCount, kvs...)
	s.data.DroppedAttributes += dropped
}

// AddEvent appends a timestamped event.
func (s *Span) AddEvent(name string, kvs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.addEvent(name, time.Now(), kvs...)
}

func (s *Span) addEvent(name string, ts time.Time, kvs ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}

	limits := s.tracer.limits
	if limits.EventCount > 0 && len(s.data.Events) >= limits.EventCount {
		s.data.DroppedEvents++
		return
	}
	ev := signal.Event{Name: name, Time: ts}
	ev.Attributes, ev.DroppedAttributes = signal.UpsertAttributes(nil, limits.EventAttributeCount, kvs...)
	s.data.Events = append(s.data.Events, ev)
}

// RecordError adds an exception event describing err.
func (s *Span) RecordError(err error, kvs ...attribute.KeyValue) {
	if s == nil || err == nil {
		return
	}
	attrs := append([]attribute.KeyValue{
		semconv.ExceptionType(fmt.Sprintf("%T", err)),
		semconv.ExceptionMessage(err.Error()),
	}, kvs...)
	s.addEvent("exception", time.Now(), attrs...)
}

// SetStatus sets the span status. Ok is final; the description is kept only
// for Error.
func (s *Span) SetStatus(code signal.StatusCode, description string) {
	if s == nil || code == signal.StatusUnset {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.data.Status.Code == signal.StatusOK {
		return
	}

	s.data.Status = signal.Status{Code: code}
	if code == signal.StatusError {
		s.data.Status.Message = description
	}
}

func (s *Span) setStatusIfUnset(code signal.StatusCode) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended && s.data.Status.Code == signal.StatusUnset {
		s.data.Status.Code = code
	}
}

// End closes the span and hands it to the exporter. A span ends exactly once;
// later calls are counted as misuse and otherwise ignored.
func (s *Span) End() {
	if s == nil {
		return
	}
	if !s.end(false) {
		s.tracer.diag.Misuse("span.end")
	}
}

// end closes the span; it reports false when the span had already ended.
func (s *Span) end(incomplete bool) bool {
	now := time.Now()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	if incomplete {
		s.data.Attributes = append(s.data.Attributes, IncompleteKey.Bool(true))
	}
	s.ended = true
	if now.Before(s.data.StartTime) {
		now = s.data.StartTime
	}
	s.data.EndTime = now
	data := s.data
	s.mu.Unlock()

	t := s.tracer
	defer t.diag.Recover("span.end")
	t.unregister(s)
	if t.recorder != nil {
		t.recorder.Record(data)
	}
	return true
}
