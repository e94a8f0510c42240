package signal

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// StatusCode is the outcome recorded on a span.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "Ok"
	case StatusError:
		return "Error"
	default:
		return "Unset"
	}
}

// Status is a span status code with an optional description.
type Status struct {
	Code    StatusCode
	Message string
}

// SpanKind describes the role a span plays in a trace.
type SpanKind int

const (
	// SpanKindInternal is an operation internal to the application. It is the default.
	SpanKindInternal SpanKind = iota

	// SpanKindServer covers the server side of a synchronous request.
	SpanKindServer

	// SpanKindClient describes a request to some remote service.
	SpanKindClient

	// SpanKindProducer initiates an asynchronous request.
	SpanKindProducer

	// SpanKindConsumer handles an asynchronous request started by a producer.
	SpanKindConsumer
)

// Event is a timestamped annotation on a span.
type Event struct {
	Name              string
	Time              time.Time
	Attributes        []attribute.KeyValue
	DroppedAttributes int
}

// SpanData is the exported form of a finished span. Once handed to an exporter
// it is never modified again.
type SpanData struct {
	Name              string
	Kind              SpanKind
	SpanContext       SpanContext
	StartTime         time.Time
	EndTime           time.Time
	Attributes        []attribute.KeyValue
	DroppedAttributes int
	Events            []Event
	DroppedEvents     int
	Status            Status
	Scope             Scope
	Resource          *Resource
}

// Duration returns the span's duration.
func (s *SpanData) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// InstrumentKind is the type of metric instrument a point was recorded on.
type InstrumentKind int

const (
	InstrumentCounter InstrumentKind = iota
	InstrumentGauge
	InstrumentHistogram
)

func (k InstrumentKind) String() string {
	switch k {
	case InstrumentGauge:
		return "gauge"
	case InstrumentHistogram:
		return "histogram"
	default:
		return "counter"
	}
}

// MetricPoint is a single measurement recorded on an instrument.
type MetricPoint struct {
	Instrument  string
	Description string
	Unit        string
	Kind        InstrumentKind
	// Int marks points recorded on integer instruments.
	Int   bool
	Value float64
	// Bounds are the explicit bucket boundaries of a histogram instrument.
	Bounds     []float64
	Time       time.Time
	Attributes []attribute.KeyValue
	Scope      Scope
	Resource   *Resource
}

// Severity numbers follow the OTLP log data model.
type Severity int32

const (
	SeverityTrace Severity = 1
	SeverityDebug Severity = 5
	SeverityInfo  Severity = 9
	SeverityWarn  Severity = 13
	SeverityError Severity = 17
	SeverityFatal Severity = 21
)

func (s Severity) String() string {
	switch {
	case s >= SeverityFatal:
		return "FATAL"
	case s >= SeverityError:
		return "ERROR"
	case s >= SeverityWarn:
		return "WARN"
	case s >= SeverityInfo:
		return "INFO"
	case s >= SeverityDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

// LogRecord is a structured log entry. SpanContext is the zero value when the
// record was emitted outside any span.
type LogRecord struct {
	Time         time.Time
	ObservedTime time.Time
	Severity     Severity
	Template     string
	Body         string
	Attributes   []attribute.KeyValue
	SpanContext  SpanContext
	Scope        Scope
	Resource     *Resource
}
