package otlp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

var (
	testResource = signal.NewResource(
		semconv.ServiceName("otlp-demo"),
		semconv.ServiceVersion("1.0.0"),
	)
	testScope = signal.Scope{Name: "otlp-demo", Version: "1.0.0"}
)

func testSpanContext(gen signal.IDGenerator, parent *signal.SpanContext) signal.SpanContext {
	if parent == nil {
		return signal.SpanContext{TraceID: gen.NewTraceID(), SpanID: gen.NewSpanID()}
	}
	return signal.SpanContext{TraceID: parent.TraceID, SpanID: gen.NewSpanID(), ParentSpanID: parent.SpanID}
}

func TestEncodeTraces(t *testing.T) {
	gen := signal.NewRandomIDGenerator()
	root := testSpanContext(gen, nil)
	child := testSpanContext(gen, &root)
	start := time.Unix(1700000000, 0)

	spans := []signal.SpanData{
		{
			Name:        "HTTP GET",
			Kind:        signal.SpanKindClient,
			SpanContext: child,
			StartTime:   start.Add(time.Millisecond),
			EndTime:     start.Add(5 * time.Millisecond),
			Attributes: []attribute.KeyValue{
				attribute.String("http.request.method", "GET"),
				attribute.Int("http.response.status_code", 503),
			},
			DroppedAttributes: 2,
			Status:            signal.Status{Code: signal.StatusError, Message: "503 Service Unavailable"},
			Scope:             testScope,
			Resource:          testResource,
		},
		{
			Name:        "demo-operation",
			SpanContext: root,
			StartTime:   start,
			EndTime:     start.Add(10 * time.Millisecond),
			Attributes: []attribute.KeyValue{
				attribute.Int("demo.iteration", 0),
				attribute.StringSlice("demo.tags", []string{"a", "b"}),
			},
			Events: []signal.Event{
				{Name: "checkpoint", Time: start.Add(2 * time.Millisecond), Attributes: []attribute.KeyValue{attribute.Bool("ok", true)}},
			},
			Status:   signal.Status{Code: signal.StatusOK, Message: "ignored for ok"},
			Scope:    testScope,
			Resource: testResource,
		},
	}

	td := Traces(spans)
	require.Equal(t, 1, td.ResourceSpans().Len(), "spans sharing a resource should be grouped")
	rs := td.ResourceSpans().At(0)

	name, ok := rs.Resource().Attributes().Get("service.name")
	require.True(t, ok)
	assert.Equal(t, "otlp-demo", name.Str())

	require.Equal(t, 1, rs.ScopeSpans().Len())
	ss := rs.ScopeSpans().At(0)
	assert.Equal(t, "otlp-demo", ss.Scope().Name())
	assert.Equal(t, "1.0.0", ss.Scope().Version())
	require.Equal(t, 2, ss.Spans().Len())

	http := ss.Spans().At(0)
	assert.Equal(t, "HTTP GET", http.Name())
	assert.Equal(t, ptrace.SpanKindClient, http.Kind())
	assert.Equal(t, pcommon.TraceID(root.TraceID), http.TraceID())
	assert.Equal(t, pcommon.SpanID(root.SpanID), http.ParentSpanID())
	assert.Equal(t, ptrace.StatusCodeError, http.Status().Code())
	assert.Equal(t, "503 Service Unavailable", http.Status().Message())
	assert.Equal(t, uint32(2), http.DroppedAttributesCount())
	code, ok := http.Attributes().Get("http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(503), code.Int())

	op := ss.Spans().At(1)
	assert.True(t, op.ParentSpanID().IsEmpty())
	assert.Equal(t, ptrace.SpanKindInternal, op.Kind())
	assert.Equal(t, ptrace.StatusCodeOk, op.Status().Code())
	assert.Empty(t, op.Status().Message())
	assert.Equal(t, pcommon.NewTimestampFromTime(start), op.StartTimestamp())
	tags, ok := op.Attributes().Get("demo.tags")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, tags.Slice().AsRaw())
	require.Equal(t, 1, op.Events().Len())
	assert.Equal(t, "checkpoint", op.Events().At(0).Name())
}

func TestEncodeTracesSeparatesResources(t *testing.T) {
	gen := signal.NewRandomIDGenerator()
	other := signal.NewResource(semconv.ServiceName("other"))

	td := Traces([]signal.SpanData{
		{Name: "a", SpanContext: testSpanContext(gen, nil), Resource: testResource, Scope: testScope},
		{Name: "b", SpanContext: testSpanContext(gen, nil), Resource: other, Scope: testScope},
		{Name: "c", SpanContext: testSpanContext(gen, nil), Resource: testResource, Scope: signal.Scope{Name: "runtime"}},
	})

	require.Equal(t, 2, td.ResourceSpans().Len())
	assert.Equal(t, 2, td.ResourceSpans().At(0).ScopeSpans().Len())
	assert.Equal(t, 1, td.ResourceSpans().At(1).ScopeSpans().Len())
	assert.Equal(t, 3, td.SpanCount())
}

func TestEncodeMetrics(t *testing.T) {
	now := time.Unix(1700000000, 0)
	bounds := []float64{10, 100, 1000}

	points := []signal.MetricPoint{
		{Instrument: "demo.iterations", Kind: signal.InstrumentCounter, Int: true, Value: 1, Time: now,
			Attributes: []attribute.KeyValue{attribute.Int("demo.iteration", 0)}, Scope: testScope, Resource: testResource},
		{Instrument: "demo.iterations", Kind: signal.InstrumentCounter, Int: true, Value: 1, Time: now.Add(time.Second),
			Attributes: []attribute.KeyValue{attribute.Int("demo.iteration", 1)}, Scope: testScope, Resource: testResource},
		{Instrument: "process.runtime.go.goroutines", Kind: signal.InstrumentGauge, Int: true, Value: 12, Time: now,
			Scope: testScope, Resource: testResource},
		{Instrument: "http.client.request.duration", Unit: "ms", Kind: signal.InstrumentHistogram, Value: 100, Bounds: bounds, Time: now,
			Scope: testScope, Resource: testResource},
		{Instrument: "http.client.request.duration", Unit: "ms", Kind: signal.InstrumentHistogram, Value: 1500.5, Bounds: bounds, Time: now,
			Scope: testScope, Resource: testResource},
	}

	md := Metrics(points)
	assert.Equal(t, 5, md.DataPointCount())
	require.Equal(t, 1, md.ResourceMetrics().Len())
	metrics := md.ResourceMetrics().At(0).ScopeMetrics().At(0).Metrics()
	require.Equal(t, 3, metrics.Len(), "points of one instrument share a metric")

	counter := metrics.At(0)
	assert.Equal(t, "demo.iterations", counter.Name())
	require.Equal(t, pmetric.MetricTypeSum, counter.Type())
	assert.True(t, counter.Sum().IsMonotonic())
	assert.Equal(t, pmetric.AggregationTemporalityDelta, counter.Sum().AggregationTemporality())
	require.Equal(t, 2, counter.Sum().DataPoints().Len())
	assert.Equal(t, int64(1), counter.Sum().DataPoints().At(0).IntValue())

	gauge := metrics.At(1)
	require.Equal(t, pmetric.MetricTypeGauge, gauge.Type())
	assert.Equal(t, int64(12), gauge.Gauge().DataPoints().At(0).IntValue())

	hist := metrics.At(2)
	require.Equal(t, pmetric.MetricTypeHistogram, hist.Type())
	assert.Equal(t, "ms", hist.Unit())
	require.Equal(t, 2, hist.Histogram().DataPoints().Len())

	dp := hist.Histogram().DataPoints().At(0)
	assert.Equal(t, uint64(1), dp.Count())
	assert.Equal(t, 100.0, dp.Sum())
	assert.Equal(t, 100.0, dp.Min())
	assert.Equal(t, 100.0, dp.Max())
	assert.Equal(t, bounds, dp.ExplicitBounds().AsRaw())
	assert.Equal(t, []uint64{0, 1, 0, 0}, dp.BucketCounts().AsRaw(), "upper bounds are inclusive")

	assert.Equal(t, []uint64{0, 0, 0, 1}, hist.Histogram().DataPoints().At(1).BucketCounts().AsRaw())
}

func TestBucketCounts(t *testing.T) {
	assert.Equal(t, []uint64{1}, bucketCounts(nil, 42))
	assert.Equal(t, []uint64{1, 0}, bucketCounts([]float64{5}, -1))
	assert.Equal(t, []uint64{1, 0}, bucketCounts([]float64{5}, 5))
	assert.Equal(t, []uint64{0, 1}, bucketCounts([]float64{5}, 5.01))
}

func TestEncodeLogs(t *testing.T) {
	gen := signal.NewRandomIDGenerator()
	sc := testSpanContext(gen, nil)
	now := time.Unix(1700000000, 0)

	ld := Logs([]signal.LogRecord{
		{
			Time:        now,
			Severity:    signal.SeverityInfo,
			Template:    "Iteration {Iteration}: inside demo-operation span.",
			Body:        "Iteration 0: inside demo-operation span.",
			Attributes:  []attribute.KeyValue{attribute.Int("Iteration", 0)},
			SpanContext: sc,
			Scope:       testScope,
			Resource:    testResource,
		},
		{
			Time:     now,
			Severity: signal.SeverityWarn,
			Body:     "outside any span",
			Scope:    testScope,
			Resource: testResource,
		},
	})

	require.Equal(t, 1, ld.ResourceLogs().Len())
	records := ld.ResourceLogs().At(0).ScopeLogs().At(0).LogRecords()
	require.Equal(t, 2, records.Len())

	correlated := records.At(0)
	assert.Equal(t, plog.SeverityNumberInfo, correlated.SeverityNumber())
	assert.Equal(t, "INFO", correlated.SeverityText())
	assert.Equal(t, "Iteration 0: inside demo-operation span.", correlated.Body().Str())
	assert.Equal(t, pcommon.TraceID(sc.TraceID), correlated.TraceID())
	assert.Equal(t, pcommon.SpanID(sc.SpanID), correlated.SpanID())
	assert.True(t, correlated.Flags().IsSampled())
	assert.Equal(t, pcommon.NewTimestampFromTime(now), correlated.ObservedTimestamp())

	plain := records.At(1)
	assert.Equal(t, plog.SeverityNumberWarn, plain.SeverityNumber())
	assert.True(t, plain.TraceID().IsEmpty())
	assert.True(t, plain.SpanID().IsEmpty())
}
