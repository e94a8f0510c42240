// Package otlp turns pipeline records into OTLP payloads and ships them to a
// collector over gRPC or Kafka.
package otlp

import (
	"sort"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel/attribute"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

type scopeKey struct {
	resource *signal.Resource
	scope    signal.Scope
}

// Traces encodes spans into a single OTLP traces payload. Spans sharing a
// resource and scope are grouped; their relative order is kept.
func Traces(spans []signal.SpanData) ptrace.Traces {
	td := ptrace.NewTraces()
	resources := make(map[*signal.Resource]ptrace.ResourceSpans)
	scopes := make(map[scopeKey]ptrace.ScopeSpans)

	for i := range spans {
		s := &spans[i]

		rs, ok := resources[s.Resource]
		if !ok {
			rs = td.ResourceSpans().AppendEmpty()
			putResource(rs.Resource(), s.Resource)
			resources[s.Resource] = rs
		}
		key := scopeKey{resource: s.Resource, scope: s.Scope}
		ss, ok := scopes[key]
		if !ok {
			ss = rs.ScopeSpans().AppendEmpty()
			putScope(ss.Scope(), s.Scope)
			scopes[key] = ss
		}

		span := ss.Spans().AppendEmpty()
		span.SetTraceID(pcommon.TraceID(s.SpanContext.TraceID))
		span.SetSpanID(pcommon.SpanID(s.SpanContext.SpanID))
		if s.SpanContext.HasParent() {
			span.SetParentSpanID(pcommon.SpanID(s.SpanContext.ParentSpanID))
		}
		span.SetName(s.Name)
		span.SetKind(spanKind(s.Kind))
		span.SetStartTimestamp(pcommon.NewTimestampFromTime(s.StartTime))
		span.SetEndTimestamp(pcommon.NewTimestampFromTime(s.EndTime))
		putAttributes(span.Attributes(), s.Attributes)
		span.SetDroppedAttributesCount(uint32(s.DroppedAttributes))

		for _, ev := range s.Events {
			event := span.Events().AppendEmpty()
			event.SetName(ev.Name)
			event.SetTimestamp(pcommon.NewTimestampFromTime(ev.Time))
			putAttributes(event.Attributes(), ev.Attributes)
			event.SetDroppedAttributesCount(uint32(ev.DroppedAttributes))
		}
		span.SetDroppedEventsCount(uint32(s.DroppedEvents))

		span.Status().SetCode(statusCode(s.Status.Code))
		if s.Status.Code == signal.StatusError {
			span.Status().SetMessage(s.Status.Message)
		}
	}
	return td
}

// Metrics encodes metric points into a single OTLP metrics payload. Points of
// the same instrument become data points of one metric.
func Metrics(points []signal.MetricPoint) pmetric.Metrics {
	md := pmetric.NewMetrics()
	resources := make(map[*signal.Resource]pmetric.ResourceMetrics)
	scopes := make(map[scopeKey]pmetric.ScopeMetrics)

	type metricKey struct {
		scopeKey
		name string
		kind signal.InstrumentKind
	}
	metrics := make(map[metricKey]pmetric.Metric)

	for i := range points {
		p := &points[i]

		rm, ok := resources[p.Resource]
		if !ok {
			rm = md.ResourceMetrics().AppendEmpty()
			putResource(rm.Resource(), p.Resource)
			resources[p.Resource] = rm
		}
		sk := scopeKey{resource: p.Resource, scope: p.Scope}
		sm, ok := scopes[sk]
		if !ok {
			sm = rm.ScopeMetrics().AppendEmpty()
			putScope(sm.Scope(), p.Scope)
			scopes[sk] = sm
		}

		mk := metricKey{scopeKey: sk, name: p.Instrument, kind: p.Kind}
		m, ok := metrics[mk]
		if !ok {
			m = sm.Metrics().AppendEmpty()
			m.SetName(p.Instrument)
			m.SetDescription(p.Description)
			m.SetUnit(p.Unit)
			switch p.Kind {
			case signal.InstrumentCounter:
				sum := m.SetEmptySum()
				sum.SetAggregationTemporality(pmetric.AggregationTemporalityDelta)
				sum.SetIsMonotonic(true)
			case signal.InstrumentGauge:
				m.SetEmptyGauge()
			case signal.InstrumentHistogram:
				m.SetEmptyHistogram().SetAggregationTemporality(pmetric.AggregationTemporalityDelta)
			}
			metrics[mk] = m
		}

		ts := pcommon.NewTimestampFromTime(p.Time)
		switch p.Kind {
		case signal.InstrumentCounter:
			putNumber(m.Sum().DataPoints().AppendEmpty(), p, ts)
		case signal.InstrumentGauge:
			putNumber(m.Gauge().DataPoints().AppendEmpty(), p, ts)
		case signal.InstrumentHistogram:
			dp := m.Histogram().DataPoints().AppendEmpty()
			dp.SetStartTimestamp(ts)
			dp.SetTimestamp(ts)
			dp.SetCount(1)
			dp.SetSum(p.Value)
			dp.SetMin(p.Value)
			dp.SetMax(p.Value)
			dp.ExplicitBounds().FromRaw(p.Bounds)
			dp.BucketCounts().FromRaw(bucketCounts(p.Bounds, p.Value))
			putAttributes(dp.Attributes(), p.Attributes)
		}
	}
	return md
}

// Logs encodes log records into a single OTLP logs payload.
func Logs(records []signal.LogRecord) plog.Logs {
	ld := plog.NewLogs()
	resources := make(map[*signal.Resource]plog.ResourceLogs)
	scopes := make(map[scopeKey]plog.ScopeLogs)

	for i := range records {
		r := &records[i]

		rl, ok := resources[r.Resource]
		if !ok {
			rl = ld.ResourceLogs().AppendEmpty()
			putResource(rl.Resource(), r.Resource)
			resources[r.Resource] = rl
		}
		key := scopeKey{resource: r.Resource, scope: r.Scope}
		sl, ok := scopes[key]
		if !ok {
			sl = rl.ScopeLogs().AppendEmpty()
			putScope(sl.Scope(), r.Scope)
			scopes[key] = sl
		}

		lr := sl.LogRecords().AppendEmpty()
		lr.SetTimestamp(pcommon.NewTimestampFromTime(r.Time))
		observed := r.ObservedTime
		if observed.IsZero() {
			observed = r.Time
		}
		lr.SetObservedTimestamp(pcommon.NewTimestampFromTime(observed))
		lr.SetSeverityNumber(plog.SeverityNumber(r.Severity))
		lr.SetSeverityText(r.Severity.String())
		lr.Body().SetStr(r.Body)
		putAttributes(lr.Attributes(), r.Attributes)

		if r.SpanContext.IsValid() {
			lr.SetTraceID(pcommon.TraceID(r.SpanContext.TraceID))
			lr.SetSpanID(pcommon.SpanID(r.SpanContext.SpanID))
			lr.SetFlags(plog.DefaultLogRecordFlags.WithIsSampled(true))
		}
	}
	return ld
}

func putNumber(dp pmetric.NumberDataPoint, p *signal.MetricPoint, ts pcommon.Timestamp) {
	dp.SetStartTimestamp(ts)
	dp.SetTimestamp(ts)
	if p.Int {
		dp.SetIntValue(int64(p.Value))
	} else {
		dp.SetDoubleValue(p.Value)
	}
	putAttributes(dp.Attributes(), p.Attributes)
}

// bucketCounts places a single observation into explicit buckets. Bucket i
// holds values in (bounds[i-1], bounds[i]]; the last one is unbounded.
func bucketCounts(bounds []float64, v float64) []uint64 {
	counts := make([]uint64, len(bounds)+1)
	counts[sort.SearchFloat64s(bounds, v)] = 1
	return counts
}

func putResource(dst pcommon.Resource, res *signal.Resource) {
	putAttributes(dst.Attributes(), res.Attributes())
}

func putScope(dst pcommon.InstrumentationScope, scope signal.Scope) {
	dst.SetName(scope.Name)
	dst.SetVersion(scope.Version)
}

func putAttributes(dst pcommon.Map, attrs []attribute.KeyValue) {
	dst.EnsureCapacity(len(attrs))
	for _, kv := range attrs {
		putValue(dst, string(kv.Key), kv.Value)
	}
}

func putValue(dst pcommon.Map, key string, v attribute.Value) {
	switch v.Type() {
	case attribute.BOOL:
		dst.PutBool(key, v.AsBool())
	case attribute.INT64:
		dst.PutInt(key, v.AsInt64())
	case attribute.FLOAT64:
		dst.PutDouble(key, v.AsFloat64())
	case attribute.STRING:
		dst.PutStr(key, v.AsString())
	case attribute.BOOLSLICE:
		s := dst.PutEmptySlice(key)
		for _, b := range v.AsBoolSlice() {
			s.AppendEmpty().SetBool(b)
		}
	case attribute.INT64SLICE:
		s := dst.PutEmptySlice(key)
		for _, i := range v.AsInt64Slice() {
			s.AppendEmpty().SetInt(i)
		}
	case attribute.FLOAT64SLICE:
		s := dst.PutEmptySlice(key)
		for _, f := range v.AsFloat64Slice() {
			s.AppendEmpty().SetDouble(f)
		}
	case attribute.STRINGSLICE:
		s := dst.PutEmptySlice(key)
		for _, str := range v.AsStringSlice() {
			s.AppendEmpty().SetStr(str)
		}
	default:
		dst.PutStr(key, v.Emit())
	}
}

func spanKind(k signal.SpanKind) ptrace.SpanKind {
	switch k {
	case signal.SpanKindServer:
		return ptrace.SpanKindServer
	case signal.SpanKindClient:
		return ptrace.SpanKindClient
	case signal.SpanKindProducer:
		return ptrace.SpanKindProducer
	case signal.SpanKindConsumer:
		return ptrace.SpanKindConsumer
	default:
		return ptrace.SpanKindInternal
	}
}

func statusCode(c signal.StatusCode) ptrace.StatusCode {
	switch c {
	case signal.StatusOK:
		return ptrace.StatusCodeOk
	case signal.StatusError:
		return ptrace.StatusCodeError
	default:
		return ptrace.StatusCodeUnset
	}
}
