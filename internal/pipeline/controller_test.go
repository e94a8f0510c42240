package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/consumer/consumererror"
	"go.opentelemetry.io/collector/consumer/consumertest"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/config"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/otlp"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/producer"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/spool"
)

// countingTransport counts Close calls on top of an in-process transport.
type countingTransport struct {
	otlp.Transport
	closes *atomic.Int32
}

func (t *countingTransport) Close(ctx context.Context) error {
	t.closes.Inc()
	return t.Transport.Close(ctx)
}

type sinks struct {
	traces  *consumertest.TracesSink
	metrics *consumertest.MetricsSink
	logs    *consumertest.LogsSink
}

func newSinks() (*sinks, *countingTransport) {
	s := &sinks{
		traces:  new(consumertest.TracesSink),
		metrics: new(consumertest.MetricsSink),
		logs:    new(consumertest.LogsSink),
	}
	t := &countingTransport{
		Transport: otlp.NewConsumerTransport(s.traces, s.metrics, s.logs),
		closes:    atomic.NewInt32(0),
	}
	return s, t
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Batch.MaxAge = time.Hour
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 5 * time.Millisecond
	cfg.RuntimeMetrics.Enabled = false
	cfg.Diagnostics.ReportSchedule = ""
	cfg.Shutdown.Timeout = 5 * time.Second
	return cfg
}

func exportedSpans(sink *consumertest.TracesSink) []ptrace.Span {
	var spans []ptrace.Span
	for _, td := range sink.AllTraces() {
		for i := 0; i < td.ResourceSpans().Len(); i++ {
			rs := td.ResourceSpans().At(i)
			for j := 0; j < rs.ScopeSpans().Len(); j++ {
				ss := rs.ScopeSpans().At(j)
				for k := 0; k < ss.Spans().Len(); k++ {
					spans = append(spans, ss.Spans().At(k))
				}
			}
		}
	}
	return spans
}

func TestDemoOperationScenario(t *testing.T) {
	s, transport := newSinks()
	c, err := New(testConfig(), WithTransport(transport))
	require.NoError(t, err)
	defer func() { _ = c.ShutdownAll(context.Background()) }()

	for i := 0; i < 5; i++ {
		err := c.Tracer().WithSpan(context.Background(), "demo-operation", func(ctx context.Context) error {
			return nil
		}, producer.WithAttributes(attribute.Int("demo.iteration", i)))
		require.NoError(t, err)
	}
	require.NoError(t, c.ForceFlushAll(context.Background()))

	spans := exportedSpans(s.traces)
	require.Len(t, spans, 5)
	for i, span := range spans {
		assert.Equal(t, "demo-operation", span.Name())
		v, ok := span.Attributes().Get("demo.iteration")
		require.True(t, ok)
		assert.Equal(t, int64(i), v.Int())
		assert.Equal(t, ptrace.StatusCodeOk, span.Status().Code())
	}

	stats := c.Diagnostics().Exporter(diagnostics.SignalTraces).Snapshot()
	assert.Equal(t, int64(5), stats.Recorded)
	assert.Equal(t, int64(5), stats.Exported)
	assert.Zero(t, stats.Dropped)
}

func TestSharedResource(t *testing.T) {
	s, transport := newSinks()
	cfg := testConfig()
	cfg.Resource.Attributes = append(cfg.Resource.Attributes, config.ResourceAttribute{Key: "service.name", Value: "shadowed"})
	c, err := New(cfg, WithTransport(transport))
	require.NoError(t, err)

	ctx, span := c.Tracer().Start(context.Background(), "op")
	c.Logger().Info(ctx, "inside {Op}", "op")
	c.Meter().Int64Counter("demo.iterations").Add(ctx, 1)
	span.End()
	require.NoError(t, c.ShutdownAll(context.Background()))

	require.Equal(t, 1, s.traces.SpanCount())
	require.Equal(t, 1, s.logs.LogRecordCount())
	require.Equal(t, 1, s.metrics.DataPointCount())

	resources := []pcommon.Resource{
		s.traces.AllTraces()[0].ResourceSpans().At(0).Resource(),
		s.metrics.AllMetrics()[0].ResourceMetrics().At(0).Resource(),
		s.logs.AllLogs()[0].ResourceLogs().At(0).Resource(),
	}
	for _, res := range resources {
		assert.Equal(t, c.Resource().Len(), res.Attributes().Len())
		name, ok := res.Attributes().Get("service.name")
		require.True(t, ok)
		assert.Equal(t, "otlp-demo", name.Str())
		env, ok := res.Attributes().Get("deployment.environment")
		require.True(t, ok)
		assert.Equal(t, "staging", env.Str())
		id, ok := res.Attributes().Get("service.instance.id")
		require.True(t, ok)
		assert.NotEmpty(t, id.Str())
	}

	rec := s.logs.AllLogs()[0].ResourceLogs().At(0).ScopeLogs().At(0).LogRecords().At(0)
	exported := s.traces.AllTraces()[0].ResourceSpans().At(0).ScopeSpans().At(0).Spans().At(0)
	assert.Equal(t, exported.TraceID(), rec.TraceID())
	assert.Equal(t, exported.SpanID(), rec.SpanID())
}

func TestShutdownAllIsIdempotent(t *testing.T) {
	s, transport := newSinks()
	c, err := New(testConfig(), WithTransport(transport))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, span := c.Tracer().Start(context.Background(), "work")
		span.End()
	}

	require.NoError(t, c.ShutdownAll(context.Background()))
	assert.Equal(t, 10, s.traces.SpanCount())
	batches := len(s.traces.AllTraces())

	require.NoError(t, c.ShutdownAll(context.Background()))
	require.NoError(t, c.ForceFlushAll(context.Background()))
	assert.Len(t, s.traces.AllTraces(), batches)
	assert.Equal(t, int32(1), transport.closes.Load())

	// Records after shutdown are dropped and counted, never exported
	_, late := c.Tracer().Start(context.Background(), "late")
	late.End()
	assert.Equal(t, 10, s.traces.SpanCount())
	assert.Equal(t, int64(1), c.Diagnostics().Exporter(diagnostics.SignalTraces).Dropped.Load())
}

func TestConcurrentShutdownAll(t *testing.T) {
	_, transport := newSinks()
	c, err := New(testConfig(), WithTransport(transport))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.ShutdownAll(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), transport.closes.Load())
}

func TestForceFlushAllDuringShutdown(t *testing.T) {
	s, transport := newSinks()
	c, err := New(testConfig(), WithTransport(transport))
	require.NoError(t, err)

	_, span := c.Tracer().Start(context.Background(), "work")
	span.End()

	// One exporter already stopped while the controller has not yet marked
	// itself shut down
	require.NoError(t, c.logs.Shutdown(context.Background()))
	require.NoError(t, c.ForceFlushAll(context.Background()))
	assert.Equal(t, 1, s.traces.SpanCount())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, c.ForceFlushAll(context.Background()))
			}
		}()
	}
	require.NoError(t, c.ShutdownAll(context.Background()))
	wg.Wait()
}

func TestShutdownEndsOpenSpans(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, transport := newSinks()
	c, err := New(testConfig(), WithTransport(transport), WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, _ = c.Tracer().Start(context.Background(), "never-ended")
	require.NoError(t, c.ShutdownAll(context.Background()))

	spans := exportedSpans(s.traces)
	require.Len(t, spans, 1)
	incomplete, ok := spans[0].Attributes().Get(string(producer.IncompleteKey))
	require.True(t, ok)
	assert.True(t, incomplete.Bool())
	assert.Equal(t, 1, logs.FilterMessage("Ended spans still open at shutdown").Len())
}

func TestShutdownDropsAreSpooled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")
	cfg := testConfig()
	cfg.Spool.Path = path

	failing := consumertest.NewErr(consumererror.NewPermanent(errors.New("collector refused")))
	c, err := New(cfg, WithTransport(otlp.NewConsumerTransport(failing, failing, failing)))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, span := c.Tracer().Start(context.Background(), "lost")
		span.End()
	}
	err = c.ShutdownAll(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "collector refused")

	stats := c.Diagnostics().Exporter(diagnostics.SignalTraces).Snapshot()
	assert.Equal(t, int64(3), stats.Dropped)
	assert.Equal(t, int64(1), stats.FailedBatches)
	assert.Equal(t, int64(1), stats.Attempts)

	store, err := spool.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Len(otlp.KindTraces)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, transport := newSinks()
	replayed, err := ReplaySpool(context.Background(), store, transport)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 3, s.traces.SpanCount())

	n, err = store.Len(otlp.KindTraces)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDiagnosticsMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, transport := newSinks()
	c, err := New(testConfig(), WithTransport(transport), WithDiagnosticsMeter(provider.Meter("diagnostics")))
	require.NoError(t, err)

	c.Meter().Gauge("temperature").Record(context.Background(), 21)
	require.NoError(t, c.ShutdownAll(context.Background()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	found := false
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name != "otlp_pipeline.exporter.exported" {
			continue
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			if v, _ := dp.Attributes.Value("signal"); v.AsString() == diagnostics.SignalMetrics {
				found = true
				assert.Equal(t, int64(1), dp.Value)
			}
		}
	}
	assert.True(t, found)
}

func TestScheduledRuntimeMetrics(t *testing.T) {
	s, transport := newSinks()
	cfg := testConfig()
	cfg.RuntimeMetrics = config.RuntimeMetricsConfig{Enabled: true, Schedule: "@every 1s"}
	c, err := New(cfg, WithTransport(transport))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.Diagnostics().Exporter(diagnostics.SignalMetrics).Recorded.Load() >= 3
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, c.ShutdownAll(context.Background()))
	assert.GreaterOrEqual(t, s.metrics.DataPointCount(), 3)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Retry.MaxAttempts = 0
	_, err = New(cfg)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestNewResource(t *testing.T) {
	cfg := testConfig()
	cfg.Service.Name = "checkout"

	a := NewResource(cfg)
	b := NewResource(cfg)
	assert.Equal(t, "checkout", a.ServiceName())

	idA, ok := a.Value("service.instance.id")
	require.True(t, ok)
	idB, _ := b.Value("service.instance.id")
	assert.NotEqual(t, idA.AsString(), idB.AsString())

	lang, ok := a.Value("telemetry.sdk.language")
	require.True(t, ok)
	assert.Equal(t, "go", lang.AsString())
}

// sequentialIDs hands out predictable ids.
type sequentialIDs struct {
	mu   sync.Mutex
	next byte
}

var _ signal.IDGenerator = (*sequentialIDs)(nil)

func (g *sequentialIDs) NewTraceID() trace.TraceID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return trace.TraceID{15: g.next}
}

func (g *sequentialIDs) NewSpanID() trace.SpanID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return trace.SpanID{7: g.next}
}

func TestWithIDGenerator(t *testing.T) {
	s, transport := newSinks()
	c, err := New(testConfig(), WithTransport(transport), WithIDGenerator(&sequentialIDs{}))
	require.NoError(t, err)

	_, span := c.Tracer().Start(context.Background(), "predictable")
	span.End()
	require.NoError(t, c.ShutdownAll(context.Background()))

	spans := exportedSpans(s.traces)
	require.Len(t, spans, 1)
	assert.Equal(t, pcommon.SpanID{7: 1}, spans[0].SpanID())
	assert.Equal(t, pcommon.TraceID{15: 2}, spans[0].TraceID())
}
