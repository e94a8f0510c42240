package diagnostics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestManagerCounters(t *testing.T) {
	m := NewManager(zap.NewNop())

	traces := m.Exporter(SignalTraces)
	traces.Recorded.Add(5)
	traces.Exported.Add(3)
	traces.Dropped.Add(2)
	m.Exporter(SignalLogs).Attempts.Inc()

	m.Misuse("span.end")
	m.InternalError("logger.log", errors.New("boom"))

	snap := m.Snapshot()
	assert.Equal(t, int64(5), snap.Exporters[SignalTraces].Recorded)
	assert.Equal(t, int64(3), snap.Exporters[SignalTraces].Exported)
	assert.Equal(t, int64(2), snap.Exporters[SignalTraces].Dropped)
	assert.Equal(t, int64(1), snap.Exporters[SignalLogs].Attempts)
	assert.Equal(t, int64(0), snap.Exporters[SignalMetrics].Recorded)
	assert.Equal(t, int64(1), snap.Misuse)
	assert.Equal(t, int64(1), snap.InternalErrors)
}

func TestUnknownExporterPanics(t *testing.T) {
	m := NewManager(nil)
	assert.Panics(t, func() { m.Exporter("profiles") })
}

func TestRecover(t *testing.T) {
	m := NewManager(zap.NewNop())

	assert.NotPanics(t, func() {
		defer m.Recover("meter.record")
		panic("encoder exploded")
	})
	assert.Equal(t, int64(1), m.InternalErrorCount())
	assert.Equal(t, int64(0), m.MisuseCount())
}

func TestReport(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewManager(zap.New(core))
	m.Exporter(SignalMetrics).Dropped.Add(7)

	m.Report()

	entries := logs.FilterMessage("Exporter statistics").All()
	require.Len(t, entries, 3)
	assert.Equal(t, SignalLogs, entries[0].ContextMap()["signal"], "signals should be reported in name order")

	metrics := logs.FilterField(zap.String("signal", SignalMetrics)).All()
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(7), metrics[0].ContextMap()["dropped"])

	assert.Equal(t, 1, logs.FilterMessage("Producer statistics").Len())
}

func TestRegisterMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterMetrics(provider.Meter("diagnostics-test")))

	m.Exporter(SignalTraces).Exported.Add(4)
	m.Misuse("counter.add")
	m.Misuse("counter.add")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md
	}
	assert.Len(t, byName, len(exporterCounters)+2)

	exported, ok := byName["otlp_pipeline.exporter.exported"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, exported.DataPoints, 3)
	for _, dp := range exported.DataPoints {
		signal, _ := dp.Attributes.Value(attribute.Key("signal"))
		if signal.AsString() == SignalTraces {
			assert.Equal(t, int64(4), dp.Value)
		} else {
			assert.Equal(t, int64(0), dp.Value)
		}
	}

	misuse, ok := byName["otlp_pipeline.producer.misuse"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, misuse.DataPoints, 1)
	assert.Equal(t, int64(2), misuse.DataPoints[0].Value)
}
