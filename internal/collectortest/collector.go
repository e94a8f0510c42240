// Package collectortest runs an in-process OTLP/gRPC collector for tests. It
// records every request it accepts and can be told to fail or partially
// reject upcoming requests.
package collectortest

import (
	"context"
	"net"
	"sync"
	"testing"

	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Signal names accepted by FailNext, RejectNext and Attempts.
const (
	Traces  = "traces"
	Metrics = "metrics"
	Logs    = "logs"
)

type injection struct {
	failures     int
	code         codes.Code
	rejected     int64
	rejectionMsg string
}

// Collector is an OTLP/gRPC receiver for traces, metrics and logs.
type Collector struct {
	server   *grpc.Server
	listener net.Listener

	mu         sync.Mutex
	attempts   map[string]int
	injections map[string]*injection
	traces     []*collectortrace.ExportTraceServiceRequest
	metrics    []*collectormetrics.ExportMetricsServiceRequest
	logs       []*collectorlogs.ExportLogsServiceRequest
}

// Start listens on a random local port and stops the collector when the test
// finishes.
func Start(t testing.TB) *Collector {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	c := &Collector{
		server:     grpc.NewServer(),
		listener:   lis,
		attempts:   make(map[string]int),
		injections: map[string]*injection{Traces: {}, Metrics: {}, Logs: {}},
	}
	collectortrace.RegisterTraceServiceServer(c.server, &traceService{c: c})
	collectormetrics.RegisterMetricsServiceServer(c.server, &metricsService{c: c})
	collectorlogs.RegisterLogsServiceServer(c.server, &logsService{c: c})

	go func() {
		_ = c.server.Serve(lis)
	}()
	t.Cleanup(c.Stop)
	return c
}

// Endpoint returns the host:port the collector listens on.
func (c *Collector) Endpoint() string {
	return c.listener.Addr().String()
}

// Stop stops the collector immediately.
func (c *Collector) Stop() {
	c.server.Stop()
}

// FailNext makes the next n requests for signal fail with code.
func (c *Collector) FailNext(signal string, n int, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injections[signal].failures = n
	c.injections[signal].code = code
}

// RejectNext makes the next request for signal succeed with a partial
// success response rejecting count items.
func (c *Collector) RejectNext(signal string, count int64, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injections[signal].rejected = count
	c.injections[signal].rejectionMsg = msg
}

// Attempts returns how many requests for signal were received, including
// failed ones.
func (c *Collector) Attempts(signal string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[signal]
}

// receive counts an attempt and applies pending injections. It returns the
// injected error, or the number of items to report as rejected.
func (c *Collector) receive(signal string) (int64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts[signal]++
	inj := c.injections[signal]
	if inj.failures > 0 {
		inj.failures--
		return 0, "", status.Error(inj.code, "injected failure")
	}
	rejected, msg := inj.rejected, inj.rejectionMsg
	inj.rejected, inj.rejectionMsg = 0, ""
	return rejected, msg, nil
}

// TraceRequests returns the accepted trace export requests.
func (c *Collector) TraceRequests() []*collectortrace.ExportTraceServiceRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*collectortrace.ExportTraceServiceRequest(nil), c.traces...)
}

// Spans returns every accepted span in arrival order.
func (c *Collector) Spans() []*tracepb.Span {
	var spans []*tracepb.Span
	for _, req := range c.TraceRequests() {
		for _, rs := range req.GetResourceSpans() {
			for _, ss := range rs.GetScopeSpans() {
				spans = append(spans, ss.GetSpans()...)
			}
		}
	}
	return spans
}

// MetricRequests returns the accepted metric export requests.
func (c *Collector) MetricRequests() []*collectormetrics.ExportMetricsServiceRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*collectormetrics.ExportMetricsServiceRequest(nil), c.metrics...)
}

// Metrics returns every accepted metric in arrival order.
func (c *Collector) Metrics() []*metricspb.Metric {
	var metrics []*metricspb.Metric
	for _, req := range c.MetricRequests() {
		for _, rm := range req.GetResourceMetrics() {
			for _, sm := range rm.GetScopeMetrics() {
				metrics = append(metrics, sm.GetMetrics()...)
			}
		}
	}
	return metrics
}

// LogRequests returns the accepted log export requests.
func (c *Collector) LogRequests() []*collectorlogs.ExportLogsServiceRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*collectorlogs.ExportLogsServiceRequest(nil), c.logs...)
}

// LogRecords returns every accepted log record in arrival order.
func (c *Collector) LogRecords() []*logspb.LogRecord {
	var records []*logspb.LogRecord
	for _, req := range c.LogRequests() {
		for _, rl := range req.GetResourceLogs() {
			for _, sl := range rl.GetScopeLogs() {
				records = append(records, sl.GetLogRecords()...)
			}
		}
	}
	return records
}

type traceService struct {
	collectortrace.UnimplementedTraceServiceServer
	c *Collector
}

func (s *traceService) Export(_ context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	rejected, msg, err := s.c.receive(Traces)
	if err != nil {
		return nil, err
	}

	s.c.mu.Lock()
	s.c.traces = append(s.c.traces, proto.Clone(req).(*collectortrace.ExportTraceServiceRequest))
	s.c.mu.Unlock()

	resp := &collectortrace.ExportTraceServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collectortrace.ExportTracePartialSuccess{RejectedSpans: rejected, ErrorMessage: msg}
	}
	return resp, nil
}

type metricsService struct {
	collectormetrics.UnimplementedMetricsServiceServer
	c *Collector
}

func (s *metricsService) Export(_ context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	rejected, msg, err := s.c.receive(Metrics)
	if err != nil {
		return nil, err
	}

	s.c.mu.Lock()
	s.c.metrics = append(s.c.metrics, proto.Clone(req).(*collectormetrics.ExportMetricsServiceRequest))
	s.c.mu.Unlock()

	resp := &collectormetrics.ExportMetricsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collectormetrics.ExportMetricsPartialSuccess{RejectedDataPoints: rejected, ErrorMessage: msg}
	}
	return resp, nil
}

type logsService struct {
	collectorlogs.UnimplementedLogsServiceServer
	c *Collector
}

func (s *logsService) Export(_ context.Context, req *collectorlogs.ExportLogsServiceRequest) (*collectorlogs.ExportLogsServiceResponse, error) {
	rejected, msg, err := s.c.receive(Logs)
	if err != nil {
		return nil, err
	}

	s.c.mu.Lock()
	s.c.logs = append(s.c.logs, proto.Clone(req).(*collectorlogs.ExportLogsServiceRequest))
	s.c.mu.Unlock()

	resp := &collectorlogs.ExportLogsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collectorlogs.ExportLogsPartialSuccess{RejectedLogRecords: rejected, ErrorMessage: msg}
	}
	return resp, nil
}
