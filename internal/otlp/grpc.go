package otlp

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.opentelemetry.io/collector/consumer"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/metadata"
)

// GRPCTransport exports over OTLP/gRPC. All three signal clients share one
// connection; grpc-go reconnects it transparently after failures.
type GRPCTransport struct {
	conn     *grpc.ClientConn
	traces   ptraceotlp.GRPCClient
	metrics  pmetricotlp.GRPCClient
	logs     plogotlp.GRPCClient
	headers  metadata.MD
	callOpts []grpc.CallOption
	logger   *zap.Logger
}

// NewGRPCTransport creates a transport for cfg.Endpoint. The connection is
// established lazily on the first export.
func NewGRPCTransport(cfg Config, logger *zap.Logger) (*GRPCTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint, useTLS := NormalizeEndpoint(cfg.Endpoint)

	creds := insecure.NewCredentials()
	if useTLS || !cfg.Insecure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", endpoint, err)
	}

	var callOpts []grpc.CallOption
	if cfg.Compression == "gzip" {
		callOpts = append(callOpts, grpc.UseCompressor(gzip.Name))
	}

	logger.Info("OTLP gRPC transport created",
		zap.String("endpoint", endpoint),
		zap.Bool("tls", useTLS || !cfg.Insecure),
		zap.String("compression", cfg.Compression))

	return &GRPCTransport{
		conn:     conn,
		traces:   ptraceotlp.NewGRPCClient(conn),
		metrics:  pmetricotlp.NewGRPCClient(conn),
		logs:     plogotlp.NewGRPCClient(conn),
		headers:  metadata.New(cfg.Headers),
		callOpts: callOpts,
		logger:   logger,
	}, nil
}

func (t *GRPCTransport) Capabilities() consumer.Capabilities {
	return consumer.Capabilities{MutatesData: false}
}

func (t *GRPCTransport) outgoing(ctx context.Context) context.Context {
	if len(t.headers) == 0 {
		return ctx
	}
	return metadata.NewOutgoingContext(ctx, t.headers)
}

// ConsumeTraces sends td in one ExportTraceServiceRequest.
func (t *GRPCTransport) ConsumeTraces(ctx context.Context, td ptrace.Traces) error {
	resp, err := t.traces.Export(t.outgoing(ctx), ptraceotlp.NewExportRequestFromTraces(td), t.callOpts...)
	if err != nil {
		return classifyGRPC(err)
	}
	ps := resp.PartialSuccess()
	return partialSuccess("spans", ps.RejectedSpans(), ps.ErrorMessage())
}

// ConsumeMetrics sends md in one ExportMetricsServiceRequest.
func (t *GRPCTransport) ConsumeMetrics(ctx context.Context, md pmetric.Metrics) error {
	resp, err := t.metrics.Export(t.outgoing(ctx), pmetricotlp.NewExportRequestFromMetrics(md), t.callOpts...)
	if err != nil {
		return classifyGRPC(err)
	}
	ps := resp.PartialSuccess()
	return partialSuccess("data points", ps.RejectedDataPoints(), ps.ErrorMessage())
}

// ConsumeLogs sends ld in one ExportLogsServiceRequest.
func (t *GRPCTransport) ConsumeLogs(ctx context.Context, ld plog.Logs) error {
	resp, err := t.logs.Export(t.outgoing(ctx), plogotlp.NewExportRequestFromLogs(ld), t.callOpts...)
	if err != nil {
		return classifyGRPC(err)
	}
	ps := resp.PartialSuccess()
	return partialSuccess("log records", ps.RejectedLogRecords(), ps.ErrorMessage())
}

// Close closes the shared connection.
func (t *GRPCTransport) Close(context.Context) error {
	return closeAll(t.conn.Close)
}
