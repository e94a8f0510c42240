package otlp

import (
	"fmt"

	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
)

// MarshalTraces encodes td as an OTLP ExportTraceServiceRequest.
func MarshalTraces(td ptrace.Traces) ([]byte, error) {
	b, err := ptraceotlp.NewExportRequestFromTraces(td).MarshalProto()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal traces: %w", err)
	}
	return b, nil
}

// UnmarshalTraces decodes an OTLP ExportTraceServiceRequest.
func UnmarshalTraces(b []byte) (ptrace.Traces, error) {
	req := ptraceotlp.NewExportRequest()
	if err := req.UnmarshalProto(b); err != nil {
		return ptrace.Traces{}, fmt.Errorf("failed to unmarshal traces: %w", err)
	}
	return req.Traces(), nil
}

// MarshalMetrics encodes md as an OTLP ExportMetricsServiceRequest.
func MarshalMetrics(md pmetric.Metrics) ([]byte, error) {
	b, err := pmetricotlp.NewExportRequestFromMetrics(md).MarshalProto()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return b, nil
}

// UnmarshalMetrics decodes an OTLP ExportMetricsServiceRequest.
func UnmarshalMetrics(b []byte) (pmetric.Metrics, error) {
	req := pmetricotlp.NewExportRequest()
	if err := req.UnmarshalProto(b); err != nil {
		return pmetric.Metrics{}, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return req.Metrics(), nil
}

// MarshalLogs encodes ld as an OTLP ExportLogsServiceRequest.
func MarshalLogs(ld plog.Logs) ([]byte, error) {
	b, err := plogotlp.NewExportRequestFromLogs(ld).MarshalProto()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal logs: %w", err)
	}
	return b, nil
}

// UnmarshalLogs decodes an OTLP ExportLogsServiceRequest.
func UnmarshalLogs(b []byte) (plog.Logs, error) {
	req := plogotlp.NewExportRequest()
	if err := req.UnmarshalProto(b); err != nil {
		return plog.Logs{}, fmt.Errorf("failed to unmarshal logs: %w", err)
	}
	return req.Logs(), nil
}
