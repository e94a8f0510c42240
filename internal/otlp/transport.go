package otlp

import (
	"context"
	"fmt"

	"go.opentelemetry.io/collector/consumer"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transport delivers encoded payloads to a collector. Errors wrapped with
// consumererror.NewPermanent must not be retried; every other error may be.
type Transport interface {
	consumer.Traces
	consumer.Metrics
	consumer.Logs

	// Close releases connections. It is called once, after the last export.
	Close(ctx context.Context) error
}

// NewTransport creates the transport selected by cfg.
func NewTransport(cfg Config, logger *zap.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case TransportKafka:
		return NewKafkaTransport(cfg.Kafka, logger), nil
	default:
		return NewGRPCTransport(cfg, logger)
	}
}

// consumerTransport forwards payloads to plain collector consumers.
type consumerTransport struct {
	traces  consumer.Traces
	metrics consumer.Metrics
	logs    consumer.Logs
}

// NewConsumerTransport creates a transport that hands payloads to in-process
// consumers, such as a collector pipeline or consumertest sinks.
func NewConsumerTransport(traces consumer.Traces, metrics consumer.Metrics, logs consumer.Logs) Transport {
	return &consumerTransport{traces: traces, metrics: metrics, logs: logs}
}

func (t *consumerTransport) Capabilities() consumer.Capabilities {
	return consumer.Capabilities{MutatesData: false}
}

func (t *consumerTransport) ConsumeTraces(ctx context.Context, td ptrace.Traces) error {
	return t.traces.ConsumeTraces(ctx, td)
}

func (t *consumerTransport) ConsumeMetrics(ctx context.Context, md pmetric.Metrics) error {
	return t.metrics.ConsumeMetrics(ctx, md)
}

func (t *consumerTransport) ConsumeLogs(ctx context.Context, ld plog.Logs) error {
	return t.logs.ConsumeLogs(ctx, ld)
}

func (t *consumerTransport) Close(context.Context) error {
	return nil
}

// Kinds of payload a transport carries, used by the spool and replay.
const (
	KindTraces  = "traces"
	KindMetrics = "metrics"
	KindLogs    = "logs"
)

// Replay decodes an OTLP protobuf request of the given kind and sends it on t.
func Replay(ctx context.Context, t Transport, kind string, payload []byte) error {
	switch kind {
	case KindTraces:
		td, err := UnmarshalTraces(payload)
		if err != nil {
			return err
		}
		return t.ConsumeTraces(ctx, td)
	case KindMetrics:
		md, err := UnmarshalMetrics(payload)
		if err != nil {
			return err
		}
		return t.ConsumeMetrics(ctx, md)
	case KindLogs:
		ld, err := UnmarshalLogs(payload)
		if err != nil {
			return err
		}
		return t.ConsumeLogs(ctx, ld)
	default:
		return fmt.Errorf("unknown payload kind %q", kind)
	}
}

// closeAll closes every closer, combining the errors.
func closeAll(closers ...func() error) error {
	var errs error
	for _, c := range closers {
		errs = multierr.Append(errs, c())
	}
	return errs
}
