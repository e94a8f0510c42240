package otlp

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/collector/consumer"
	"go.opentelemetry.io/collector/consumer/consumererror"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the transport uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport publishes OTLP protobuf export requests to one topic per
// signal, the layout the collector's kafka receiver reads with the otlp_proto
// encoding.
type KafkaTransport struct {
	writer messageWriter
	topics KafkaConfig
	logger *zap.Logger
}

// NewKafkaTransport creates a transport writing to cfg.Brokers.
func NewKafkaTransport(cfg KafkaConfig, logger *zap.Logger) *KafkaTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("OTLP Kafka transport created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("traces_topic", cfg.TracesTopic),
		zap.String("metrics_topic", cfg.MetricsTopic),
		zap.String("logs_topic", cfg.LogsTopic),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("batch_timeout", cfg.BatchTimeout))

	return newKafkaTransport(newKafkaWriter(cfg), cfg, logger)
}

// newKafkaWriter builds a synchronous writer. WriteMessages blocks until the
// writer's batch is flushed, so BatchSize and BatchTimeout bound the latency
// of every export.
func newKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
	}
}

func newKafkaTransport(w messageWriter, cfg KafkaConfig, logger *zap.Logger) *KafkaTransport {
	return &KafkaTransport{writer: w, topics: cfg, logger: logger}
}

func (t *KafkaTransport) Capabilities() consumer.Capabilities {
	return consumer.Capabilities{MutatesData: false}
}

// ConsumeTraces publishes td to the traces topic, keyed by the trace id of its
// first span so a trace's batches land on one partition.
func (t *KafkaTransport) ConsumeTraces(ctx context.Context, td ptrace.Traces) error {
	payload, err := MarshalTraces(td)
	if err != nil {
		return consumererror.NewPermanent(err)
	}

	var key []byte
	if rs := td.ResourceSpans(); rs.Len() > 0 {
		if ss := rs.At(0).ScopeSpans(); ss.Len() > 0 && ss.At(0).Spans().Len() > 0 {
			id := ss.At(0).Spans().At(0).TraceID()
			key = id[:]
		}
	}
	return t.write(ctx, t.topics.TracesTopic, key, payload)
}

// ConsumeMetrics publishes md to the metrics topic.
func (t *KafkaTransport) ConsumeMetrics(ctx context.Context, md pmetric.Metrics) error {
	payload, err := MarshalMetrics(md)
	if err != nil {
		return consumererror.NewPermanent(err)
	}
	return t.write(ctx, t.topics.MetricsTopic, nil, payload)
}

// ConsumeLogs publishes ld to the logs topic.
func (t *KafkaTransport) ConsumeLogs(ctx context.Context, ld plog.Logs) error {
	payload, err := MarshalLogs(ld)
	if err != nil {
		return consumererror.NewPermanent(err)
	}
	return t.write(ctx, t.topics.LogsTopic, nil, payload)
}

func (t *KafkaTransport) write(ctx context.Context, topic string, key, payload []byte) error {
	err := t.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload})
	if err != nil {
		t.logger.Debug("Kafka write failed", zap.String("topic", topic), zap.Error(err))
		return classifyKafka(err)
	}
	return nil
}

// Close flushes and closes the writer.
func (t *KafkaTransport) Close(context.Context) error {
	return closeAll(t.writer.Close)
}

// classifyKafka marks broker errors that kafka-go does not consider temporary
// as permanent.
func classifyKafka(err error) error {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				err = e
				break
			}
		}
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) && !kerr.Temporary() {
		return consumererror.NewPermanent(err)
	}
	return err
}
