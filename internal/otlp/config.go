package otlp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transport names.
const (
	TransportGRPC  = "grpc"
	TransportKafka = "kafka"
)

// Config selects and configures the transport to the collector.
type Config struct {
	Transport   string            `koanf:"transport"`
	Endpoint    string            `koanf:"endpoint"`
	Insecure    bool              `koanf:"insecure"`
	Compression string            `koanf:"compression"`
	Headers     map[string]string `koanf:"headers"`

	Kafka KafkaConfig `koanf:"kafka"`
}

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers      []string `koanf:"brokers"`
	TracesTopic  string   `koanf:"traces_topic"`
	MetricsTopic string   `koanf:"metrics_topic"`
	LogsTopic    string   `koanf:"logs_topic"`

	// Each message already carries a whole export request, so the writer
	// should hand it to the broker without waiting for more.
	BatchSize    int           `koanf:"batch_size"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

// DefaultConfig returns a config pointing at a local collector's OTLP/gRPC port.
func DefaultConfig() Config {
	return Config{
		Transport:   TransportGRPC,
		Endpoint:    "localhost:4317",
		Insecure:    true,
		Compression: "none",
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			TracesTopic:  "otlp_spans",
			MetricsTopic: "otlp_metrics",
			LogsTopic:    "otlp_logs",
			BatchSize:    1,
			BatchTimeout: 5 * time.Millisecond,
		},
	}
}

// Validate checks that the transport configuration is usable.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportGRPC:
		if c.Endpoint == "" {
			return errors.New("exporter endpoint must be specified")
		}
		if c.Compression != "" && c.Compression != "none" && c.Compression != "gzip" {
			return fmt.Errorf("unsupported compression %q, use none or gzip", c.Compression)
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified")
		}
		if c.Kafka.TracesTopic == "" || c.Kafka.MetricsTopic == "" || c.Kafka.LogsTopic == "" {
			return errors.New("kafka topics must be specified for traces, metrics and logs")
		}
		if c.Kafka.BatchSize <= 0 || c.Kafka.BatchTimeout <= 0 {
			return errors.New("kafka batch_size and batch_timeout must be positive")
		}
	default:
		return fmt.Errorf("unknown transport %q, use %s or %s", c.Transport, TransportGRPC, TransportKafka)
	}
	return nil
}

// NormalizeEndpoint strips an http:// or https:// scheme and any trailing
// slash, leaving the host:port gRPC dials. The second result reports whether
// the scheme asked for TLS.
func NormalizeEndpoint(endpoint string) (string, bool) {
	tls := false
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		tls = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}
	return strings.TrimSuffix(endpoint, "/"), tls
}
