package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment variables that override the YAML file.
// Nesting levels are separated by a double underscore:
//
//	OTLPDEMO_EXPORTER__ENDPOINT -> exporter.endpoint
//	OTLPDEMO_RETRY__MAX_ATTEMPTS -> retry.max_attempts
const EnvPrefix = "OTLPDEMO_"

// Standard OpenTelemetry environment variables, applied last.
const (
	envServiceName        = "OTEL_SERVICE_NAME"
	envResourceAttributes = "OTEL_RESOURCE_ATTRIBUTES"
	envExporterEndpoint   = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), OTLPDEMO_ environment variables and finally the
// standard OTEL_ variables, then validates it.
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		var err error
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := load(content)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func load(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	// Lists replace their defaults instead of merging element-wise
	if k.Exists("resource.attributes") {
		cfg.Resource.Attributes = nil
	}
	if k.Exists("exporter.kafka.brokers") {
		cfg.Exporter.Kafka.Brokers = nil
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyOTELEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOTELEnv applies the standard OpenTelemetry SDK environment variables.
func applyOTELEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envResourceAttributes); ok && v != "" {
		for _, pair := range strings.Split(v, ",") {
			key, value, found := strings.Cut(pair, "=")
			key = strings.TrimSpace(key)
			if !found || key == "" {
				return fmt.Errorf("invalid %s entry %q", envResourceAttributes, pair)
			}
			decoded, err := url.PathUnescape(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("invalid %s value for %q: %w", envResourceAttributes, key, err)
			}
			switch key {
			case "service.name":
				cfg.Service.Name = decoded
			case "service.version":
				cfg.Service.Version = decoded
			default:
				cfg.Resource.set(key, decoded)
			}
		}
	}

	// OTEL_SERVICE_NAME wins over service.name in OTEL_RESOURCE_ATTRIBUTES.
	if v, ok := lookup(envServiceName); ok && v != "" {
		cfg.Service.Name = v
	}
	if v, ok := lookup(envExporterEndpoint); ok && v != "" {
		cfg.Exporter.Endpoint = v
	}
	return nil
}

// set replaces the value of key or appends it.
func (r *ResourceConfig) set(key string, value any) {
	for i := range r.Attributes {
		if r.Attributes[i].Key == key {
			r.Attributes[i].Value = value
			return
		}
	}
	r.Attributes = append(r.Attributes, ResourceAttribute{Key: key, Value: value})
}
