package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/otlp"
)

const sampleYAML = `
service:
  name: checkout
resource:
  attributes:
    - key: team
      value: payments
    - key: replicas
      value: 3
exporter:
  endpoint: collector:4317
  compression: gzip
batch:
  max_age: 2s
retry:
  max_attempts: 3
workload:
  iterations: 2
logging:
  level: debug
  format: json
`

// clearOTELEnv isolates a test from OTEL_ variables set on the host.
func clearOTELEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envServiceName, "")
	t.Setenv(envResourceAttributes, "")
	t.Setenv(envExporterEndpoint, "")
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "otlp-demo", cfg.Service.Name)
	assert.Equal(t, "1.0.0", cfg.Service.Version)
	assert.Equal(t, []ResourceAttribute{{Key: "deployment.environment", Value: "staging"}}, cfg.Resource.Attributes)
	assert.Equal(t, "localhost:4317", cfg.Exporter.Endpoint)
	assert.Equal(t, 5, cfg.Workload.Iterations)
	assert.Equal(t, time.Second, cfg.Workload.Interval)
	assert.Equal(t, "https://example.com/", cfg.Workload.TargetURL)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoadYAML(t *testing.T) {
	clearOTELEnv(t)

	cfg, err := load([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "checkout", cfg.Service.Name)
	assert.Equal(t, "1.0.0", cfg.Service.Version)

	require.Len(t, cfg.Resource.Attributes, 2)
	assert.Equal(t, "team", cfg.Resource.Attributes[0].Key)
	assert.Equal(t, "payments", cfg.Resource.Attributes[0].Value)
	assert.EqualValues(t, 3, cfg.Resource.Attributes[1].Value)

	assert.Equal(t, "collector:4317", cfg.Exporter.Endpoint)
	assert.Equal(t, "gzip", cfg.Exporter.Compression)
	assert.Equal(t, otlp.TransportGRPC, cfg.Exporter.Transport)

	assert.Equal(t, 2*time.Second, cfg.Batch.MaxAge)
	assert.Equal(t, 2048, cfg.Batch.MaxQueueSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 2, cfg.Workload.Iterations)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearOTELEnv(t)
	t.Setenv("OTLPDEMO_EXPORTER__ENDPOINT", "env-collector:4317")
	t.Setenv("OTLPDEMO_WORKLOAD__ITERATIONS", "7")
	t.Setenv("OTLPDEMO_BATCH__MAX_AGE", "250ms")
	t.Setenv("OTLPDEMO_EXPORTER__KAFKA__BROKERS", "k1:9092,k2:9092")

	cfg, err := load([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-collector:4317", cfg.Exporter.Endpoint)
	assert.Equal(t, 7, cfg.Workload.Iterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.MaxAge)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Exporter.Kafka.Brokers)
	assert.Equal(t, "checkout", cfg.Service.Name)
}

func TestOTELEnvironment(t *testing.T) {
	clearOTELEnv(t)
	t.Setenv(envResourceAttributes, "service.name=from-attrs, team=a%20b,deployment.environment=prod")
	t.Setenv(envExporterEndpoint, "http://otel:4317")

	cfg, err := load(nil)
	require.NoError(t, err)

	assert.Equal(t, "from-attrs", cfg.Service.Name)
	assert.Equal(t, "http://otel:4317", cfg.Exporter.Endpoint)
	assert.Equal(t, []ResourceAttribute{
		{Key: "deployment.environment", Value: "prod"},
		{Key: "team", Value: "a b"},
	}, cfg.Resource.Attributes)

	t.Setenv(envServiceName, "explicit")
	cfg, err = load(nil)
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Service.Name)
}

func TestOTELResourceAttributesMalformed(t *testing.T) {
	clearOTELEnv(t)
	t.Setenv(envResourceAttributes, "novalue")

	_, err := load(nil)
	assert.ErrorContains(t, err, envResourceAttributes)
}

func TestLoadFile(t *testing.T) {
	clearOTELEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout", cfg.Service.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("retry:\n  max_attempts: 0\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "max_attempts")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty service name",
			mutate:  func(c *Config) { c.Service.Name = "" },
			wantErr: "service.name",
		},
		{
			name:    "empty attribute key",
			mutate:  func(c *Config) { c.Resource.Attributes = append(c.Resource.Attributes, ResourceAttribute{Value: "x"}) },
			wantErr: "resource.attributes[1]",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Exporter.Transport = "carrier-pigeon" },
			wantErr: "unknown transport",
		},
		{
			name:    "batch larger than queue",
			mutate:  func(c *Config) { c.Batch.MaxExportBatchSize = c.Batch.MaxQueueSize + 1 },
			wantErr: "batch:",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Shutdown.Timeout = 0 },
			wantErr: "shutdown.timeout",
		},
		{
			name:    "bad report schedule",
			mutate:  func(c *Config) { c.Diagnostics.ReportSchedule = "every minute" },
			wantErr: "report_schedule",
		},
		{
			name:    "bad runtime schedule",
			mutate:  func(c *Config) { c.RuntimeMetrics.Schedule = "" },
			wantErr: "runtime_metrics.schedule",
		},
		{
			name:    "negative iterations",
			mutate:  func(c *Config) { c.Workload.Iterations = -1 },
			wantErr: "workload.iterations",
		},
		{
			name:    "bad target url",
			mutate:  func(c *Config) { c.Workload.TargetURL = "example" },
			wantErr: "workload.target_url",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("disabled runtime metrics ignore schedule", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.RuntimeMetrics = RuntimeMetricsConfig{}
		cfg.Diagnostics.ReportSchedule = ""
		assert.NoError(t, cfg.Validate())
	})
}
