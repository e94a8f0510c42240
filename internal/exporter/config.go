package exporter

import (
	"fmt"
	"time"
)

// BatchConfig bounds the in-memory batch of one exporter.
type BatchConfig struct {
	// MaxQueueSize is the number of records buffered before new ones are dropped.
	MaxQueueSize int `koanf:"max_queue_size"`

	// MaxExportBatchSize is the size threshold that triggers a flush and the
	// largest number of records sent in one request.
	MaxExportBatchSize int `koanf:"max_export_batch_size"`

	// MaxAge is the longest a record waits before a timer-driven flush.
	MaxAge time.Duration `koanf:"max_age"`

	// ExportTimeout bounds a single transmission attempt.
	ExportTimeout time.Duration `koanf:"export_timeout"`
}

// DefaultBatchConfig returns the batch settings used when none are configured.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxQueueSize:       2048,
		MaxExportBatchSize: 512,
		MaxAge:             5 * time.Second,
		ExportTimeout:      10 * time.Second,
	}
}

// Validate checks that the batch configuration is usable.
func (c BatchConfig) Validate() error {
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	}
	if c.MaxExportBatchSize <= 0 {
		return fmt.Errorf("max_export_batch_size must be positive, got %d", c.MaxExportBatchSize)
	}
	if c.MaxExportBatchSize > c.MaxQueueSize {
		return fmt.Errorf("max_export_batch_size (%d) must not exceed max_queue_size (%d)",
			c.MaxExportBatchSize, c.MaxQueueSize)
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max_age must be positive, got %s", c.MaxAge)
	}
	if c.ExportTimeout <= 0 {
		return fmt.Errorf("export_timeout must be positive, got %s", c.ExportTimeout)
	}
	return nil
}

// RetryConfig controls the bounded exponential backoff between transmission
// attempts of one batch.
type RetryConfig struct {
	Enabled             bool          `koanf:"enabled"`
	InitialInterval     time.Duration `koanf:"initial_interval"`
	MaxInterval         time.Duration `koanf:"max_interval"`
	Multiplier          float64       `koanf:"multiplier"`
	RandomizationFactor float64       `koanf:"randomization_factor"`

	// MaxAttempts counts the first attempt, so 5 means at most 4 retries.
	MaxAttempts int `koanf:"max_attempts"`
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:             true,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxAttempts:         5,
	}
}

// Validate checks that the retry configuration is usable.
func (c RetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.InitialInterval <= 0 {
		return fmt.Errorf("initial_interval must be positive, got %s", c.InitialInterval)
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("max_interval (%s) must not be below initial_interval (%s)",
			c.MaxInterval, c.InitialInterval)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", c.Multiplier)
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("randomization_factor must be within [0, 1], got %g", c.RandomizationFactor)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}
