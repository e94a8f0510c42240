// Package logging builds the process's console logger. It is also the
// diagnostics side channel of the pipeline: nothing written here is exported
// through the pipeline's own exporters.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level `koanf:"level"`
	Format string        `koanf:"format"`
}

// NewDefaultConfig returns info-level console logging.
func NewDefaultConfig() Config {
	return Config{
		Level:  zapcore.InfoLevel,
		Format: FormatConsole,
	}
}

// Validate checks the logging configuration.
func (c Config) Validate() error {
	if c.Format != FormatConsole && c.Format != FormatJSON {
		return fmt.Errorf("invalid log format %q, use %s or %s", c.Format, FormatConsole, FormatJSON)
	}
	if c.Level < zapcore.DebugLevel || c.Level > zapcore.FatalLevel {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	return nil
}

// NewCore creates a core writing cfg-formatted entries to w.
func NewCore(cfg Config, w zapcore.WriteSyncer) (zapcore.Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return zapcore.NewCore(newEncoder(cfg.Format), w, zap.NewAtomicLevelAt(cfg.Level)), nil
}

// New creates a logger writing to stderr.
func New(cfg Config, opts ...zap.Option) (*zap.Logger, error) {
	core, err := NewCore(cfg, zapcore.Lock(os.Stderr))
	if err != nil {
		return nil, err
	}
	return zap.New(core, append([]zap.Option{zap.AddCaller()}, opts...)...), nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == FormatConsole {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
