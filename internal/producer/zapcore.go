package producer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap/zapcore"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

// zapCore forwards zap entries to a Logger, so ordinary zap calls become log
// records. A context.Context passed as a field, e.g. zap.Any("ctx", ctx),
// correlates the entry with the span current in that context and is not
// exported as an attribute.
type zapCore struct {
	zapcore.LevelEnabler
	logger *Logger
	attrs  []attribute.KeyValue
	ctx    context.Context
}

// NewZapCore returns a zapcore.Core writing into logger. Tee it with a console
// core to log both locally and through the pipeline.
func NewZapCore(logger *Logger, level zapcore.LevelEnabler) zapcore.Core {
	return &zapCore{LevelEnabler: level, logger: logger}
}

func (c *zapCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &zapCore{
		LevelEnabler: c.LevelEnabler,
		logger:       c.logger,
		ctx:          c.ctx,
		attrs:        append([]attribute.KeyValue(nil), c.attrs...),
	}
	clone.ctx, clone.attrs = appendFields(clone.ctx, clone.attrs, fields)
	return clone
}

func (c *zapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) && c.logger.Enabled(zapSeverity(ent.Level)) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *zapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	defer c.logger.diag.Recover("zapcore.write")

	ctx, attrs := appendFields(c.ctx, append([]attribute.KeyValue(nil), c.attrs...), fields)
	if ent.LoggerName != "" {
		attrs = append(attrs, attribute.String("logger.name", ent.LoggerName))
	}
	if ent.Caller.Defined {
		attrs = append(attrs,
			semconv.CodeFilepath(ent.Caller.File),
			semconv.CodeLineNumber(ent.Caller.Line))
	}

	ts := ent.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.logger.emit(ctx, ts, zapSeverity(ent.Level), "", ent.Message, attrs)
	return nil
}

func (c *zapCore) Sync() error {
	return nil
}

// appendFields converts zap fields to attributes, picking out a context field.
func appendFields(ctx context.Context, attrs []attribute.KeyValue, fields []zapcore.Field) (context.Context, []attribute.KeyValue) {
	for _, f := range fields {
		if fctx, ok := f.Interface.(context.Context); ok {
			ctx = fctx
			continue
		}

		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		for k, v := range enc.Fields {
			attrs = append(attrs, signal.AttributeFromAny(k, v))
		}
	}
	return ctx, attrs
}

func zapSeverity(level zapcore.Level) signal.Severity {
	switch {
	case level >= zapcore.FatalLevel:
		return signal.SeverityFatal
	case level >= zapcore.ErrorLevel:
		return signal.SeverityError
	case level >= zapcore.WarnLevel:
		return signal.SeverityWarn
	case level >= zapcore.InfoLevel:
		return signal.SeverityInfo
	default:
		return signal.SeverityDebug
	}
}
