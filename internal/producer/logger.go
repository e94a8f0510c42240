package producer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/propagator"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

// TemplateKey holds the unrendered message template of a log record.
const TemplateKey = attribute.Key("log.template")

// Logger emits structured log records correlated with the current span.
type Logger struct {
	// Configuration
	scope       signal.Scope
	resource    *signal.Resource
	minSeverity signal.Severity

	// Output
	recorder Recorder[signal.LogRecord]
	diag     *diagnostics.Manager
}

// NewLogger creates a new logger recording into recorder. Records below
// minSeverity are discarded.
func NewLogger(settings Settings, recorder Recorder[signal.LogRecord], minSeverity signal.Severity) *Logger {
	return &Logger{
		scope:       settings.Scope,
		resource:    settings.Resource,
		minSeverity: minSeverity,
		recorder:    recorder,
		diag:        settings.diag(),
	}
}

// Enabled reports whether records of severity sev are kept.
func (l *Logger) Enabled(sev signal.Severity) bool {
	return l != nil && sev >= l.minSeverity
}

// Log renders template with args and enqueues the record. The span current in
// ctx, if any, is attached for correlation.
func (l *Logger) Log(ctx context.Context, sev signal.Severity, template string, args []any, attrs ...attribute.KeyValue) {
	if !l.Enabled(sev) {
		return
	}
	defer l.diag.Recover("logger.log")

	body, bound := renderTemplate(template, args)
	all := make([]attribute.KeyValue, 0, len(bound)+len(attrs)+1)
	all = append(all, bound...)
	all = append(all, attrs...)
	if len(bound) > 0 {
		all = append(all, TemplateKey.String(template))
	}
	l.emit(ctx, time.Now(), sev, template, body, all)
}

func (l *Logger) emit(ctx context.Context, ts time.Time, sev signal.Severity, template, body string, attrs []attribute.KeyValue) {
	record := signal.LogRecord{
		Time:         ts,
		ObservedTime: time.Now(),
		Severity:     sev,
		Template:     template,
		Body:         body,
		Scope:        l.scope,
		Resource:     l.resource,
	}
	record.Attributes, _ = signal.UpsertAttributes(nil, 0, attrs...)
	if ctx != nil {
		record.SpanContext, _ = propagator.SpanContextFromContext(ctx)
	}

	if l.recorder != nil {
		l.recorder.Record(record)
	}
}

// Debug logs at debug severity.
func (l *Logger) Debug(ctx context.Context, template string, args ...any) {
	l.Log(ctx, signal.SeverityDebug, template, args)
}

// Info logs at info severity.
func (l *Logger) Info(ctx context.Context, template string, args ...any) {
	l.Log(ctx, signal.SeverityInfo, template, args)
}

// Warn logs at warning severity.
func (l *Logger) Warn(ctx context.Context, template string, args ...any) {
	l.Log(ctx, signal.SeverityWarn, template, args)
}

// Error logs at error severity.
func (l *Logger) Error(ctx context.Context, template string, args ...any) {
	l.Log(ctx, signal.SeverityError, template, args)
}
