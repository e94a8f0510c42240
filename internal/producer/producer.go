// Package producer implements the application-facing signal producers: the
// Tracer, the Meter and the Logger. Producer calls only ever append to an
// exporter's batch; they never block on the network, never return errors and
// never panic into the caller. Faults are counted by diagnostics instead.
package producer

import (
	"github.com/deepaksharma/otlp-signal-pipeline/internal/diagnostics"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

// Recorder accepts finished records. *exporter.Exporter implements it.
type Recorder[R any] interface {
	Record(R) bool
}

// Limits caps the size of a span.
type Limits struct {
	AttributeCount      int
	EventCount          int
	EventAttributeCount int
}

// DefaultLimits returns the default span limits.
func DefaultLimits() Limits {
	return Limits{
		AttributeCount:      128,
		EventCount:          128,
		EventAttributeCount: 128,
	}
}

// Settings are shared by every producer of a pipeline.
type Settings struct {
	Scope       signal.Scope
	Resource    *signal.Resource
	Diagnostics *diagnostics.Manager
}

func (s Settings) diag() *diagnostics.Manager {
	if s.Diagnostics == nil {
		return diagnostics.NewManager(nil)
	}
	return s.Diagnostics
}
