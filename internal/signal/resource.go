// Package signal holds the data model shared by the producers and the exporters:
// the resource descriptor, span contexts and the three signal record types.
package signal

import (
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource describes the emitting process. It is built once per pipeline and
// only ever read afterwards, so a single pointer is shared by every record.
type Resource struct {
	attrs attribute.Set
}

// NewResource creates a resource from the given attributes. Later duplicates of
// a key win over earlier ones.
func NewResource(kvs ...attribute.KeyValue) *Resource {
	return &Resource{attrs: attribute.NewSet(kvs...)}
}

// Attributes returns a copy of the resource attributes sorted by key.
func (r *Resource) Attributes() []attribute.KeyValue {
	if r == nil {
		return nil
	}
	return r.attrs.ToSlice()
}

// Value returns the value stored for key.
func (r *Resource) Value(key string) (attribute.Value, bool) {
	if r == nil {
		return attribute.Value{}, false
	}
	return r.attrs.Value(attribute.Key(key))
}

// Len returns the number of attributes.
func (r *Resource) Len() int {
	if r == nil {
		return 0
	}
	return r.attrs.Len()
}

// ServiceName returns the service.name attribute, or "unknown" when it is missing.
func (r *Resource) ServiceName() string {
	if v, ok := r.Value(string(semconv.ServiceNameKey)); ok && v.AsString() != "" {
		return v.AsString()
	}
	return "unknown"
}

// Scope identifies the instrumentation library that produced a record.
type Scope struct {
	Name    string
	Version string
}
