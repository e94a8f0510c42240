package producer

import (
	"context"
	"runtime"
)

// RuntimeMetrics samples Go runtime statistics into gauges of a Meter.
type RuntimeMetrics struct {
	goroutines *Gauge
	heapAlloc  *Gauge
	gcCount    *Gauge
}

// NewRuntimeMetrics creates a new runtime sampler on meter.
func NewRuntimeMetrics(meter *Meter) *RuntimeMetrics {
	return &RuntimeMetrics{
		goroutines: meter.Int64Gauge("process.runtime.go.goroutines",
			WithDescription("Number of goroutines that currently exist"),
			WithUnit("{goroutine}")),
		heapAlloc: meter.Int64Gauge("process.runtime.go.mem.heap_alloc",
			WithDescription("Bytes of allocated heap objects"),
			WithUnit("By")),
		gcCount: meter.Int64Gauge("process.runtime.go.gc.count",
			WithDescription("Number of completed garbage collection cycles"),
			WithUnit("{gc}")),
	}
}

// Collect records one sample of every gauge.
func (r *RuntimeMetrics) Collect(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	r.goroutines.Record(ctx, float64(runtime.NumGoroutine()))
	r.heapAlloc.Record(ctx, float64(ms.HeapAlloc))
	r.gcCount.Record(ctx, float64(ms.NumGC))
}
