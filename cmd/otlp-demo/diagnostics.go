package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/pipeline"
)

// diagnosticsEndpoint serves the pipeline's self-diagnostic counters in the
// Prometheus text format. It uses its own meter provider, never the pipeline.
type diagnosticsEndpoint struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	server   *http.Server
}

func serveDiagnostics(addr string, logger *zap.Logger) (*diagnosticsEndpoint, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Diagnostics endpoint stopped", zap.Error(err))
		}
	}()
	logger.Info("Serving diagnostics", zap.String("addr", ln.Addr().String()))

	return &diagnosticsEndpoint{
		meter:    provider.Meter(pipeline.ScopeName),
		provider: provider,
		server:   server,
	}, nil
}

func (d *diagnosticsEndpoint) shutdown(ctx context.Context) error {
	return multierr.Combine(
		d.server.Shutdown(ctx),
		d.provider.Shutdown(ctx),
	)
}
