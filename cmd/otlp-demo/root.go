package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/config"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/logging"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/pipeline"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/producer"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/workload"
)

type rootOptions struct {
	configPath string
	endpoint   string
	iterations int
}

func newRootCommand() *cobra.Command {
	return newCommand(&rootOptions{})
}

func newCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otlp-demo",
		Short: "Emit demo telemetry to an OTLP collector",
		Long: `otlp-demo runs a few timed iterations, each traced as a demo-operation span
with correlated log records and an outbound HTTP call, and ships the resulting
traces, metrics and logs to an OTLP collector. On exit, or on SIGINT/SIGTERM,
the pipeline is flushed and shut down within the configured deadline.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.endpoint, "endpoint", "", "collector endpoint, e.g. localhost:4317")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 0, "number of demo iterations")

	cmd.AddCommand(newReplayCommand(opts))
	return cmd
}

// loadConfig loads the configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("endpoint") {
		cfg.Exporter.Endpoint = opts.endpoint
	}
	if f := cmd.Flags().Lookup("iterations"); f != nil && f.Changed {
		cfg.Workload.Iterations = opts.iterations
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runDemo(cmd *cobra.Command, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	console, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = console.Sync() }()

	pipelineOpts := []pipeline.Option{pipeline.WithLogger(console.Named("pipeline"))}
	if addr := cfg.Diagnostics.ListenAddr; addr != "" {
		diag, err := serveDiagnostics(addr, console)
		if err != nil {
			return err
		}
		defer func() {
			if err := diag.shutdown(context.Background()); err != nil {
				console.Warn("Failed to stop diagnostics endpoint", zap.Error(err))
			}
		}()
		pipelineOpts = append(pipelineOpts, pipeline.WithDiagnosticsMeter(diag.meter))
	}

	controller, err := pipeline.New(cfg, pipelineOpts...)
	if err != nil {
		return err
	}

	// Application logs go to the console and, through the pipeline, to the
	// collector. The pipeline's own diagnostics stay on the console only.
	consoleCore, err := logging.NewCore(cfg.Logging, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	logger := zap.New(zapcore.NewTee(
		consoleCore,
		producer.NewZapCore(controller.Logger(), cfg.Logging.Level),
	), zap.AddCaller()).Named("otlp-demo")

	logger.Info("Starting otlp-demo",
		zap.String("service", cfg.Service.Name),
		zap.String("endpoint", cfg.Exporter.Endpoint))

	runErr := runWorkload(ctx, cfg, controller, logger)
	if errors.Is(runErr, context.Canceled) {
		logger.Info("Interrupted, stopping the workload")
		runErr = nil
	}

	logger.Info("Demo finished, flushing providers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer cancel()
	telemetryErr := multierr.Combine(
		controller.ForceFlushAll(shutdownCtx),
		controller.ShutdownAll(shutdownCtx),
	)
	if telemetryErr != nil {
		// Telemetry is best effort and never fails the process
		console.Warn("Telemetry was not fully delivered", zap.Error(telemetryErr))
	}

	report := controller.Diagnostics().Snapshot()
	for name, s := range report.Exporters {
		console.Info("Delivery summary",
			zap.String("signal", name),
			zap.Int64("exported", s.Exported),
			zap.Int64("dropped", s.Dropped))
	}
	return runErr
}

func runWorkload(ctx context.Context, cfg *config.Config, controller *pipeline.Controller, logger *zap.Logger) error {
	runner, err := workload.NewRunner(cfg.Workload, controller, workload.WithLogger(logger))
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}
