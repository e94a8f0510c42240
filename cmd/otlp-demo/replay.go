package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/logging"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/otlp"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/pipeline"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/spool"
)

func newReplayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Re-send batches persisted in the spool",
		Long: `replay sends every batch the exporters gave up on, and persisted in the spool,
to the configured collector. Batches the collector accepts are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.Spool.Path == "" {
				return errors.New("spool.path is not configured")
			}

			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			store, err := spool.Open(cfg.Spool.Path, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			transport, err := otlp.NewTransport(cfg.Exporter, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := transport.Close(cmd.Context()); err != nil {
					logger.Warn("Failed to close transport", zap.Error(err))
				}
			}()

			n, err := pipeline.ReplaySpool(cmd.Context(), store, transport)
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d payloads\n", n)
			return err
		},
	}
}
