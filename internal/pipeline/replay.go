package pipeline

import (
	"context"

	"go.uber.org/multierr"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/otlp"
	"github.com/deepaksharma/otlp-signal-pipeline/internal/spool"
)

// ReplaySpool re-sends every spooled payload on t and removes the ones the
// collector accepted. Each payload kind is replayed independently; it returns
// the total replayed and the combined errors.
func ReplaySpool(ctx context.Context, store *spool.Store, t otlp.Transport) (int, error) {
	var (
		total int
		errs  error
	)
	for _, kind := range []string{otlp.KindTraces, otlp.KindMetrics, otlp.KindLogs} {
		n, err := store.Replay(ctx, kind, func(ctx context.Context, payload []byte) error {
			return otlp.Replay(ctx, t, kind, payload)
		})
		total += n
		errs = multierr.Append(errs, err)
	}
	return total, errs
}
