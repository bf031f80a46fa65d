package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// OrphanAdopter reclaims retry batches left behind by sessions that are gone.
type OrphanAdopter interface {
	AdoptOrphanedBatches(ctx context.Context, cutoff time.Time) (int, error)
}

// RunAdoptOrphans reclaims every retry batch not owned by this process. Only run it while no
// other instance is staging batches.
func RunAdoptOrphans(
	ctx context.Context,
	adopter OrphanAdopter,
	logger *slog.Logger,
	writer io.Writer,
	format string,
) error {
	logger.Info("adopting orphaned retry batches")

	count, err := adopter.AdoptOrphanedBatches(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to adopt orphaned retry batches: %w", err)
	}

	if format == "json" {
		if err := writeJSON(writer, map[string]any{"count": count}); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(writer, "Adopted %d orphaned retry batch(es)\n", count)
	}

	logger.Info("adoption completed", slog.Int("count", count))
	return nil
}
