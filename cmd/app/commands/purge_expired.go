package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ExpiredPurger deletes records whose retention has passed.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context, now time.Time, dryRun bool) (int64, error)
}

// RunPurgeExpired deletes Resolved and Archived records past their retention together with
// their bodies. With dryRun it only counts them.
func RunPurgeExpired(
	ctx context.Context,
	purger ExpiredPurger,
	logger *slog.Logger,
	writer io.Writer,
	dryRun bool,
	format string,
) error {
	now := time.Now().UTC()
	logger.Info("purging expired failed messages", slog.Bool("dry_run", dryRun))

	count, err := purger.PurgeExpired(ctx, now, dryRun)
	if err != nil {
		return fmt.Errorf("failed to purge expired failed messages: %w", err)
	}

	if format == "json" {
		if err := writeJSON(writer, map[string]any{
			"count":   count,
			"dry_run": dryRun,
		}); err != nil {
			return err
		}
	} else if dryRun {
		_, _ = fmt.Fprintf(writer, "Dry-run mode: Would delete %d expired failed message(s)\n", count)
	} else {
		_, _ = fmt.Fprintf(writer, "Successfully deleted %d expired failed message(s)\n", count)
	}

	logger.Info("purge completed", slog.Int64("count", count), slog.Bool("dry_run", dryRun))
	return nil
}
