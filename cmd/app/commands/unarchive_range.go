package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	fmUseCase "github.com/allisson/recoverability/internal/failedmessage/usecase"
)

// RangeUnarchiver restores archived records last modified within a time range.
type RangeUnarchiver interface {
	UnarchiveByRange(ctx context.Context, from, to, cutoff time.Time) (*fmUseCase.BulkResult, error)
}

// RunUnarchiveRange moves every Archived record last modified within [from, to] back to Unresolved.
func RunUnarchiveRange(
	ctx context.Context,
	unarchiver RangeUnarchiver,
	logger *slog.Logger,
	writer io.Writer,
	fromDate, toDate string,
	format string,
) error {
	from, err := parseDate(fromDate)
	if err != nil {
		return fmt.Errorf("invalid from date: %w", err)
	}

	to, err := parseDate(toDate)
	if err != nil {
		return fmt.Errorf("invalid to date: %w", err)
	}

	if from.After(to) {
		return fmt.Errorf("from date must not be after to date")
	}

	logger.Info("unarchiving failed messages",
		slog.Time("from", from),
		slog.Time("to", to),
	)

	result, err := unarchiver.UnarchiveByRange(ctx, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to unarchive failed messages: %w", err)
	}

	if format == "json" {
		if err := writeJSON(writer, map[string]any{
			"count": result.Count,
			"from":  from,
			"to":    to,
		}); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(writer,
			"Unarchived %d failed message(s) modified between %s and %s\n",
			result.Count,
			from.Format(time.RFC3339),
			to.Format(time.RFC3339),
		)
	}

	logger.Info("unarchive completed", slog.Int("count", result.Count))
	return nil
}

// parseDate accepts RFC 3339 timestamps, "YYYY-MM-DD HH:MM:SS" and "YYYY-MM-DD", in UTC.
func parseDate(dateStr string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"invalid date format (expected RFC 3339, YYYY-MM-DD or YYYY-MM-DD HH:MM:SS): %s",
		dateStr,
	)
}

// writeJSON writes v indented for machine consumption.
func writeJSON(writer io.Writer, v any) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, _ = fmt.Fprintln(writer, string(jsonBytes))
	return nil
}
