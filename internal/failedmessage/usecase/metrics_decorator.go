package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/metrics"
)

// archiveUseCaseWithMetrics decorates ArchiveUseCase with metrics instrumentation.
type archiveUseCaseWithMetrics struct {
	next    ArchiveUseCase
	metrics metrics.BusinessMetrics
}

// NewArchiveUseCaseWithMetrics wraps an ArchiveUseCase with metrics recording.
func NewArchiveUseCaseWithMetrics(useCase ArchiveUseCase, m metrics.BusinessMetrics) ArchiveUseCase {
	return &archiveUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (a *archiveUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	a.metrics.RecordOperation(ctx, "failed_messages", operation, status)
	a.metrics.RecordDuration(ctx, "failed_messages", operation, time.Since(start), status)
}

// ArchiveByIDs records metrics for archive by id operations.
func (a *archiveUseCaseWithMetrics) ArchiveByIDs(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	start := time.Now()
	result, err := a.next.ArchiveByIDs(ctx, ids)
	a.record(ctx, "archive_by_ids", start, err)
	return result, err
}

// UnarchiveByIDs records metrics for unarchive by id operations.
func (a *archiveUseCaseWithMetrics) UnarchiveByIDs(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	start := time.Now()
	result, err := a.next.UnarchiveByIDs(ctx, ids)
	a.record(ctx, "unarchive_by_ids", start, err)
	return result, err
}

// UnarchiveByRange records metrics for range unarchive operations.
func (a *archiveUseCaseWithMetrics) UnarchiveByRange(
	ctx context.Context,
	from, to, cutoff time.Time,
) (*BulkResult, error) {
	start := time.Now()
	result, err := a.next.UnarchiveByRange(ctx, from, to, cutoff)
	a.record(ctx, "unarchive_by_range", start, err)
	return result, err
}

// ArchiveGroup records metrics for group archive operations.
func (a *archiveUseCaseWithMetrics) ArchiveGroup(ctx context.Context, groupID uuid.UUID) (*BulkResult, error) {
	start := time.Now()
	result, err := a.next.ArchiveGroup(ctx, groupID)
	a.record(ctx, "archive_group", start, err)
	return result, err
}

// UnarchiveGroup records metrics for group unarchive operations.
func (a *archiveUseCaseWithMetrics) UnarchiveGroup(ctx context.Context, groupID uuid.UUID) (*BulkResult, error) {
	start := time.Now()
	result, err := a.next.UnarchiveGroup(ctx, groupID)
	a.record(ctx, "unarchive_group", start, err)
	return result, err
}
