package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/metrics"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// retryUseCaseWithMetrics decorates RetryUseCase with metrics instrumentation.
type retryUseCaseWithMetrics struct {
	next    RetryUseCase
	metrics metrics.BusinessMetrics
}

// NewRetryUseCaseWithMetrics wraps a RetryUseCase with metrics recording.
func NewRetryUseCaseWithMetrics(useCase RetryUseCase, m metrics.BusinessMetrics) RetryUseCase {
	return &retryUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (r *retryUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.metrics.RecordOperation(ctx, "retries", operation, status)
	r.metrics.RecordDuration(ctx, "retries", operation, time.Since(start), status)
}

// RetryByIDs records metrics for retry by id operations.
func (r *retryUseCaseWithMetrics) RetryByIDs(ctx context.Context, ids []uuid.UUID) (*RetryRequest, error) {
	start := time.Now()
	result, err := r.next.RetryByIDs(ctx, ids)
	r.record(ctx, "retry_by_ids", start, err)
	return result, err
}

// RetryByEndpoint records metrics for endpoint retries.
func (r *retryUseCaseWithMetrics) RetryByEndpoint(ctx context.Context, endpoint string) (*RetryRequest, error) {
	start := time.Now()
	result, err := r.next.RetryByEndpoint(ctx, endpoint)
	r.record(ctx, "retry_by_endpoint", start, err)
	return result, err
}

// RetryByQueueAddress records metrics for queue address retries.
func (r *retryUseCaseWithMetrics) RetryByQueueAddress(ctx context.Context, queueAddress string) (*RetryRequest, error) {
	start := time.Now()
	result, err := r.next.RetryByQueueAddress(ctx, queueAddress)
	r.record(ctx, "retry_by_queue_address", start, err)
	return result, err
}

// RetryByGroup records metrics for group retries.
func (r *retryUseCaseWithMetrics) RetryByGroup(ctx context.Context, groupID uuid.UUID) (*RetryRequest, error) {
	start := time.Now()
	result, err := r.next.RetryByGroup(ctx, groupID)
	r.record(ctx, "retry_by_group", start, err)
	return result, err
}

// RetryAll records metrics for retry all operations.
func (r *retryUseCaseWithMetrics) RetryAll(ctx context.Context) (*RetryRequest, error) {
	start := time.Now()
	result, err := r.next.RetryAll(ctx)
	r.record(ctx, "retry_all", start, err)
	return result, err
}

// RevertRetry records metrics for revert operations.
func (r *retryUseCaseWithMetrics) RevertRetry(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := r.next.RevertRetry(ctx, id)
	r.record(ctx, "revert_retry", start, err)
	return err
}

// ListPendingRetries records metrics for pending retry listings.
func (r *retryUseCaseWithMetrics) ListPendingRetries(
	ctx context.Context,
	filter PendingFilter,
	offset, limit int,
) ([]*fmdomain.FailedMessage, error) {
	start := time.Now()
	result, err := r.next.ListPendingRetries(ctx, filter, offset, limit)
	r.record(ctx, "list_pending_retries", start, err)
	return result, err
}

// ResolvePending records metrics for pending retry resolution.
func (r *retryUseCaseWithMetrics) ResolvePending(ctx context.Context, filter PendingFilter) (int, error) {
	start := time.Now()
	result, err := r.next.ResolvePending(ctx, filter)
	r.record(ctx, "resolve_pending", start, err)
	return result, err
}

// RetryPending records metrics for pending retry reissue.
func (r *retryUseCaseWithMetrics) RetryPending(ctx context.Context, filter PendingFilter) (*RetryRequest, error) {
	start := time.Now()
	result, err := r.next.RetryPending(ctx, filter)
	r.record(ctx, "retry_pending", start, err)
	return result, err
}

// ListBatches records metrics for batch listings.
func (r *retryUseCaseWithMetrics) ListBatches(ctx context.Context, offset, limit int) ([]*domain.RetryBatch, error) {
	start := time.Now()
	result, err := r.next.ListBatches(ctx, offset, limit)
	r.record(ctx, "list_batches", start, err)
	return result, err
}
