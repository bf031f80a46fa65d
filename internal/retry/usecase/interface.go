// Package usecase implements the retry staging protocol, the forwarding coordinator and the
// operator-facing retry requests.
package usecase

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	fmusecase "github.com/allisson/recoverability/internal/failedmessage/usecase"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// RetryBatchRepository defines RetryBatch persistence.
type RetryBatchRepository interface {
	Create(ctx context.Context, batch *domain.RetryBatch) error
	Update(ctx context.Context, batch *domain.RetryBatch) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BatchStatus) error
	Get(ctx context.Context, id uuid.UUID) (*domain.RetryBatch, error)
	GetStagingBatch(ctx context.Context) (*domain.RetryBatch, error)
	ListOrphaned(ctx context.Context, sessionID string) ([]*domain.RetryBatch, error)
	List(ctx context.Context, offset, limit int) ([]*domain.RetryBatch, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// FailedMessageRetryRepository defines persistence for the per-message retry markers.
type FailedMessageRetryRepository interface {
	// CreateIfMissing reports whether the marker was created by this call.
	CreateIfMissing(ctx context.Context, retry *domain.FailedMessageRetry) (bool, error)
	Get(ctx context.Context, failedMessageID uuid.UUID) (*domain.FailedMessageRetry, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.FailedMessageRetry, error)
	CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error)
	IncrementStageAttempts(ctx context.Context, failedMessageIDs []uuid.UUID) error
	Release(ctx context.Context, failedMessageID, batchID uuid.UUID) error
	Delete(ctx context.Context, failedMessageID uuid.UUID) error
	DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int64, error)
	// DeleteDangling removes markers whose batch no longer exists.
	DeleteDangling(ctx context.Context) (int64, error)
}

// NowForwardingRepository defines persistence for the now-forwarding lease.
type NowForwardingRepository interface {
	Get(ctx context.Context) (*domain.NowForwarding, error)
	Acquire(ctx context.Context, lease *domain.NowForwarding) error
	Release(ctx context.Context, batchID uuid.UUID) error
}

// FailedMessageStore is the part of the failure record store the retry protocol writes through.
type FailedMessageStore interface {
	Get(ctx context.Context, id uuid.UUID) (*fmdomain.FailedMessage, error)
	UpdateStatus(ctx context.Context, msg *fmdomain.FailedMessage) error
	List(ctx context.Context, filter fmdomain.Filter, offset, limit int) ([]*fmdomain.FailedMessage, error)
}

// FailedMessageReader streams and resolves failure records.
type FailedMessageReader interface {
	Stream(ctx context.Context, filter fmdomain.Filter) iter.Seq2[*fmdomain.FailedMessage, error]
	ProcessPendingRetries(
		ctx context.Context,
		from, to time.Time,
		queueAddress string,
		callback fmusecase.PendingRetryCallback,
	) error
	MarkAsResolved(ctx context.Context, id uuid.UUID) (bool, error)
}

// Dispatcher hands a failed message back to the transport for redelivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *fmdomain.FailedMessage, batch *domain.RetryBatch) error
}

// CreateBatchInput describes a new retry batch.
type CreateBatchInput struct {
	SessionID  string
	RequestID  string
	RetryType  domain.RetryType
	MessageIDs []uuid.UUID
	Originator string
	StartTime  time.Time
	Last       *time.Time
	Context    string
	Classifier string
}

// StagedBatch is a batch in Staging together with the markers it owns.
type StagedBatch struct {
	Batch   *domain.RetryBatch
	Retries []*domain.FailedMessageRetry
}

// RetryRequest reports what a retry request staged.
type RetryRequest struct {
	RequestID string           `json:"request_id"`
	RetryType domain.RetryType `json:"retry_type"`
	Batches   int              `json:"batches"`
	Staged    int              `json:"staged"`
}

// PendingFilter selects RetryIssued records by last modification window and queue address.
type PendingFilter struct {
	From         time.Time
	To           time.Time
	QueueAddress string
}

// StagingUseCase defines the retry staging protocol.
type StagingUseCase interface {
	// CreateBatchDocument always creates a new batch in MarkingDocuments.
	CreateBatchDocument(ctx context.Context, input CreateBatchInput) (uuid.UUID, error)
	// StageRetryByIDs reserves each message for the batch unless another batch already holds
	// it, and returns the ids this batch acquired.
	StageRetryByIDs(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
	// MoveBatchToStaging is a no-op when the batch already left MarkingDocuments.
	MoveBatchToStaging(ctx context.Context, batchID uuid.UUID) error
	QueryOrphanedBatches(ctx context.Context, sessionID string, cutoff time.Time) ([]*domain.RetryBatch, error)
	// AdoptOrphanedBatches reclaims every orphan of another session and returns how many it removed.
	AdoptOrphanedBatches(ctx context.Context, cutoff time.Time) (int, error)
	// StartOrphanSweeper sweeps once immediately and then on every tick until ctx is done.
	StartOrphanSweeper(ctx context.Context) error
}

// ForwardingUseCase defines the retry forwarding coordinator.
type ForwardingUseCase interface {
	Start(ctx context.Context) error
	// ForwardNextBatch forwards one batch and reports whether it completed.
	ForwardNextBatch(ctx context.Context) (bool, error)
	GetStagingBatch(ctx context.Context) (*StagedBatch, error)
	BeginForwarding(ctx context.Context, batch *domain.RetryBatch) (bool, error)
	RecordFailedStagingAttempt(
		ctx context.Context,
		batch *domain.RetryBatch,
		retries []*domain.FailedMessageRetry,
		cause error,
	) error
	CompleteBatch(ctx context.Context, batch *domain.RetryBatch) (bool, error)
}

// RetryUseCase defines the operator-facing retry operations.
type RetryUseCase interface {
	RetryByIDs(ctx context.Context, ids []uuid.UUID) (*RetryRequest, error)
	RetryByEndpoint(ctx context.Context, endpoint string) (*RetryRequest, error)
	RetryByQueueAddress(ctx context.Context, queueAddress string) (*RetryRequest, error)
	RetryByGroup(ctx context.Context, groupID uuid.UUID) (*RetryRequest, error)
	RetryAll(ctx context.Context) (*RetryRequest, error)
	// RevertRetry resets a RetryIssued record to Unresolved and drops its marker. It races with
	// forwarding on a last-write-wins basis.
	RevertRetry(ctx context.Context, id uuid.UUID) error
	ListPendingRetries(ctx context.Context, filter PendingFilter, offset, limit int) ([]*fmdomain.FailedMessage, error)
	ResolvePending(ctx context.Context, filter PendingFilter) (int, error)
	RetryPending(ctx context.Context, filter PendingFilter) (*RetryRequest, error)
	ListBatches(ctx context.Context, offset, limit int) ([]*domain.RetryBatch, error)
}

// OperationTracker records the progress of long running retry requests for operators.
type OperationTracker interface {
	Begin(operationType, requestID string, total int) uuid.UUID
	Complete(id uuid.UUID, completed int)
	Fail(id uuid.UUID, err error)
}
