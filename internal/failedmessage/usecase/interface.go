// Package usecase implements the failure record store operations, failure ingestion and the
// archive engine on top of the failed message repositories.
package usecase

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

// FailedMessageRepository defines the persistence port for FailedMessage records.
type FailedMessageRepository interface {
	Create(ctx context.Context, msg *domain.FailedMessage) error
	Update(ctx context.Context, msg *domain.FailedMessage) error
	UpdateStatus(ctx context.Context, msg *domain.FailedMessage) error
	Get(ctx context.Context, id uuid.UUID) (*domain.FailedMessage, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*domain.FailedMessage, error)
	List(ctx context.Context, filter domain.Filter, offset, limit int) ([]*domain.FailedMessage, error)
	ListAfter(
		ctx context.Context,
		filter domain.Filter,
		cursor domain.Cursor,
		limit int,
	) ([]*domain.FailedMessage, error)
	BulkUpdateStatus(
		ctx context.Context,
		filter domain.Filter,
		status domain.Status,
		expiresAt *time.Time,
	) ([]uuid.UUID, error)
	CountByStatus(ctx context.Context) (domain.StatusCounts, error)
	ListGroups(ctx context.Context, classifier string, limit int) ([]*domain.FailureGroupView, error)
	ListQueueAddresses(ctx context.Context, search string, offset, limit int) ([]*domain.QueueAddressView, error)
	ListEndpoints(ctx context.Context) ([]*domain.EndpointView, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.FailedMessage, error)
	CountExpired(ctx context.Context, now time.Time) (int64, error)
	Delete(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// GroupCommentRepository defines persistence for operator comments on failure groups.
type GroupCommentRepository interface {
	Upsert(ctx context.Context, comment *domain.GroupComment) error
	Get(ctx context.Context, groupID uuid.UUID) (*domain.GroupComment, error)
	Delete(ctx context.Context, groupID uuid.UUID) error
}

// BodyStore keeps message bodies outside the failure record.
type BodyStore interface {
	Write(ctx context.Context, key string, body []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// OperationTracker records the progress of long running bulk operations for operators.
type OperationTracker interface {
	Begin(operationType, requestID string, total int) uuid.UUID
	Complete(id uuid.UUID, completed int)
	Fail(id uuid.UUID, err error)
}

// RecordInput describes one failure observed by the audit pipeline.
type RecordInput struct {
	MessageID         string
	MessageType       string
	ReceivingEndpoint string
	AttemptID         uuid.UUID
	Headers           map[string]string
	MessageMetadata   map[string]string
	Body              []byte
	ContentType       string
	FailureDetails    domain.FailureDetails
}

// BulkResult lists the records a bulk transition actually changed.
type BulkResult struct {
	IDs   []uuid.UUID
	Count int
}

// PendingRetryCallback is invoked once per RetryIssued record during a reconciliation sweep.
type PendingRetryCallback func(ctx context.Context, id uuid.UUID) error

// FailedMessageUseCase defines the failure record store operations.
type FailedMessageUseCase interface {
	// Record ingests one failure, creating the record or appending the attempt.
	Record(ctx context.Context, input RecordInput) (*domain.FailedMessage, error)
	// FetchByID returns nil without an error when the record does not exist.
	FetchByID(ctx context.Context, id uuid.UUID) (*domain.FailedMessage, error)
	// FetchMany omits ids that do not exist.
	FetchMany(ctx context.Context, ids []uuid.UUID) ([]*domain.FailedMessage, error)
	List(ctx context.Context, filter domain.Filter, offset, limit int) ([]*domain.FailedMessage, error)
	Stream(ctx context.Context, filter domain.Filter) iter.Seq2[*domain.FailedMessage, error]
	// MarkAsArchived is idempotent. It returns false when the record does not exist
	// or another writer changed it first.
	MarkAsArchived(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkAsResolved returns false when the record does not exist, is no longer
	// RetryIssued, or another writer changed it first.
	MarkAsResolved(ctx context.Context, id uuid.UUID) (bool, error)
	ProcessPendingRetries(
		ctx context.Context,
		from, to time.Time,
		queueAddress string,
		callback PendingRetryCallback,
	) error
	GetFailureGroupsByClassifier(ctx context.Context, classifier string) ([]*domain.FailureGroupView, error)
	ListQueueAddresses(ctx context.Context, search string, offset, limit int) ([]*domain.QueueAddressView, error)
	ListEndpoints(ctx context.Context) ([]*domain.EndpointView, error)
	CountByStatus(ctx context.Context) (domain.StatusCounts, error)
	EditComment(ctx context.Context, groupID uuid.UUID, comment string) error
	DeleteComment(ctx context.Context, groupID uuid.UUID) error
	PurgeExpired(ctx context.Context, now time.Time, dryRun bool) (int64, error)
}

// ArchiveUseCase defines the bulk archive and unarchive operations.
type ArchiveUseCase interface {
	ArchiveByIDs(ctx context.Context, ids []uuid.UUID) (*BulkResult, error)
	UnarchiveByIDs(ctx context.Context, ids []uuid.UUID) (*BulkResult, error)
	// UnarchiveByRange flips every Archived record last modified within [from, to] in one
	// store-side bulk statement.
	UnarchiveByRange(ctx context.Context, from, to, cutoff time.Time) (*BulkResult, error)
	ArchiveGroup(ctx context.Context, groupID uuid.UUID) (*BulkResult, error)
	UnarchiveGroup(ctx context.Context, groupID uuid.UUID) (*BulkResult, error)
}
