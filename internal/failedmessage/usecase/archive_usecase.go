package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

// Operation types reported to the OperationTracker.
const (
	OperationArchiveGroup     = "archive_group"
	OperationUnarchiveGroup   = "unarchive_group"
	OperationUnarchiveByRange = "unarchive_range"
)

// archiveUseCase implements ArchiveUseCase.
type archiveUseCase struct {
	repo       FailedMessageRepository
	expiration domain.ExpirationPolicy
	operations OperationTracker
	logger     *slog.Logger
	now        func() time.Time
}

// ArchiveByIDs archives each record that may be archived. Records that are missing, already
// archived, not archivable or changed concurrently are skipped.
func (a *archiveUseCase) ArchiveByIDs(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	messages, err := a.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{IDs: make([]uuid.UUID, 0, len(messages))}
	for _, msg := range messages {
		if msg.Status == domain.StatusArchived || !msg.Status.CanTransitionTo(domain.StatusArchived) {
			continue
		}

		msg.Status = domain.StatusArchived
		a.expiration.Apply(msg, a.now())

		changed, err := a.updateStatus(ctx, msg)
		if err != nil {
			return nil, err
		}
		if changed {
			result.IDs = append(result.IDs, msg.ID)
		}
	}

	result.Count = len(result.IDs)
	return result, nil
}

// UnarchiveByIDs moves each Archived record among ids back to Unresolved.
func (a *archiveUseCase) UnarchiveByIDs(ctx context.Context, ids []uuid.UUID) (*BulkResult, error) {
	messages, err := a.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{IDs: make([]uuid.UUID, 0, len(messages))}
	for _, msg := range messages {
		if msg.Status != domain.StatusArchived {
			continue
		}

		msg.Status = domain.StatusUnresolved
		a.expiration.Apply(msg, a.now())

		changed, err := a.updateStatus(ctx, msg)
		if err != nil {
			return nil, err
		}
		if changed {
			result.IDs = append(result.IDs, msg.ID)
		}
	}

	result.Count = len(result.IDs)
	return result, nil
}

// UnarchiveByRange flips Archived records modified within [from, to] to Unresolved in one
// bulk statement. cutoff is accepted as the consistency watermark of the request; the SQL
// stores are read-committed so it does not narrow the match.
func (a *archiveUseCase) UnarchiveByRange(ctx context.Context, from, to, cutoff time.Time) (*BulkResult, error) {
	if to.Before(from) {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "range end must not be before range start")
	}

	filter := domain.Filter{
		Statuses:     []domain.Status{domain.StatusArchived},
		ModifiedFrom: &from,
		ModifiedTo:   &to,
	}

	a.logger.Debug("unarchiving failed messages by range",
		slog.Time("from", from),
		slog.Time("to", to),
		slog.Time("cutoff", cutoff),
	)

	return a.bulk(ctx, OperationUnarchiveByRange, from.Format(time.RFC3339)+"/"+to.Format(time.RFC3339), filter, domain.StatusUnresolved)
}

// ArchiveGroup archives every Unresolved record of a failure group in one bulk statement.
func (a *archiveUseCase) ArchiveGroup(ctx context.Context, groupID uuid.UUID) (*BulkResult, error) {
	filter := domain.Filter{
		Statuses: []domain.Status{domain.StatusUnresolved},
		GroupID:  groupID,
	}
	return a.bulk(ctx, OperationArchiveGroup, groupID.String(), filter, domain.StatusArchived)
}

// UnarchiveGroup moves every Archived record of a failure group back to Unresolved.
func (a *archiveUseCase) UnarchiveGroup(ctx context.Context, groupID uuid.UUID) (*BulkResult, error) {
	filter := domain.Filter{
		Statuses: []domain.Status{domain.StatusArchived},
		GroupID:  groupID,
	}
	return a.bulk(ctx, OperationUnarchiveGroup, groupID.String(), filter, domain.StatusUnresolved)
}

func (a *archiveUseCase) bulk(
	ctx context.Context,
	operationType, requestID string,
	filter domain.Filter,
	status domain.Status,
) (*BulkResult, error) {
	var expiresAt *time.Time
	if status == domain.StatusArchived {
		expiresAt = a.expiration.ExpiresAt(a.now())
	}

	operationID := a.operations.Begin(operationType, requestID, 0)

	ids, err := a.repo.BulkUpdateStatus(ctx, filter, status, expiresAt)
	if err != nil {
		a.operations.Fail(operationID, err)
		return nil, err
	}

	a.operations.Complete(operationID, len(ids))
	return &BulkResult{IDs: ids, Count: len(ids)}, nil
}

func (a *archiveUseCase) updateStatus(ctx context.Context, msg *domain.FailedMessage) (bool, error) {
	if err := a.repo.UpdateStatus(ctx, msg); err != nil {
		if apperrors.IsConflict(err) {
			a.logger.Debug("failed message changed concurrently",
				slog.String("failed_message_id", msg.ID.String()),
			)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewArchiveUseCase creates a new ArchiveUseCase.
func NewArchiveUseCase(
	repo FailedMessageRepository,
	expiration domain.ExpirationPolicy,
	operations OperationTracker,
	logger *slog.Logger,
) ArchiveUseCase {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &archiveUseCase{
		repo:       repo,
		expiration: expiration,
		operations: operations,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}
