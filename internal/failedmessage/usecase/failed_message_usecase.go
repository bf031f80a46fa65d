package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

const (
	defaultStreamPageSize = 500
	defaultGroupsLimit    = 200
)

// Config holds failed message use case configuration.
type Config struct {
	StreamPageSize int
	GroupsLimit    int
	Expiration     domain.ExpirationPolicy
}

// failedMessageUseCase implements FailedMessageUseCase.
type failedMessageUseCase struct {
	config      Config
	txManager   database.TxManager
	repo        FailedMessageRepository
	commentRepo GroupCommentRepository
	bodies      BodyStore
	classifiers []domain.Classifier
	logger      *slog.Logger
	now         func() time.Time
}

// Record ingests one failure observed by the audit pipeline. A redelivered attempt that
// is already part of the record is ignored.
func (f *failedMessageUseCase) Record(ctx context.Context, input RecordInput) (*domain.FailedMessage, error) {
	if input.MessageID == "" || input.ReceivingEndpoint == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "message id and receiving endpoint are required")
	}

	id := domain.NewFailedMessageID(input.MessageID, input.ReceivingEndpoint)
	attemptID := input.AttemptID
	if attemptID == uuid.Nil {
		attemptID = domain.NewAttemptID(id, input.FailureDetails.TimeOfFailure.UTC().Format(time.RFC3339Nano))
	}

	attempt := domain.ProcessingAttempt{
		AttemptID:       attemptID,
		MessageID:       input.MessageID,
		Headers:         input.Headers,
		MessageMetadata: input.MessageMetadata,
		BodySize:        len(input.Body),
		FailureDetails:  input.FailureDetails,
	}

	if len(input.Body) > 0 {
		attempt.BodyKey = bodyKey(id, attemptID)
		if err := f.bodies.Write(ctx, attempt.BodyKey, input.Body, input.ContentType); err != nil {
			return nil, err
		}
	}

	var recorded *domain.FailedMessage
	err := f.txManager.WithTx(ctx, func(ctx context.Context) error {
		existing, err := f.repo.Get(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrFailedMessageNotFound) {
			return err
		}

		if existing == nil {
			msg := &domain.FailedMessage{
				ID:                id,
				MessageID:         input.MessageID,
				MessageType:       input.MessageType,
				ReceivingEndpoint: input.ReceivingEndpoint,
				CreatedAt:         f.now(),
			}
			f.apply(msg, attempt)
			if err := f.repo.Create(ctx, msg); err != nil {
				return err
			}
			recorded = msg
			return nil
		}

		if existing.HasAttempt(attemptID) {
			recorded = existing
			return nil
		}

		if input.MessageType != "" {
			existing.MessageType = input.MessageType
		}
		f.apply(existing, attempt)
		if err := f.repo.Update(ctx, existing); err != nil {
			return err
		}
		recorded = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return recorded, nil
}

func (f *failedMessageUseCase) apply(msg *domain.FailedMessage, attempt domain.ProcessingAttempt) {
	msg.RecordAttempt(attempt)
	msg.FailureGroups = domain.Classify(msg, f.classifiers)
	f.config.Expiration.Apply(msg, f.now())
}

func bodyKey(id, attemptID uuid.UUID) string {
	return fmt.Sprintf("bodies/%s/%s", id, attemptID)
}

// FetchByID returns the record or nil when it does not exist.
func (f *failedMessageUseCase) FetchByID(ctx context.Context, id uuid.UUID) (*domain.FailedMessage, error) {
	msg, err := f.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrFailedMessageNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// FetchMany returns the records that exist among ids.
func (f *failedMessageUseCase) FetchMany(ctx context.Context, ids []uuid.UUID) ([]*domain.FailedMessage, error) {
	return f.repo.GetMany(ctx, ids)
}

// List returns one page of records matching filter.
func (f *failedMessageUseCase) List(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]*domain.FailedMessage, error) {
	return f.repo.List(ctx, filter, offset, limit)
}

// Stream lazily walks every record matching filter one page at a time. Each range over the
// returned sequence starts again from the beginning. The walk stops at the first error.
func (f *failedMessageUseCase) Stream(
	ctx context.Context,
	filter domain.Filter,
) iter.Seq2[*domain.FailedMessage, error] {
	return func(yield func(*domain.FailedMessage, error) bool) {
		cursor := domain.Cursor{}
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := f.repo.ListAfter(ctx, filter, cursor, f.config.StreamPageSize)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
			}

			if len(page) < f.config.StreamPageSize {
				return
			}
			cursor = domain.After(page[len(page)-1])
		}
	}
}

// MarkAsArchived archives one record. Archiving an archived record is a no-op.
func (f *failedMessageUseCase) MarkAsArchived(ctx context.Context, id uuid.UUID) (bool, error) {
	msg, err := f.FetchByID(ctx, id)
	if err != nil || msg == nil {
		return false, err
	}

	if msg.Status == domain.StatusArchived {
		return true, nil
	}

	if err := msg.TransitionTo(domain.StatusArchived); err != nil {
		return false, err
	}
	f.config.Expiration.Apply(msg, f.now())

	return f.updateStatus(ctx, msg)
}

// MarkAsResolved resolves a record whose retry succeeded.
func (f *failedMessageUseCase) MarkAsResolved(ctx context.Context, id uuid.UUID) (bool, error) {
	msg, err := f.FetchByID(ctx, id)
	if err != nil || msg == nil {
		return false, err
	}

	if msg.Status == domain.StatusResolved {
		return true, nil
	}

	if err := msg.TransitionTo(domain.StatusResolved); err != nil {
		f.logger.Debug("ignoring resolution of failed message",
			slog.String("failed_message_id", id.String()),
			slog.String("status", string(msg.Status)),
		)
		return false, nil
	}
	f.config.Expiration.Apply(msg, f.now())

	return f.updateStatus(ctx, msg)
}

// updateStatus persists a status change, treating a concurrency conflict as someone else's progress.
func (f *failedMessageUseCase) updateStatus(ctx context.Context, msg *domain.FailedMessage) (bool, error) {
	if err := f.repo.UpdateStatus(ctx, msg); err != nil {
		if apperrors.IsConflict(err) {
			f.logger.Debug("failed message changed concurrently",
				slog.String("failed_message_id", msg.ID.String()),
				slog.String("status", string(msg.Status)),
			)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ProcessPendingRetries streams every RetryIssued record last modified within [from, to],
// optionally restricted to one queue address, and calls callback for each id.
func (f *failedMessageUseCase) ProcessPendingRetries(
	ctx context.Context,
	from, to time.Time,
	queueAddress string,
	callback PendingRetryCallback,
) error {
	filter := domain.Filter{
		Statuses:     []domain.Status{domain.StatusRetryIssued},
		QueueAddress: queueAddress,
		ModifiedFrom: &from,
		ModifiedTo:   &to,
	}

	for msg, err := range f.Stream(ctx, filter) {
		if err != nil {
			return err
		}
		if err := callback(ctx, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetFailureGroupsByClassifier returns at most GroupsLimit groups, most recently modified first.
func (f *failedMessageUseCase) GetFailureGroupsByClassifier(
	ctx context.Context,
	classifier string,
) ([]*domain.FailureGroupView, error) {
	return f.repo.ListGroups(ctx, classifier, f.config.GroupsLimit)
}

// ListQueueAddresses returns failing queue addresses with their open failure counts.
func (f *failedMessageUseCase) ListQueueAddresses(
	ctx context.Context,
	search string,
	offset, limit int,
) ([]*domain.QueueAddressView, error) {
	return f.repo.ListQueueAddresses(ctx, search, offset, limit)
}

// ListEndpoints returns receiving endpoints with their open failure counts.
func (f *failedMessageUseCase) ListEndpoints(ctx context.Context) ([]*domain.EndpointView, error) {
	return f.repo.ListEndpoints(ctx)
}

// CountByStatus returns the live open and archived totals.
func (f *failedMessageUseCase) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	return f.repo.CountByStatus(ctx)
}

// EditComment creates or replaces the comment of a group.
func (f *failedMessageUseCase) EditComment(ctx context.Context, groupID uuid.UUID, comment string) error {
	return f.commentRepo.Upsert(ctx, &domain.GroupComment{
		GroupID:   groupID,
		Comment:   comment,
		UpdatedAt: f.now(),
	})
}

// DeleteComment removes the comment of a group if there is one.
func (f *failedMessageUseCase) DeleteComment(ctx context.Context, groupID uuid.UUID) error {
	return f.commentRepo.Delete(ctx, groupID)
}

// PurgeExpired deletes records whose retention has passed together with their bodies.
// With dryRun it only counts them.
func (f *failedMessageUseCase) PurgeExpired(ctx context.Context, now time.Time, dryRun bool) (int64, error) {
	if dryRun {
		return f.repo.CountExpired(ctx, now)
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		expired, err := f.repo.ListExpired(ctx, now, f.config.StreamPageSize)
		if err != nil {
			return total, err
		}
		if len(expired) == 0 {
			return total, nil
		}

		ids := make([]uuid.UUID, 0, len(expired))
		for _, msg := range expired {
			for _, attempt := range msg.ProcessingAttempts {
				if attempt.BodyKey == "" {
					continue
				}
				if err := f.bodies.Delete(ctx, attempt.BodyKey); err != nil &&
					!errors.Is(err, domain.ErrBodyNotFound) {
					return total, err
				}
			}
			ids = append(ids, msg.ID)
		}

		deleted, err := f.repo.Delete(ctx, ids)
		if err != nil {
			return total, err
		}
		total += deleted

		if len(expired) < f.config.StreamPageSize {
			return total, nil
		}
	}
}

// NewFailedMessageUseCase creates a new FailedMessageUseCase.
func NewFailedMessageUseCase(
	config Config,
	txManager database.TxManager,
	repo FailedMessageRepository,
	commentRepo GroupCommentRepository,
	bodies BodyStore,
	logger *slog.Logger,
) FailedMessageUseCase {
	return newFailedMessageUseCase(config, txManager, repo, commentRepo, bodies, logger)
}

func newFailedMessageUseCase(
	config Config,
	txManager database.TxManager,
	repo FailedMessageRepository,
	commentRepo GroupCommentRepository,
	bodies BodyStore,
	logger *slog.Logger,
) *failedMessageUseCase {
	if config.StreamPageSize <= 0 {
		config.StreamPageSize = defaultStreamPageSize
	}
	if config.GroupsLimit <= 0 {
		config.GroupsLimit = defaultGroupsLimit
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &failedMessageUseCase{
		config:      config,
		txManager:   txManager,
		repo:        repo,
		commentRepo: commentRepo,
		bodies:      bodies,
		classifiers: domain.DefaultClassifiers(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}
