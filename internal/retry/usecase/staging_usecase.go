package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// StagingConfig holds retry staging configuration.
type StagingConfig struct {
	SessionID           string
	OrphanSweepInterval time.Duration
}

// stagingUseCase implements StagingUseCase.
type stagingUseCase struct {
	config    StagingConfig
	txManager database.TxManager
	batchRepo RetryBatchRepository
	retryRepo FailedMessageRetryRepository
	messages  FailedMessageStore
	logger    *slog.Logger
	now       func() time.Time
}

// CreateBatchDocument creates a new batch in MarkingDocuments. Identical concurrent requests
// create independent batches; the markers decide which one gets each message.
func (s *stagingUseCase) CreateBatchDocument(ctx context.Context, input CreateBatchInput) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, apperrors.Wrap(err, "failed to generate retry batch id")
	}

	startTime := input.StartTime
	if startTime.IsZero() {
		startTime = s.now()
	}
	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = s.config.SessionID
	}

	batch := &domain.RetryBatch{
		ID:               id,
		RequestID:        input.RequestID,
		RetryType:        input.RetryType,
		Status:           domain.BatchStatusMarkingDocuments,
		RetrySessionID:   sessionID,
		Originator:       input.Originator,
		Classifier:       input.Classifier,
		Context:          input.Context,
		FailureRetries:   input.MessageIDs,
		InitialBatchSize: len(input.MessageIDs),
		StartTime:        startTime,
		Last:             input.Last,
	}
	if err := s.batchRepo.Create(ctx, batch); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// StageRetryByIDs creates a marker for every id that has none. Ids already held by another
// batch are skipped silently.
func (s *stagingUseCase) StageRetryByIDs(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	staged := make([]uuid.UUID, 0, len(ids))
	err := s.txManager.WithTx(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			created, err := s.retryRepo.CreateIfMissing(ctx, &domain.FailedMessageRetry{
				FailedMessageID: id,
				RetryBatchID:    batchID,
				CreatedAt:       s.now(),
			})
			if err != nil {
				return err
			}
			if !created {
				s.logger.Debug("failed message already staged by another batch",
					slog.String("failed_message_id", id.String()),
					slog.String("retry_batch_id", batchID.String()),
				)
				continue
			}
			staged = append(staged, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return staged, nil
}

// MoveBatchToStaging advances the batch from MarkingDocuments to Staging. When a sweep reclaimed
// the batch while its markers were still uncommitted, those markers are released here.
func (s *stagingUseCase) MoveBatchToStaging(ctx context.Context, batchID uuid.UUID) error {
	err := s.batchRepo.UpdateStatus(ctx, batchID, domain.BatchStatusMarkingDocuments, domain.BatchStatusStaging)
	if !apperrors.IsConflict(err) {
		return err
	}

	_, err = s.batchRepo.Get(ctx, batchID)
	if err == nil {
		s.logger.Debug("retry batch left marking documents concurrently",
			slog.String("retry_batch_id", batchID.String()),
		)
		return nil
	}
	if !errors.Is(err, domain.ErrRetryBatchNotFound) {
		return err
	}

	released, err := s.retryRepo.DeleteByBatch(ctx, batchID)
	if err != nil {
		return err
	}
	s.logger.Warn("retry batch was reclaimed while staging, released its markers",
		slog.String("retry_batch_id", batchID.String()),
		slog.Int64("released", released),
	)
	return nil
}

// QueryOrphanedBatches returns the batches of other sessions still in MarkingDocuments. The SQL
// stores read committed data, so cutoff only marks the consistency point of the query.
func (s *stagingUseCase) QueryOrphanedBatches(
	ctx context.Context,
	sessionID string,
	cutoff time.Time,
) ([]*domain.RetryBatch, error) {
	s.logger.Debug("querying orphaned retry batches",
		slog.String("session_id", sessionID),
		slog.Time("cutoff", cutoff),
	)
	return s.batchRepo.ListOrphaned(ctx, sessionID)
}

// AdoptOrphanedBatches reclaims the orphans left by other sessions and then deletes markers
// whose batch no longer exists.
func (s *stagingUseCase) AdoptOrphanedBatches(ctx context.Context, cutoff time.Time) (int, error) {
	orphans, err := s.QueryOrphanedBatches(ctx, s.config.SessionID, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, batch := range orphans {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}

		ok, err := s.reclaim(ctx, batch)
		if err != nil {
			return reclaimed, err
		}
		if ok {
			reclaimed++
		}
	}

	if reclaimed > 0 {
		s.logger.Info("reclaimed orphaned retry batches", slog.Int("count", reclaimed))
	}

	dangling, err := s.retryRepo.DeleteDangling(ctx)
	if err != nil {
		return reclaimed, err
	}
	if dangling > 0 {
		s.logger.Warn("deleted retry markers of missing batches", slog.Int64("count", dangling))
	}
	return reclaimed, nil
}

// reclaim claims the orphan by moving it straight to Completed, reverts its members and
// deletes the batch together with its markers.
func (s *stagingUseCase) reclaim(ctx context.Context, batch *domain.RetryBatch) (bool, error) {
	err := s.txManager.WithTx(ctx, func(ctx context.Context) error {
		err := s.batchRepo.UpdateStatus(
			ctx,
			batch.ID,
			domain.BatchStatusMarkingDocuments,
			domain.BatchStatusCompleted,
		)
		if err != nil {
			return err
		}

		retries, err := s.retryRepo.ListByBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		for _, retry := range retries {
			if err := revertToUnresolved(ctx, s.messages, retry.FailedMessageID, s.logger); err != nil {
				return err
			}
		}

		if _, err := s.retryRepo.DeleteByBatch(ctx, batch.ID); err != nil {
			return err
		}
		return s.batchRepo.Delete(ctx, batch.ID)
	})
	if apperrors.IsConflict(err) {
		s.logger.Debug("orphaned retry batch advanced concurrently",
			slog.String("retry_batch_id", batch.ID.String()),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("reclaimed orphaned retry batch",
		slog.String("retry_batch_id", batch.ID.String()),
		slog.String("request_id", batch.RequestID),
		slog.String("retry_session_id", batch.RetrySessionID),
	)
	return true, nil
}

// StartOrphanSweeper runs the orphan sweep at startup and then periodically.
func (s *stagingUseCase) StartOrphanSweeper(ctx context.Context) error {
	s.logger.Info("starting orphaned retry batch sweeper",
		slog.String("session_id", s.config.SessionID),
		slog.Duration("interval", s.config.OrphanSweepInterval),
	)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.OrphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping orphaned retry batch sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *stagingUseCase) sweep(ctx context.Context) {
	if _, err := s.AdoptOrphanedBatches(ctx, s.now()); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("failed to reclaim orphaned retry batches", slog.Any("error", err))
	}
}

// revertToUnresolved moves a RetryIssued record back to Unresolved. Missing records, other
// statuses and concurrent writers are left alone.
func revertToUnresolved(ctx context.Context, messages FailedMessageStore, id uuid.UUID, logger *slog.Logger) error {
	msg, err := messages.Get(ctx, id)
	if errors.Is(err, fmdomain.ErrFailedMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Status != fmdomain.StatusRetryIssued {
		return nil
	}

	if err := msg.TransitionTo(fmdomain.StatusUnresolved); err != nil {
		return err
	}
	err = messages.UpdateStatus(ctx, msg)
	if apperrors.IsConflict(err) {
		logger.Debug("failed message changed concurrently while reverting retry",
			slog.String("failed_message_id", id.String()),
		)
		return nil
	}
	return err
}

// NewStagingUseCase creates a new StagingUseCase.
func NewStagingUseCase(
	config StagingConfig,
	txManager database.TxManager,
	batchRepo RetryBatchRepository,
	retryRepo FailedMessageRetryRepository,
	messages FailedMessageStore,
	logger *slog.Logger,
) StagingUseCase {
	return newStagingUseCase(config, txManager, batchRepo, retryRepo, messages, logger)
}

func newStagingUseCase(
	config StagingConfig,
	txManager database.TxManager,
	batchRepo RetryBatchRepository,
	retryRepo FailedMessageRetryRepository,
	messages FailedMessageStore,
	logger *slog.Logger,
) *stagingUseCase {
	if config.OrphanSweepInterval <= 0 {
		config.OrphanSweepInterval = time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &stagingUseCase{
		config:    config,
		txManager: txManager,
		batchRepo: batchRepo,
		retryRepo: retryRepo,
		messages:  messages,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}
