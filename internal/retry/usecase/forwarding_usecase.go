package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/retry/domain"
)

const (
	defaultMaxStagingAttempts = 5
	defaultLeaseTTL           = 5 * time.Minute
)

// ForwardingConfig holds forwarding coordinator configuration.
type ForwardingConfig struct {
	SessionID          string
	Interval           time.Duration
	MaxStagingAttempts int
	// RatePerSecond caps dispatches per second. Zero means unlimited.
	RatePerSecond float64
	// LeaseTTL is how long a lease of another session is honored without being refreshed.
	LeaseTTL time.Duration
}

// forwardingUseCase implements ForwardingUseCase.
type forwardingUseCase struct {
	config     ForwardingConfig
	txManager  database.TxManager
	batchRepo  RetryBatchRepository
	retryRepo  FailedMessageRetryRepository
	leaseRepo  NowForwardingRepository
	messages   FailedMessageStore
	dispatcher Dispatcher
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// Start drains staged batches on every tick until ctx is done.
func (f *forwardingUseCase) Start(ctx context.Context) error {
	f.logger.Info("starting retry forwarding coordinator",
		slog.String("session_id", f.config.SessionID),
		slog.Duration("interval", f.config.Interval),
		slog.Int("max_staging_attempts", f.config.MaxStagingAttempts),
	)

	ticker := time.NewTicker(f.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("stopping retry forwarding coordinator")
			return ctx.Err()
		case <-ticker.C:
			f.drain(ctx)
		}
	}
}

func (f *forwardingUseCase) drain(ctx context.Context) {
	for ctx.Err() == nil {
		completed, err := f.ForwardNextBatch(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				f.logger.Error("failed to forward retry batch", slog.Any("error", err))
			}
			return
		}
		if !completed {
			return
		}
	}
}

// ForwardNextBatch resumes the batch named by the lease or starts the oldest staged batch.
func (f *forwardingUseCase) ForwardNextBatch(ctx context.Context) (bool, error) {
	lease, err := f.leaseRepo.Get(ctx)
	if err != nil && !errors.Is(err, domain.ErrNowForwardingNotFound) {
		return false, err
	}

	if lease != nil {
		return f.resume(ctx, lease)
	}

	staged, err := f.GetStagingBatch(ctx)
	if errors.Is(err, domain.ErrRetryBatchNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	started, err := f.BeginForwarding(ctx, staged.Batch)
	if err != nil || !started {
		return false, err
	}

	return f.forward(ctx, staged.Batch, &domain.NowForwarding{
		RetryBatchID:   staged.Batch.ID,
		RetrySessionID: f.config.SessionID,
		Version:        1,
		UpdatedAt:      f.now(),
	})
}

// resume continues a batch whose forwarding was interrupted, either by this session or by a
// session whose lease went stale.
func (f *forwardingUseCase) resume(ctx context.Context, lease *domain.NowForwarding) (bool, error) {
	if lease.RetrySessionID != f.config.SessionID && !lease.IsStale(f.now(), f.config.LeaseTTL) {
		return false, nil
	}

	batch, err := f.batchRepo.Get(ctx, lease.RetryBatchID)
	if errors.Is(err, domain.ErrRetryBatchNotFound) {
		return false, f.leaseRepo.Release(ctx, lease.RetryBatchID)
	}
	if err != nil {
		return false, err
	}

	if lease.RetrySessionID != f.config.SessionID {
		f.logger.Warn("taking over stale retry forwarding lease",
			slog.String("retry_batch_id", batch.ID.String()),
			slog.String("previous_session_id", lease.RetrySessionID),
		)
	}

	lease.RetrySessionID = f.config.SessionID
	if err := f.leaseRepo.Acquire(ctx, lease); err != nil {
		if apperrors.IsConflict(err) {
			f.logger.Debug("retry forwarding lease changed concurrently",
				slog.String("retry_batch_id", batch.ID.String()),
			)
			return false, nil
		}
		return false, err
	}

	if batch.Status == domain.BatchStatusStaging {
		if err := f.advance(ctx, batch, domain.BatchStatusForwarding); err != nil {
			return false, f.ignoreConflict(err, batch)
		}
	}

	return f.forward(ctx, batch, lease)
}

// GetStagingBatch returns the oldest batch in Staging with the markers it owns.
func (f *forwardingUseCase) GetStagingBatch(ctx context.Context) (*StagedBatch, error) {
	batch, err := f.batchRepo.GetStagingBatch(ctx)
	if err != nil {
		return nil, err
	}
	retries, err := f.retryRepo.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	return &StagedBatch{Batch: batch, Retries: retries}, nil
}

// BeginForwarding takes the lease for batch and advances it to Forwarding. It returns false
// when another actor got there first.
func (f *forwardingUseCase) BeginForwarding(ctx context.Context, batch *domain.RetryBatch) (bool, error) {
	err := f.txManager.WithTx(ctx, func(ctx context.Context) error {
		lease := &domain.NowForwarding{RetryBatchID: batch.ID, RetrySessionID: f.config.SessionID}
		if err := f.leaseRepo.Acquire(ctx, lease); err != nil {
			return err
		}
		return f.advance(ctx, batch, domain.BatchStatusForwarding)
	})
	if err != nil {
		return false, f.ignoreConflict(err, batch)
	}

	f.logger.Info("forwarding retry batch",
		slog.String("retry_batch_id", batch.ID.String()),
		slog.String("request_id", batch.RequestID),
		slog.String("retry_type", string(batch.RetryType)),
	)
	return true, nil
}

func (f *forwardingUseCase) forward(
	ctx context.Context,
	batch *domain.RetryBatch,
	lease *domain.NowForwarding,
) (bool, error) {
	retries, err := f.retryRepo.ListByBatch(ctx, batch.ID)
	if err != nil {
		return false, err
	}

	var failed []*domain.FailedMessageRetry
	var cause error
	for _, retry := range retries {
		if err := f.limiter.Wait(ctx); err != nil {
			return false, err
		}

		if f.now().Sub(lease.UpdatedAt) > f.config.LeaseTTL/2 {
			if err := f.leaseRepo.Acquire(ctx, lease); err != nil {
				return false, f.ignoreConflict(err, batch)
			}
		}

		if err := f.forwardMember(ctx, batch, retry); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			f.logger.Error("failed to forward failed message",
				slog.String("failed_message_id", retry.FailedMessageID.String()),
				slog.String("retry_batch_id", batch.ID.String()),
				slog.Any("error", err),
			)
			failed = append(failed, retry)
			cause = err
		}
	}

	if len(failed) > 0 {
		if err := f.RecordFailedStagingAttempt(ctx, batch, failed, cause); err != nil {
			return false, err
		}
	}

	return f.CompleteBatch(ctx, batch)
}

// forwardMember issues the retry of one member and releases its marker once the transport
// accepted the message. Members that vanished or are no longer retryable are released
// without dispatch.
func (f *forwardingUseCase) forwardMember(
	ctx context.Context,
	batch *domain.RetryBatch,
	retry *domain.FailedMessageRetry,
) error {
	msg, err := f.messages.Get(ctx, retry.FailedMessageID)
	if errors.Is(err, fmdomain.ErrFailedMessageNotFound) {
		f.logger.Debug("failed message expired before forwarding",
			slog.String("failed_message_id", retry.FailedMessageID.String()),
		)
		return f.retryRepo.Release(ctx, retry.FailedMessageID, batch.ID)
	}
	if err != nil {
		return err
	}

	if msg.Status != fmdomain.StatusRetryIssued {
		if err := msg.TransitionTo(fmdomain.StatusRetryIssued); err != nil {
			f.logger.Debug("failed message is no longer retryable",
				slog.String("failed_message_id", msg.ID.String()),
				slog.String("status", string(msg.Status)),
			)
			return f.retryRepo.Release(ctx, msg.ID, batch.ID)
		}
		msg.ExpiresAt = nil

		if err := f.messages.UpdateStatus(ctx, msg); err != nil {
			if apperrors.IsConflict(err) {
				f.logger.Debug("failed message changed concurrently before forwarding",
					slog.String("failed_message_id", msg.ID.String()),
				)
				return f.retryRepo.Release(ctx, msg.ID, batch.ID)
			}
			return err
		}
	}

	if err := f.dispatcher.Dispatch(ctx, msg, batch); err != nil {
		return err
	}
	return f.retryRepo.Release(ctx, msg.ID, batch.ID)
}

// RecordFailedStagingAttempt counts one more staging attempt for each retry. Members that
// reached MaxStagingAttempts are abandoned and their records reverted; the rest stay for the
// next pass.
func (f *forwardingUseCase) RecordFailedStagingAttempt(
	ctx context.Context,
	batch *domain.RetryBatch,
	retries []*domain.FailedMessageRetry,
	cause error,
) error {
	ids := make([]uuid.UUID, 0, len(retries))
	for _, retry := range retries {
		ids = append(ids, retry.FailedMessageID)
	}

	if err := f.retryRepo.IncrementStageAttempts(ctx, ids); err != nil {
		f.logger.Warn("failed to record staging attempts",
			slog.String("retry_batch_id", batch.ID.String()),
			slog.Any("error", err),
		)
	}

	for _, retry := range retries {
		retry.StageAttempts++
		if retry.StageAttempts < f.config.MaxStagingAttempts {
			continue
		}
		if err := f.abandon(ctx, batch, retry, cause); err != nil {
			return err
		}
	}

	now := f.now()
	batch.LastFailure = &now
	if err := f.batchRepo.Update(ctx, batch); err != nil {
		return f.ignoreConflict(err, batch)
	}
	return nil
}

func (f *forwardingUseCase) abandon(
	ctx context.Context,
	batch *domain.RetryBatch,
	retry *domain.FailedMessageRetry,
	cause error,
) error {
	f.logger.Warn("giving up forwarding failed message",
		slog.String("failed_message_id", retry.FailedMessageID.String()),
		slog.String("retry_batch_id", batch.ID.String()),
		slog.Int("stage_attempts", retry.StageAttempts),
		slog.Any("error", cause),
	)

	return f.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := f.retryRepo.Release(ctx, retry.FailedMessageID, batch.ID); err != nil {
			return err
		}
		return revertToUnresolved(ctx, f.messages, retry.FailedMessageID, f.logger)
	})
}

// CompleteBatch marks a drained batch Completed and deletes it with its lease. It returns false
// while the batch still owns markers.
func (f *forwardingUseCase) CompleteBatch(ctx context.Context, batch *domain.RetryBatch) (bool, error) {
	remaining, err := f.retryRepo.CountByBatch(ctx, batch.ID)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		f.logger.Debug("retry batch still has members to forward",
			slog.String("retry_batch_id", batch.ID.String()),
			slog.Int("remaining", remaining),
		)
		return false, nil
	}

	err = f.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := f.advance(ctx, batch, domain.BatchStatusCompleted); err != nil {
			return err
		}
		if err := f.batchRepo.Delete(ctx, batch.ID); err != nil {
			return err
		}
		return f.leaseRepo.Release(ctx, batch.ID)
	})
	if err != nil {
		return false, f.ignoreConflict(err, batch)
	}

	f.logger.Info("completed retry batch",
		slog.String("retry_batch_id", batch.ID.String()),
		slog.String("request_id", batch.RequestID),
		slog.Int("initial_batch_size", batch.InitialBatchSize),
	)
	return true, nil
}

// advance moves batch one status forward and keeps the in-memory copy in step with the row.
func (f *forwardingUseCase) advance(ctx context.Context, batch *domain.RetryBatch, to domain.BatchStatus) error {
	if err := f.batchRepo.UpdateStatus(ctx, batch.ID, batch.Status, to); err != nil {
		return err
	}
	batch.Status = to
	batch.Version++
	return nil
}

func (f *forwardingUseCase) ignoreConflict(err error, batch *domain.RetryBatch) error {
	if apperrors.IsConflict(err) {
		f.logger.Debug("retry batch changed concurrently",
			slog.String("retry_batch_id", batch.ID.String()),
			slog.String("status", string(batch.Status)),
		)
		return nil
	}
	return err
}

// NewForwardingUseCase creates a new ForwardingUseCase.
func NewForwardingUseCase(
	config ForwardingConfig,
	txManager database.TxManager,
	batchRepo RetryBatchRepository,
	retryRepo FailedMessageRetryRepository,
	leaseRepo NowForwardingRepository,
	messages FailedMessageStore,
	dispatcher Dispatcher,
	logger *slog.Logger,
) ForwardingUseCase {
	return newForwardingUseCase(config, txManager, batchRepo, retryRepo, leaseRepo, messages, dispatcher, logger)
}

func newForwardingUseCase(
	config ForwardingConfig,
	txManager database.TxManager,
	batchRepo RetryBatchRepository,
	retryRepo FailedMessageRetryRepository,
	leaseRepo NowForwardingRepository,
	messages FailedMessageStore,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *forwardingUseCase {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.MaxStagingAttempts <= 0 {
		config.MaxStagingAttempts = defaultMaxStagingAttempts
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaultLeaseTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}

	return &forwardingUseCase{
		config:     config,
		txManager:  txManager,
		batchRepo:  batchRepo,
		retryRepo:  retryRepo,
		leaseRepo:  leaseRepo,
		messages:   messages,
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}
