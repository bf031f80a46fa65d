package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/retry/domain"
)

const defaultRetryBatchSize = 1000

// Operation types reported to the OperationTracker.
const (
	OperationRetryEndpoint     = "retry_endpoint"
	OperationRetryQueueAddress = "retry_queue_address"
	OperationRetryGroup        = "retry_group"
	OperationRetryAll          = "retry_all"
	OperationRetryPending      = "retry_pending"
)

// RetryConfig holds retry request configuration.
type RetryConfig struct {
	SessionID string
	BatchSize int
}

// retryUseCase implements RetryUseCase.
type retryUseCase struct {
	config     RetryConfig
	txManager  database.TxManager
	staging    StagingUseCase
	batchRepo  RetryBatchRepository
	retryRepo  FailedMessageRetryRepository
	messages   FailedMessageStore
	reader     FailedMessageReader
	operations OperationTracker
	logger     *slog.Logger
	now        func() time.Time
}

// selection describes which records a retry request stages and how its batches are labeled.
type selection struct {
	requestID     string
	retryType     domain.RetryType
	originator    string
	classifier    string
	context       string
	operationType string
	filter        fmdomain.Filter
}

// RetryByIDs retries the open records among ids.
func (r *retryUseCase) RetryByIDs(ctx context.Context, ids []uuid.UUID) (*RetryRequest, error) {
	if len(ids) == 0 {
		return nil, domain.ErrEmptyRetryRequest
	}

	sel := selection{
		requestID: uuid.NewString(),
		retryType: domain.RetryTypeMultipleMessages,
		filter:    fmdomain.Filter{IDs: ids, Statuses: fmdomain.OpenStatuses},
	}
	if len(ids) == 1 {
		sel.requestID = ids[0].String()
		sel.retryType = domain.RetryTypeSingleMessage
	}
	return r.request(ctx, sel)
}

// RetryByEndpoint retries every open failure received by endpoint.
func (r *retryUseCase) RetryByEndpoint(ctx context.Context, endpoint string) (*RetryRequest, error) {
	if endpoint == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "endpoint is required")
	}
	return r.request(ctx, selection{
		requestID:     endpoint,
		retryType:     domain.RetryTypeEndpoint,
		originator:    endpoint,
		operationType: OperationRetryEndpoint,
		filter:        fmdomain.Filter{ReceivingEndpoint: endpoint, Statuses: fmdomain.OpenStatuses},
	})
}

// RetryByQueueAddress retries every open failure of one queue.
func (r *retryUseCase) RetryByQueueAddress(ctx context.Context, queueAddress string) (*RetryRequest, error) {
	if queueAddress == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "queue address is required")
	}
	return r.request(ctx, selection{
		requestID:     queueAddress,
		retryType:     domain.RetryTypeQueueAddress,
		originator:    queueAddress,
		operationType: OperationRetryQueueAddress,
		filter:        fmdomain.Filter{QueueAddress: queueAddress, Statuses: fmdomain.OpenStatuses},
	})
}

// RetryByGroup retries every open failure of a failure group.
func (r *retryUseCase) RetryByGroup(ctx context.Context, groupID uuid.UUID) (*RetryRequest, error) {
	return r.request(ctx, selection{
		requestID:     groupID.String(),
		retryType:     domain.RetryTypeFailureGroup,
		originator:    groupID.String(),
		context:       groupID.String(),
		operationType: OperationRetryGroup,
		filter:        fmdomain.Filter{GroupID: groupID, Statuses: fmdomain.OpenStatuses},
	})
}

// RetryAll retries every open failure.
func (r *retryUseCase) RetryAll(ctx context.Context) (*RetryRequest, error) {
	return r.request(ctx, selection{
		requestID:     "all",
		retryType:     domain.RetryTypeAll,
		originator:    "all",
		operationType: OperationRetryAll,
		filter:        fmdomain.Filter{Statuses: fmdomain.OpenStatuses},
	})
}

func (r *retryUseCase) request(ctx context.Context, sel selection) (*RetryRequest, error) {
	var operationID uuid.UUID
	if sel.operationType != "" {
		operationID = r.operations.Begin(sel.operationType, sel.requestID, 0)
	}

	result, err := r.stream(ctx, sel)
	if err != nil {
		if sel.operationType != "" {
			r.operations.Fail(operationID, err)
		}
		return nil, err
	}

	if sel.operationType != "" {
		r.operations.Complete(operationID, result.Staged)
	}
	r.logger.Info("retry request staged",
		slog.String("request_id", result.RequestID),
		slog.String("retry_type", string(result.RetryType)),
		slog.Int("batches", result.Batches),
		slog.Int("staged", result.Staged),
	)
	return result, nil
}

// stream walks the selection and stages it in chunks of BatchSize without holding more than one
// chunk in memory.
func (r *retryUseCase) stream(ctx context.Context, sel selection) (*RetryRequest, error) {
	result := &RetryRequest{RequestID: sel.requestID, RetryType: sel.retryType}
	stager := r.newChunkStager(sel, result)

	for msg, err := range r.reader.Stream(ctx, sel.filter) {
		if err != nil {
			return nil, err
		}
		if err := stager.add(ctx, msg.ID, timeOfLastFailure(msg)); err != nil {
			return nil, err
		}
	}

	if err := stager.flush(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

type chunkStager struct {
	r      *retryUseCase
	sel    selection
	result *RetryRequest
	ids    []uuid.UUID
	last   *time.Time
}

func (r *retryUseCase) newChunkStager(sel selection, result *RetryRequest) *chunkStager {
	return &chunkStager{r: r, sel: sel, result: result, ids: make([]uuid.UUID, 0, r.config.BatchSize)}
}

func (c *chunkStager) add(ctx context.Context, id uuid.UUID, failedAt time.Time) error {
	c.ids = append(c.ids, id)
	if !failedAt.IsZero() && (c.last == nil || failedAt.After(*c.last)) {
		c.last = &failedAt
	}
	if len(c.ids) < c.r.config.BatchSize {
		return nil
	}
	return c.flush(ctx)
}

// flush runs CreateBatchDocument, StageRetryByIDs and MoveBatchToStaging for the pending ids.
// A batch that acquired nothing still moves to Staging and is completed empty by forwarding.
func (c *chunkStager) flush(ctx context.Context) error {
	if len(c.ids) == 0 {
		return nil
	}

	ids := slices.Clone(c.ids)
	batchID, err := c.r.staging.CreateBatchDocument(ctx, CreateBatchInput{
		SessionID:  c.r.config.SessionID,
		RequestID:  c.sel.requestID,
		RetryType:  c.sel.retryType,
		MessageIDs: ids,
		Originator: c.sel.originator,
		StartTime:  c.r.now(),
		Last:       c.last,
		Context:    c.sel.context,
		Classifier: c.sel.classifier,
	})
	if err != nil {
		return err
	}

	staged, err := c.r.staging.StageRetryByIDs(ctx, batchID, ids)
	if err != nil {
		return err
	}
	if err := c.r.staging.MoveBatchToStaging(ctx, batchID); err != nil {
		return err
	}

	c.result.Batches++
	c.result.Staged += len(staged)
	c.ids = c.ids[:0]
	c.last = nil
	return nil
}

func timeOfLastFailure(msg *fmdomain.FailedMessage) time.Time {
	attempt, ok := msg.LastAttempt()
	if !ok {
		return time.Time{}
	}
	return attempt.FailureDetails.TimeOfFailure
}

// RevertRetry resets a RetryIssued record to Unresolved and deletes its marker whatever batch
// owns it.
func (r *retryUseCase) RevertRetry(ctx context.Context, id uuid.UUID) error {
	if _, err := r.messages.Get(ctx, id); err != nil {
		return err
	}

	return r.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := r.retryRepo.Delete(ctx, id); err != nil {
			return err
		}
		return revertToUnresolved(ctx, r.messages, id, r.logger)
	})
}

// ListPendingRetries returns one page of RetryIssued records.
func (r *retryUseCase) ListPendingRetries(
	ctx context.Context,
	filter PendingFilter,
	offset, limit int,
) ([]*fmdomain.FailedMessage, error) {
	return r.messages.List(ctx, pendingFilter(filter), offset, limit)
}

// ResolvePending marks every RetryIssued record of the window Resolved and returns how many changed.
func (r *retryUseCase) ResolvePending(ctx context.Context, filter PendingFilter) (int, error) {
	resolved := 0
	err := r.reader.ProcessPendingRetries(ctx, filter.From, filter.To, filter.QueueAddress,
		func(ctx context.Context, id uuid.UUID) error {
			ok, err := r.reader.MarkAsResolved(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				resolved++
			}
			return nil
		},
	)
	if err != nil {
		return resolved, err
	}
	return resolved, nil
}

// RetryPending moves every RetryIssued record of the window back to Unresolved and requests a
// new retry for it.
func (r *retryUseCase) RetryPending(ctx context.Context, filter PendingFilter) (*RetryRequest, error) {
	sel := selection{
		requestID:     uuid.NewString(),
		retryType:     domain.RetryTypeMultipleMessages,
		originator:    filter.QueueAddress,
		operationType: OperationRetryPending,
	}
	result := &RetryRequest{RequestID: sel.requestID, RetryType: sel.retryType}
	stager := r.newChunkStager(sel, result)
	operationID := r.operations.Begin(sel.operationType, sel.requestID, 0)

	err := r.reader.ProcessPendingRetries(ctx, filter.From, filter.To, filter.QueueAddress,
		func(ctx context.Context, id uuid.UUID) error {
			msg, err := r.messages.Get(ctx, id)
			if errors.Is(err, fmdomain.ErrFailedMessageNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := msg.TransitionTo(fmdomain.StatusUnresolved); err != nil {
				return nil
			}
			if err := r.messages.UpdateStatus(ctx, msg); err != nil {
				if apperrors.IsConflict(err) {
					r.logger.Debug("pending retry changed concurrently",
						slog.String("failed_message_id", id.String()),
					)
					return nil
				}
				return err
			}
			return stager.add(ctx, id, timeOfLastFailure(msg))
		},
	)
	if err == nil {
		err = stager.flush(ctx)
	}
	if err != nil {
		r.operations.Fail(operationID, err)
		return nil, err
	}

	r.operations.Complete(operationID, result.Staged)
	return result, nil
}

// ListBatches returns retry batches, newest first.
func (r *retryUseCase) ListBatches(ctx context.Context, offset, limit int) ([]*domain.RetryBatch, error) {
	return r.batchRepo.List(ctx, offset, limit)
}

func pendingFilter(filter PendingFilter) fmdomain.Filter {
	result := fmdomain.Filter{
		Statuses:     []fmdomain.Status{fmdomain.StatusRetryIssued},
		QueueAddress: filter.QueueAddress,
	}
	if !filter.From.IsZero() {
		result.ModifiedFrom = &filter.From
	}
	if !filter.To.IsZero() {
		result.ModifiedTo = &filter.To
	}
	return result
}

// NewRetryUseCase creates a new RetryUseCase.
func NewRetryUseCase(
	config RetryConfig,
	txManager database.TxManager,
	staging StagingUseCase,
	batchRepo RetryBatchRepository,
	retryRepo FailedMessageRetryRepository,
	messages FailedMessageStore,
	reader FailedMessageReader,
	operations OperationTracker,
	logger *slog.Logger,
) RetryUseCase {
	return newRetryUseCase(config, txManager, staging, batchRepo, retryRepo, messages, reader, operations, logger)
}

func newRetryUseCase(
	config RetryConfig,
	txManager database.TxManager,
	staging StagingUseCase,
	batchRepo RetryBatchRepository,
	retryRepo FailedMessageRetryRepository,
	messages FailedMessageStore,
	reader FailedMessageReader,
	operations OperationTracker,
	logger *slog.Logger,
) *retryUseCase {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultRetryBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &retryUseCase{
		config:     config,
		txManager:  txManager,
		staging:    staging,
		batchRepo:  batchRepo,
		retryRepo:  retryRepo,
		messages:   messages,
		reader:     reader,
		operations: operations,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}
