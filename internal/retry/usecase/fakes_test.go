package usecase

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	fmusecase "github.com/allisson/recoverability/internal/failedmessage/usecase"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// memoryStore backs every fake repository with versioned in-memory documents.
type memoryStore struct {
	mu       sync.Mutex
	batches  map[uuid.UUID]domain.RetryBatch
	retries  map[uuid.UUID]domain.FailedMessageRetry
	lease    *domain.NowForwarding
	messages map[uuid.UUID]fmdomain.FailedMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		batches:  make(map[uuid.UUID]domain.RetryBatch),
		retries:  make(map[uuid.UUID]domain.FailedMessageRetry),
		messages: make(map[uuid.UUID]fmdomain.FailedMessage),
	}
}

func (s *memoryStore) putMessage(msg *fmdomain.FailedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Version == 0 {
		msg.Version = 1
	}
	if msg.LastModified.IsZero() {
		msg.LastModified = time.Now().UTC()
	}
	s.messages[msg.ID] = *msg
}

func (s *memoryStore) message(id uuid.UUID) (fmdomain.FailedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	return msg, ok
}

func (s *memoryStore) putBatch(batch *domain.RetryBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch.Version == 0 {
		batch.Version = 1
	}
	s.batches[batch.ID] = *batch
}

func (s *memoryStore) batch(id uuid.UUID) (domain.RetryBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	return batch, ok
}

func (s *memoryStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *memoryStore) putRetry(retry domain.FailedMessageRetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[retry.FailedMessageID] = retry
}

func (s *memoryStore) retry(id uuid.UUID) (domain.FailedMessageRetry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	retry, ok := s.retries[id]
	return retry, ok
}

func (s *memoryStore) retryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retries)
}

func (s *memoryStore) currentLease() *domain.NowForwarding {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil {
		return nil
	}
	lease := *s.lease
	return &lease
}

type fakeBatchRepository struct {
	s *memoryStore
}

func (f *fakeBatchRepository) Create(_ context.Context, batch *domain.RetryBatch) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	now := time.Now().UTC()
	batch.Version = 1
	batch.CreatedAt = now
	batch.UpdatedAt = now
	stored := *batch
	stored.FailureRetries = slices.Clone(batch.FailureRetries)
	f.s.batches[batch.ID] = stored
	return nil
}

func (f *fakeBatchRepository) Update(_ context.Context, batch *domain.RetryBatch) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	stored, ok := f.s.batches[batch.ID]
	if !ok || stored.Version != batch.Version {
		return apperrors.NewConflictError("retry batch", batch.ID.String())
	}
	batch.Version++
	batch.UpdatedAt = time.Now().UTC()
	f.s.batches[batch.ID] = *batch
	return nil
}

func (f *fakeBatchRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.BatchStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	stored, ok := f.s.batches[id]
	if !ok || stored.Status != from {
		return apperrors.NewConflictError("retry batch", id.String())
	}
	stored.Status = to
	stored.Version++
	f.s.batches[id] = stored
	return nil
}

func (f *fakeBatchRepository) Get(_ context.Context, id uuid.UUID) (*domain.RetryBatch, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	stored, ok := f.s.batches[id]
	if !ok {
		return nil, domain.ErrRetryBatchNotFound
	}
	return &stored, nil
}

func (f *fakeBatchRepository) GetStagingBatch(_ context.Context) (*domain.RetryBatch, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var oldest *domain.RetryBatch
	for _, stored := range f.s.batches {
		if stored.Status != domain.BatchStatusStaging {
			continue
		}
		if oldest == nil || stored.StartTime.Before(oldest.StartTime) ||
			(stored.StartTime.Equal(oldest.StartTime) && stored.ID.String() < oldest.ID.String()) {
			candidate := stored
			oldest = &candidate
		}
	}
	if oldest == nil {
		return nil, domain.ErrRetryBatchNotFound
	}
	return oldest, nil
}

func (f *fakeBatchRepository) ListOrphaned(_ context.Context, sessionID string) ([]*domain.RetryBatch, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var orphans []*domain.RetryBatch
	for _, stored := range f.s.batches {
		if stored.IsOrphanedFor(sessionID) {
			orphan := stored
			orphans = append(orphans, &orphan)
		}
	}
	return orphans, nil
}

func (f *fakeBatchRepository) List(_ context.Context, offset, limit int) ([]*domain.RetryBatch, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	all := make([]*domain.RetryBatch, 0, len(f.s.batches))
	for _, stored := range f.s.batches {
		batch := stored
		all = append(all, &batch)
	}
	slices.SortFunc(all, func(a, b *domain.RetryBatch) int {
		return b.StartTime.Compare(a.StartTime)
	})
	if offset >= len(all) {
		return []*domain.RetryBatch{}, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (f *fakeBatchRepository) Delete(_ context.Context, id uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.batches, id)
	return nil
}

type fakeRetryRepository struct {
	s *memoryStore
}

func (f *fakeRetryRepository) CreateIfMissing(_ context.Context, retry *domain.FailedMessageRetry) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.retries[retry.FailedMessageID]; ok {
		return false, nil
	}
	f.s.retries[retry.FailedMessageID] = *retry
	return true, nil
}

func (f *fakeRetryRepository) Get(_ context.Context, id uuid.UUID) (*domain.FailedMessageRetry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	stored, ok := f.s.retries[id]
	if !ok {
		return nil, domain.ErrFailedMessageRetryNotFound
	}
	return &stored, nil
}

func (f *fakeRetryRepository) ListByBatch(_ context.Context, batchID uuid.UUID) ([]*domain.FailedMessageRetry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	retries := make([]*domain.FailedMessageRetry, 0)
	for _, stored := range f.s.retries {
		if stored.RetryBatchID == batchID {
			retry := stored
			retries = append(retries, &retry)
		}
	}
	slices.SortFunc(retries, func(a, b *domain.FailedMessageRetry) int {
		return slices.Compare(a.FailedMessageID[:], b.FailedMessageID[:])
	})
	return retries, nil
}

func (f *fakeRetryRepository) CountByBatch(_ context.Context, batchID uuid.UUID) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	count := 0
	for _, stored := range f.s.retries {
		if stored.RetryBatchID == batchID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRetryRepository) IncrementStageAttempts(_ context.Context, ids []uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, id := range ids {
		if stored, ok := f.s.retries[id]; ok {
			stored.StageAttempts++
			f.s.retries[id] = stored
		}
	}
	return nil
}

func (f *fakeRetryRepository) Release(_ context.Context, failedMessageID, batchID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if stored, ok := f.s.retries[failedMessageID]; ok && stored.RetryBatchID == batchID {
		delete(f.s.retries, failedMessageID)
	}
	return nil
}

func (f *fakeRetryRepository) Delete(_ context.Context, failedMessageID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.retries, failedMessageID)
	return nil
}

func (f *fakeRetryRepository) DeleteByBatch(_ context.Context, batchID uuid.UUID) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var deleted int64
	for id, stored := range f.s.retries {
		if stored.RetryBatchID == batchID {
			delete(f.s.retries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeRetryRepository) DeleteDangling(_ context.Context) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var deleted int64
	for id, stored := range f.s.retries {
		if _, ok := f.s.batches[stored.RetryBatchID]; !ok {
			delete(f.s.retries, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeLeaseRepository struct {
	s *memoryStore
}

func (f *fakeLeaseRepository) Get(_ context.Context) (*domain.NowForwarding, error) {
	lease := f.s.currentLease()
	if lease == nil {
		return nil, domain.ErrNowForwardingNotFound
	}
	return lease, nil
}

func (f *fakeLeaseRepository) Acquire(_ context.Context, lease *domain.NowForwarding) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if lease.Version == 0 && f.s.lease != nil {
		return apperrors.NewConflictError("now forwarding", lease.RetryBatchID.String())
	}
	if lease.Version != 0 && (f.s.lease == nil || f.s.lease.Version != lease.Version) {
		return apperrors.NewConflictError("now forwarding", lease.RetryBatchID.String())
	}
	lease.Version++
	lease.UpdatedAt = time.Now().UTC()
	stored := *lease
	f.s.lease = &stored
	return nil
}

func (f *fakeLeaseRepository) Release(_ context.Context, batchID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.lease != nil && f.s.lease.RetryBatchID == batchID {
		f.s.lease = nil
	}
	return nil
}

// fakeMessages implements FailedMessageStore and FailedMessageReader over the memory store.
type fakeMessages struct {
	s         *memoryStore
	streamErr error
}

func (f *fakeMessages) Get(_ context.Context, id uuid.UUID) (*fmdomain.FailedMessage, error) {
	msg, ok := f.s.message(id)
	if !ok {
		return nil, fmdomain.ErrFailedMessageNotFound
	}
	return &msg, nil
}

func (f *fakeMessages) UpdateStatus(_ context.Context, msg *fmdomain.FailedMessage) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	stored, ok := f.s.messages[msg.ID]
	if !ok || stored.Version != msg.Version {
		return apperrors.NewConflictError("failed message", msg.ID.String())
	}
	msg.Version++
	msg.LastModified = time.Now().UTC()
	stored.Status = msg.Status
	stored.ExpiresAt = msg.ExpiresAt
	stored.Version = msg.Version
	stored.LastModified = msg.LastModified
	f.s.messages[msg.ID] = stored
	return nil
}

func (f *fakeMessages) List(
	_ context.Context,
	filter fmdomain.Filter,
	offset, limit int,
) ([]*fmdomain.FailedMessage, error) {
	matched := f.matching(filter)
	if offset >= len(matched) {
		return []*fmdomain.FailedMessage{}, nil
	}
	return matched[offset:min(offset+limit, len(matched))], nil
}

func (f *fakeMessages) Stream(_ context.Context, filter fmdomain.Filter) iter.Seq2[*fmdomain.FailedMessage, error] {
	return func(yield func(*fmdomain.FailedMessage, error) bool) {
		if f.streamErr != nil {
			yield(nil, f.streamErr)
			return
		}
		for _, msg := range f.matching(filter) {
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (f *fakeMessages) ProcessPendingRetries(
	ctx context.Context,
	from, to time.Time,
	queueAddress string,
	callback fmusecase.PendingRetryCallback,
) error {
	filter := fmdomain.Filter{
		Statuses:     []fmdomain.Status{fmdomain.StatusRetryIssued},
		QueueAddress: queueAddress,
		ModifiedFrom: &from,
		ModifiedTo:   &to,
	}
	for _, msg := range f.matching(filter) {
		if err := callback(ctx, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMessages) MarkAsResolved(ctx context.Context, id uuid.UUID) (bool, error) {
	msg, err := f.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if err := msg.TransitionTo(fmdomain.StatusResolved); err != nil {
		return false, nil
	}
	if err := f.UpdateStatus(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}

// matching returns a snapshot of the records selected by filter ordered by id.
func (f *fakeMessages) matching(filter fmdomain.Filter) []*fmdomain.FailedMessage {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	matched := make([]*fmdomain.FailedMessage, 0)
	for _, stored := range f.s.messages {
		if !matches(stored, filter) {
			continue
		}
		msg := stored
		matched = append(matched, &msg)
	}
	slices.SortFunc(matched, func(a, b *fmdomain.FailedMessage) int {
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return matched
}

func matches(msg fmdomain.FailedMessage, filter fmdomain.Filter) bool {
	if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, msg.ID) {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, msg.Status) {
		return false
	}
	if filter.ReceivingEndpoint != "" && filter.ReceivingEndpoint != msg.ReceivingEndpoint {
		return false
	}
	if filter.QueueAddress != "" && filter.QueueAddress != msg.QueueAddress {
		return false
	}
	if filter.GroupID != uuid.Nil && !slices.ContainsFunc(msg.FailureGroups, func(group fmdomain.FailureGroup) bool {
		return group.ID == filter.GroupID
	}) {
		return false
	}
	if filter.ModifiedFrom != nil && !filter.ModifiedFrom.IsZero() && msg.LastModified.Before(*filter.ModifiedFrom) {
		return false
	}
	if filter.ModifiedTo != nil && !filter.ModifiedTo.IsZero() && msg.LastModified.After(*filter.ModifiedTo) {
		return false
	}
	return true
}

type fakeTxManager struct{}

func (fakeTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, msg *fmdomain.FailedMessage, batch *domain.RetryBatch) error {
	return m.Called(ctx, msg, batch).Error(0)
}

type mockOperationTracker struct {
	mock.Mock
}

func (m *mockOperationTracker) Begin(operationType, requestID string, total int) uuid.UUID {
	return m.Called(operationType, requestID, total).Get(0).(uuid.UUID)
}

func (m *mockOperationTracker) Complete(id uuid.UUID, completed int) {
	m.Called(id, completed)
}

func (m *mockOperationTracker) Fail(id uuid.UUID, err error) {
	m.Called(id, err)
}

// fixture wires the staging, forwarding and retry use cases to one memory store.
type fixture struct {
	store      *memoryStore
	batches    *fakeBatchRepository
	retries    *fakeRetryRepository
	leases     *fakeLeaseRepository
	messages   *fakeMessages
	dispatcher *mockDispatcher
	operations *mockOperationTracker
	staging    *stagingUseCase
	forwarding *forwardingUseCase
	retry      *retryUseCase
}

func newFixture(sessionID string) *fixture {
	return newSharedFixture(sessionID, newMemoryStore())
}

// newSharedFixture wires a session to an existing store, as a second instance would be.
func newSharedFixture(sessionID string, store *memoryStore) *fixture {
	f := &fixture{
		store:      store,
		batches:    &fakeBatchRepository{s: store},
		retries:    &fakeRetryRepository{s: store},
		leases:     &fakeLeaseRepository{s: store},
		messages:   &fakeMessages{s: store},
		dispatcher: &mockDispatcher{},
		operations: &mockOperationTracker{},
	}
	f.staging = newStagingUseCase(
		StagingConfig{SessionID: sessionID, OrphanSweepInterval: time.Hour},
		fakeTxManager{},
		f.batches,
		f.retries,
		f.messages,
		nil,
	)
	f.forwarding = newForwardingUseCase(
		ForwardingConfig{SessionID: sessionID, Interval: 10 * time.Millisecond, MaxStagingAttempts: 2},
		fakeTxManager{},
		f.batches,
		f.retries,
		f.leases,
		f.messages,
		f.dispatcher,
		nil,
	)
	f.retry = newRetryUseCase(
		RetryConfig{SessionID: sessionID, BatchSize: 2},
		fakeTxManager{},
		f.staging,
		f.batches,
		f.retries,
		f.messages,
		f.messages,
		f.operations,
		nil,
	)
	return f
}

func newUnresolved(store *memoryStore, queueAddress string) *fmdomain.FailedMessage {
	return newMessage(store, queueAddress, fmdomain.StatusUnresolved)
}

func newMessage(store *memoryStore, queueAddress string, status fmdomain.Status) *fmdomain.FailedMessage {
	msg := &fmdomain.FailedMessage{
		ID:                uuid.New(),
		MessageID:         uuid.NewString(),
		MessageType:       "Billing.InvoiceCreated",
		ReceivingEndpoint: "billing",
		QueueAddress:      queueAddress,
		Status:            status,
		ProcessingAttempts: []fmdomain.ProcessingAttempt{{
			AttemptID: uuid.New(),
			FailureDetails: fmdomain.FailureDetails{
				TimeOfFailure:            time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
				AddressOfFailingEndpoint: queueAddress,
			},
		}},
	}
	store.putMessage(msg)
	return msg
}
