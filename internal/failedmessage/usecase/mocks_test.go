package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/metrics"
)

type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockFailedMessageRepository struct {
	mock.Mock
}

func (m *mockFailedMessageRepository) Create(ctx context.Context, msg *domain.FailedMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockFailedMessageRepository) Update(ctx context.Context, msg *domain.FailedMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockFailedMessageRepository) UpdateStatus(ctx context.Context, msg *domain.FailedMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockFailedMessageRepository) Get(ctx context.Context, id uuid.UUID) (*domain.FailedMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*domain.FailedMessage, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageRepository) List(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]*domain.FailedMessage, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageRepository) ListAfter(
	ctx context.Context,
	filter domain.Filter,
	cursor domain.Cursor,
	limit int,
) ([]*domain.FailedMessage, error) {
	args := m.Called(ctx, filter, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageRepository) BulkUpdateStatus(
	ctx context.Context,
	filter domain.Filter,
	status domain.Status,
	expiresAt *time.Time,
) ([]uuid.UUID, error) {
	args := m.Called(ctx, filter, status, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockFailedMessageRepository) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.StatusCounts), args.Error(1)
}

func (m *mockFailedMessageRepository) ListGroups(
	ctx context.Context,
	classifier string,
	limit int,
) ([]*domain.FailureGroupView, error) {
	args := m.Called(ctx, classifier, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FailureGroupView), args.Error(1)
}

func (m *mockFailedMessageRepository) ListQueueAddresses(
	ctx context.Context,
	search string,
	offset, limit int,
) ([]*domain.QueueAddressView, error) {
	args := m.Called(ctx, search, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueueAddressView), args.Error(1)
}

func (m *mockFailedMessageRepository) ListEndpoints(ctx context.Context) ([]*domain.EndpointView, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EndpointView), args.Error(1)
}

func (m *mockFailedMessageRepository) ListExpired(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.FailedMessage, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFailedMessageRepository) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

type mockGroupCommentRepository struct {
	mock.Mock
}

func (m *mockGroupCommentRepository) Upsert(ctx context.Context, comment *domain.GroupComment) error {
	return m.Called(ctx, comment).Error(0)
}

func (m *mockGroupCommentRepository) Get(ctx context.Context, groupID uuid.UUID) (*domain.GroupComment, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupComment), args.Error(1)
}

func (m *mockGroupCommentRepository) Delete(ctx context.Context, groupID uuid.UUID) error {
	return m.Called(ctx, groupID).Error(0)
}

type mockBodyStore struct {
	mock.Mock
}

func (m *mockBodyStore) Write(ctx context.Context, key string, body []byte, contentType string) error {
	return m.Called(ctx, key, body, contentType).Error(0)
}

func (m *mockBodyStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
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

type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	m.Called(ctx, domain, operation, status)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	m.Called(ctx, domain, operation, duration, status)
}

var (
	_ FailedMessageRepository = (*mockFailedMessageRepository)(nil)
	_ GroupCommentRepository  = (*mockGroupCommentRepository)(nil)
	_ BodyStore               = (*mockBodyStore)(nil)
	_ OperationTracker        = (*mockOperationTracker)(nil)
	_ metrics.BusinessMetrics = (*mockBusinessMetrics)(nil)
)
