package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/failedmessage/usecase"
)

type mockFailedMessageUseCase struct {
	mock.Mock
}

func (m *mockFailedMessageUseCase) Record(ctx context.Context, input usecase.RecordInput) (*domain.FailedMessage, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageUseCase) FetchByID(ctx context.Context, id uuid.UUID) (*domain.FailedMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageUseCase) FetchMany(ctx context.Context, ids []uuid.UUID) ([]*domain.FailedMessage, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FailedMessage), args.Error(1)
}

func (m *mockFailedMessageUseCase) List(
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

func (m *mockFailedMessageUseCase) Stream(
	ctx context.Context,
	filter domain.Filter,
) iter.Seq2[*domain.FailedMessage, error] {
	return m.Called(ctx, filter).Get(0).(iter.Seq2[*domain.FailedMessage, error])
}

func (m *mockFailedMessageUseCase) MarkAsArchived(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockFailedMessageUseCase) MarkAsResolved(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockFailedMessageUseCase) ProcessPendingRetries(
	ctx context.Context,
	from, to time.Time,
	queueAddress string,
	callback usecase.PendingRetryCallback,
) error {
	return m.Called(ctx, from, to, queueAddress, callback).Error(0)
}

func (m *mockFailedMessageUseCase) GetFailureGroupsByClassifier(
	ctx context.Context,
	classifier string,
) ([]*domain.FailureGroupView, error) {
	args := m.Called(ctx, classifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FailureGroupView), args.Error(1)
}

func (m *mockFailedMessageUseCase) ListQueueAddresses(
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

func (m *mockFailedMessageUseCase) ListEndpoints(ctx context.Context) ([]*domain.EndpointView, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EndpointView), args.Error(1)
}

func (m *mockFailedMessageUseCase) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.StatusCounts), args.Error(1)
}

func (m *mockFailedMessageUseCase) EditComment(ctx context.Context, groupID uuid.UUID, comment string) error {
	return m.Called(ctx, groupID, comment).Error(0)
}

func (m *mockFailedMessageUseCase) DeleteComment(ctx context.Context, groupID uuid.UUID) error {
	return m.Called(ctx, groupID).Error(0)
}

func (m *mockFailedMessageUseCase) PurgeExpired(ctx context.Context, now time.Time, dryRun bool) (int64, error) {
	args := m.Called(ctx, now, dryRun)
	return args.Get(0).(int64), args.Error(1)
}

type mockArchiveUseCase struct {
	mock.Mock
}

func (m *mockArchiveUseCase) result(args mock.Arguments) (*usecase.BulkResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.BulkResult), args.Error(1)
}

func (m *mockArchiveUseCase) ArchiveByIDs(ctx context.Context, ids []uuid.UUID) (*usecase.BulkResult, error) {
	return m.result(m.Called(ctx, ids))
}

func (m *mockArchiveUseCase) UnarchiveByIDs(ctx context.Context, ids []uuid.UUID) (*usecase.BulkResult, error) {
	return m.result(m.Called(ctx, ids))
}

func (m *mockArchiveUseCase) UnarchiveByRange(
	ctx context.Context,
	from, to, cutoff time.Time,
) (*usecase.BulkResult, error) {
	return m.result(m.Called(ctx, from, to, cutoff))
}

func (m *mockArchiveUseCase) ArchiveGroup(ctx context.Context, groupID uuid.UUID) (*usecase.BulkResult, error) {
	return m.result(m.Called(ctx, groupID))
}

func (m *mockArchiveUseCase) UnarchiveGroup(ctx context.Context, groupID uuid.UUID) (*usecase.BulkResult, error) {
	return m.result(m.Called(ctx, groupID))
}

var (
	_ usecase.FailedMessageUseCase = (*mockFailedMessageUseCase)(nil)
	_ usecase.ArchiveUseCase       = (*mockArchiveUseCase)(nil)
)

func createTestContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	return c, w
}
