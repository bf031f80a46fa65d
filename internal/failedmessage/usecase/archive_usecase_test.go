package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

func newTestArchiveUseCase(repo *mockFailedMessageRepository, tracker *mockOperationTracker) *archiveUseCase {
	uc := NewArchiveUseCase(repo, domain.ExpirationPolicy{Retention: 24 * time.Hour}, tracker, nil).(*archiveUseCase)
	uc.now = func() time.Time { return fixedNow }
	return uc
}

func TestArchiveUseCase_ArchiveByIDs(t *testing.T) {
	ctx := context.Background()
	repo := &mockFailedMessageRepository{}
	uc := newTestArchiveUseCase(repo, &mockOperationTracker{})

	unresolved := &domain.FailedMessage{ID: uuid.New(), Status: domain.StatusUnresolved, Version: 1}
	archived := &domain.FailedMessage{ID: uuid.New(), Status: domain.StatusArchived, Version: 1}
	resolved := &domain.FailedMessage{ID: uuid.New(), Status: domain.StatusResolved, Version: 1}
	raced := &domain.FailedMessage{ID: uuid.New(), Status: domain.StatusUnresolved, Version: 2}
	repeated := &domain.FailedMessage{ID: uuid.New(), Status: domain.StatusRepeatedFailure, Version: 1}
	ids := []uuid.UUID{unresolved.ID, archived.ID, resolved.ID, raced.ID, repeated.ID, uuid.New()}

	repo.On("GetMany", ctx, ids).
		Return([]*domain.FailedMessage{unresolved, archived, resolved, raced, repeated}, nil).Once()
	repo.On("UpdateStatus", ctx, unresolved).Return(nil).Once()
	repo.On("UpdateStatus", ctx, raced).Return(apperrors.NewConflictError("failed message", raced.ID.String())).Once()

	result, err := uc.ArchiveByIDs(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Count)
	assert.Equal(t, []uuid.UUID{unresolved.ID}, result.IDs)
	assert.Equal(t, domain.StatusArchived, unresolved.Status)
	require.NotNil(t, unresolved.ExpiresAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *unresolved.ExpiresAt)
	assert.Equal(t, domain.StatusResolved, resolved.Status)
	assert.Equal(t, domain.StatusRepeatedFailure, repeated.Status)
	repo.AssertExpectations(t)
}

func TestArchiveUseCase_UnarchiveByIDs(t *testing.T) {
	ctx := context.Background()
	repo := &mockFailedMessageRepository{}
	uc := newTestArchiveUseCase(repo, &mockOperationTracker{})

	expiresAt := fixedNow.Add(time.Hour)
	archived := &domain.FailedMessage{ID: uuid.New(), Status: domain.StatusArchived, ExpiresAt: &expiresAt}
	unresolved := &domain.FailedMessage{ID: uuid.New(), Status: domain.StatusUnresolved}
	ids := []uuid.UUID{archived.ID, unresolved.ID}

	repo.On("GetMany", ctx, ids).Return([]*domain.FailedMessage{archived, unresolved}, nil).Once()
	repo.On("UpdateStatus", ctx, archived).Return(nil).Once()

	result, err := uc.UnarchiveByIDs(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Count)
	assert.Equal(t, domain.StatusUnresolved, archived.Status)
	assert.Nil(t, archived.ExpiresAt)
	repo.AssertExpectations(t)
}

func TestArchiveUseCase_UnarchiveByRange(t *testing.T) {
	ctx := context.Background()
	from := fixedNow.Add(-2 * time.Hour)
	to := fixedNow
	filter := domain.Filter{
		Statuses:     []domain.Status{domain.StatusArchived},
		ModifiedFrom: &from,
		ModifiedTo:   &to,
	}
	requestID := from.Format(time.RFC3339) + "/" + to.Format(time.RFC3339)

	t.Run("Success_RepeatedCallIsNoop", func(t *testing.T) {
		repo := &mockFailedMessageRepository{}
		tracker := &mockOperationTracker{}
		uc := newTestArchiveUseCase(repo, tracker)

		ids := make([]uuid.UUID, 150)
		for i := range ids {
			ids[i] = uuid.New()
		}
		firstOp, secondOp := uuid.New(), uuid.New()

		tracker.On("Begin", OperationUnarchiveByRange, requestID, 0).Return(firstOp).Once()
		tracker.On("Begin", OperationUnarchiveByRange, requestID, 0).Return(secondOp).Once()
		repo.On("BulkUpdateStatus", ctx, filter, domain.StatusUnresolved, (*time.Time)(nil)).Return(ids, nil).Once()
		repo.On("BulkUpdateStatus", ctx, filter, domain.StatusUnresolved, (*time.Time)(nil)).
			Return([]uuid.UUID{}, nil).Once()
		tracker.On("Complete", firstOp, 150).Once()
		tracker.On("Complete", secondOp, 0).Once()

		result, err := uc.UnarchiveByRange(ctx, from, to, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, 150, result.Count)
		assert.Len(t, result.IDs, 150)

		result, err = uc.UnarchiveByRange(ctx, from, to, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Count)

		repo.AssertExpectations(t)
		tracker.AssertExpectations(t)
	})

	t.Run("Error_RepositoryFailureIsTracked", func(t *testing.T) {
		repo := &mockFailedMessageRepository{}
		tracker := &mockOperationTracker{}
		uc := newTestArchiveUseCase(repo, tracker)
		operationID := uuid.New()

		tracker.On("Begin", OperationUnarchiveByRange, requestID, 0).Return(operationID).Once()
		repo.On("BulkUpdateStatus", ctx, filter, domain.StatusUnresolved, mock.Anything).Return(nil, assert.AnError).Once()
		tracker.On("Fail", operationID, assert.AnError).Once()

		_, err := uc.UnarchiveByRange(ctx, from, to, fixedNow)
		assert.ErrorIs(t, err, assert.AnError)
		tracker.AssertExpectations(t)
	})

	t.Run("Error_InvertedRange", func(t *testing.T) {
		uc := newTestArchiveUseCase(&mockFailedMessageRepository{}, &mockOperationTracker{})

		_, err := uc.UnarchiveByRange(ctx, to, from, fixedNow)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestArchiveUseCase_ArchiveGroup(t *testing.T) {
	ctx := context.Background()
	repo := &mockFailedMessageRepository{}
	tracker := &mockOperationTracker{}
	uc := newTestArchiveUseCase(repo, tracker)

	groupID := uuid.New()
	operationID := uuid.New()
	expiresAt := fixedNow.Add(24 * time.Hour)
	filter := domain.Filter{Statuses: []domain.Status{domain.StatusUnresolved}, GroupID: groupID}
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	tracker.On("Begin", OperationArchiveGroup, groupID.String(), 0).Return(operationID).Once()
	repo.On("BulkUpdateStatus", ctx, filter, domain.StatusArchived, &expiresAt).Return(ids, nil).Once()
	tracker.On("Complete", operationID, 2).Once()

	result, err := uc.ArchiveGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, ids, result.IDs)
	assert.Equal(t, 2, result.Count)
	repo.AssertExpectations(t)
	tracker.AssertExpectations(t)
}

func TestArchiveUseCase_UnarchiveGroup(t *testing.T) {
	ctx := context.Background()
	repo := &mockFailedMessageRepository{}
	tracker := &mockOperationTracker{}
	uc := newTestArchiveUseCase(repo, tracker)

	groupID := uuid.New()
	operationID := uuid.New()
	filter := domain.Filter{Statuses: []domain.Status{domain.StatusArchived}, GroupID: groupID}

	tracker.On("Begin", OperationUnarchiveGroup, groupID.String(), 0).Return(operationID).Once()
	repo.On("BulkUpdateStatus", ctx, filter, domain.StatusUnresolved, (*time.Time)(nil)).
		Return([]uuid.UUID{uuid.New()}, nil).Once()
	tracker.On("Complete", operationID, 1).Once()

	result, err := uc.UnarchiveGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	tracker.AssertExpectations(t)
}
