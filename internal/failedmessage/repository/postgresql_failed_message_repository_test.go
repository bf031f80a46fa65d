package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

func TestNewPostgreSQLFailedMessageRepository(t *testing.T) {
	db, _ := newMockDB(t)

	repo := NewPostgreSQLFailedMessageRepository(db)
	assert.NotNil(t, repo)
	assert.IsType(t, &PostgreSQLFailedMessageRepository{}, repo)
}

func TestPostgreSQLFailedMessageRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLFailedMessageRepository(db)
		msg := newTestFailedMessage(domain.StatusUnresolved)
		msg.Version = 0

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO failed_messages")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM failed_message_groups")).
			WithArgs(msg.ID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		for _, group := range msg.FailureGroups {
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO failed_message_groups")).
				WithArgs(msg.ID, group.ID, group.Title, group.Type).
				WillReturnResult(sqlmock.NewResult(0, 1))
		}

		err := repo.Create(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, int64(1), msg.Version)
		assert.False(t, msg.LastModified.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error_DuplicateIsConflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLFailedMessageRepository(db)
		msg := newTestFailedMessage(domain.StatusUnresolved)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO failed_messages")).
			WillReturnError(&pq.Error{Code: pgUniqueViolation})

		err := repo.Create(ctx, msg)
		assert.True(t, apperrors.IsConflict(err))

		var conflict *apperrors.ConflictError
		require.True(t, apperrors.As(err, &conflict))
		assert.Equal(t, msg.ID.String(), conflict.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgreSQLFailedMessageRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	query := "(?s)" + regexp.QuoteMeta("UPDATE failed_messages") + ".*" + regexp.QuoteMeta("WHERE id = $4 AND version = $5")

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLFailedMessageRepository(db)
		msg := newTestFailedMessage(domain.StatusArchived)

		mock.ExpectExec(query).
			WithArgs("archived", sqlmock.AnyArg(), sqlmock.AnyArg(), msg.ID, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdateStatus(ctx, msg))
		assert.Equal(t, int64(4), msg.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error_StaleVersion", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLFailedMessageRepository(db)
		msg := newTestFailedMessage(domain.StatusArchived)

		mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateStatus(ctx, msg)
		assert.True(t, apperrors.IsConflict(err))
		assert.Equal(t, int64(3), msg.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgreSQLFailedMessageRepository_Update_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLFailedMessageRepository(db)
	msg := newTestFailedMessage(domain.StatusRepeatedFailure)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE failed_messages")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), msg)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLFailedMessageRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLFailedMessageRepository(db)
		msg := newTestFailedMessage(domain.StatusUnresolved)

		rows := sqlmock.NewRows(failedMessageColumnNames).AddRow(documentRow(t, msg.ID.String(), msg)...)
		mock.ExpectQuery(regexp.QuoteMeta("FROM failed_messages fm WHERE fm.id = $1")).
			WithArgs(msg.ID).
			WillReturnRows(rows)

		found, err := repo.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, found.ID)
		assert.Equal(t, domain.StatusUnresolved, found.Status)
		assert.Equal(t, msg.ProcessingAttempts, found.ProcessingAttempts)
		assert.Equal(t, msg.FailureGroups, found.FailureGroups)
		assert.Nil(t, found.ExpiresAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success_LegacyDocument", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLFailedMessageRepository(db)
		id := uuid.New()
		groupID := uuid.New()
		now := time.Now().UTC()

		rows := sqlmock.NewRows(failedMessageColumnNames).AddRow(
			id.String(), "msg-legacy", "", "Sales", "sales@host", "archived", 1,
			legacyDocument(t, groupID), now, int64(7), now, now,
		)
		mock.ExpectQuery(regexp.QuoteMeta("FROM failed_messages fm WHERE fm.id = $1")).WillReturnRows(rows)

		found, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusArchived, found.Status)
		require.NotNil(t, found.ExpiresAt)
		require.Len(t, found.FailureGroups, 1)
		assert.Equal(t, domain.ClassifierMessageType, found.FailureGroups[0].Type)
	})

	t.Run("NotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgreSQLFailedMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta("FROM failed_messages fm WHERE fm.id = $1")).
			WillReturnRows(sqlmock.NewRows(failedMessageColumnNames))

		found, err := repo.Get(ctx, uuid.New())
		assert.Nil(t, found)
		assert.ErrorIs(t, err, domain.ErrFailedMessageNotFound)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestPostgreSQLFailedMessageRepository_GetMany_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLFailedMessageRepository(db)

	messages, err := repo.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLFailedMessageRepository_ListAfter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLFailedMessageRepository(db)
	msg := newTestFailedMessage(domain.StatusRetryIssued)

	query := "(?s)" + regexp.QuoteMeta("WHERE fm.status IN ($1) AND (fm.last_modified > $2 OR (fm.last_modified = $3 AND fm.id > $4))") +
		".*" + regexp.QuoteMeta("ORDER BY fm.last_modified ASC, fm.id ASC LIMIT $5")
	mock.ExpectQuery(query).
		WithArgs("retry_issued", msg.LastModified, msg.LastModified, msg.ID, 100).
		WillReturnRows(sqlmock.NewRows(failedMessageColumnNames).AddRow(documentRow(t, msg.ID.String(), msg)...))

	messages, err := repo.ListAfter(
		context.Background(),
		domain.Filter{Statuses: []domain.Status{domain.StatusRetryIssued}},
		domain.After(msg),
		100,
	)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, msg.ID, messages[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLFailedMessageRepository_BulkUpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLFailedMessageRepository(db)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	rows := sqlmock.NewRows([]string{"id"})
	expected := make([]uuid.UUID, 0, 150)
	for range 150 {
		id := uuid.New()
		expected = append(expected, id)
		rows.AddRow(id.String())
	}

	query := regexp.QuoteMeta("UPDATE failed_messages fm SET status = $1, expires_at = $2, version = fm.version + 1, last_modified = $3 WHERE fm.status IN ($4) AND fm.last_modified >= $5 AND fm.last_modified <= $6 RETURNING fm.id")
	mock.ExpectQuery(query).
		WithArgs("unresolved", sqlmock.AnyArg(), sqlmock.AnyArg(), "archived", from, to).
		WillReturnRows(rows)

	ids, err := repo.BulkUpdateStatus(
		context.Background(),
		domain.Filter{Statuses: []domain.Status{domain.StatusArchived}, ModifiedFrom: &from, ModifiedTo: &to},
		domain.StatusUnresolved,
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, expected, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLFailedMessageRepository_CountByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLFailedMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM failed_messages")).
		WithArgs("unresolved", "repeated_failure", "archived").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("unresolved", int64(4)).
			AddRow("repeated_failure", int64(1)).
			AddRow("archived", int64(2)))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCounts{Unresolved: 5, Archived: 2}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLFailedMessageRepository_ListGroups(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLFailedMessageRepository(db)

	groupID := uuid.New()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM failed_message_groups g")).
		WithArgs(domain.ClassifierMessageType, "unresolved", "repeated_failure", 200).
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "title", "type", "count", "first", "last", "last_modified", "comment"}).
			AddRow(groupID.String(), "Sales.OrderPlaced", domain.ClassifierMessageType, int64(3), first, last, last, "known issue").
			AddRow(uuid.New().String(), "Sales.OrderCancelled", domain.ClassifierMessageType, int64(1), first, first, first, nil))

	groups, err := repo.ListGroups(context.Background(), domain.ClassifierMessageType, 200)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, groupID, groups[0].ID)
	assert.Equal(t, int64(3), groups[0].Count)
	require.NotNil(t, groups[0].Comment)
	assert.Equal(t, "known issue", *groups[0].Comment)
	assert.Nil(t, groups[1].Comment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLFailedMessageRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgreSQLFailedMessageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM failed_messages WHERE id = ANY($1::uuid[])")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	count, err := repo.Delete(context.Background(), []uuid.UUID{uuid.New(), uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
