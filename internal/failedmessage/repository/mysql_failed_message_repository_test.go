package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

func mustBinary(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	raw, err := id.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestNewMySQLFailedMessageRepository(t *testing.T) {
	db, _ := newMockDB(t)

	repo := NewMySQLFailedMessageRepository(db)
	assert.NotNil(t, repo)
	assert.NotNil(t, repo.txManager)
}

func TestMySQLFailedMessageRepository_Create_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMySQLFailedMessageRepository(db)
	msg := newTestFailedMessage(domain.StatusUnresolved)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO failed_messages")).
		WillReturnError(&mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"})

	err := repo.Create(context.Background(), msg)
	assert.True(t, apperrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLFailedMessageRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMySQLFailedMessageRepository(db)
	msg := newTestFailedMessage(domain.StatusUnresolved)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO failed_messages")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM failed_message_groups WHERE failed_message_id = ?")).
		WithArgs(mustBinary(t, msg.ID)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, group := range msg.FailureGroups {
		mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO failed_message_groups")).
			WithArgs(mustBinary(t, msg.ID), mustBinary(t, group.ID), group.Title, group.Type).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, repo.Create(context.Background(), msg))
	assert.Equal(t, int64(1), msg.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLFailedMessageRepository_Get(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMySQLFailedMessageRepository(db)
	msg := newTestFailedMessage(domain.StatusRetryIssued)

	mock.ExpectQuery(regexp.QuoteMeta("FROM failed_messages fm WHERE fm.id = ?")).
		WithArgs(mustBinary(t, msg.ID)).
		WillReturnRows(sqlmock.NewRows(failedMessageColumnNames).AddRow(documentRow(t, mustBinary(t, msg.ID), msg)...))

	found, err := repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)
	assert.Equal(t, domain.StatusRetryIssued, found.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLFailedMessageRepository_UpdateStatus_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMySQLFailedMessageRepository(db)
	msg := newTestFailedMessage(domain.StatusResolved)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE failed_messages")).
		WithArgs("resolved", sqlmock.AnyArg(), sqlmock.AnyArg(), mustBinary(t, msg.ID), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), msg)
	assert.True(t, apperrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLFailedMessageRepository_BulkUpdateStatus(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	filter := domain.Filter{Statuses: []domain.Status{domain.StatusArchived}, ModifiedFrom: &from, ModifiedTo: &to}
	selectQuery := regexp.QuoteMeta(
		"SELECT fm.id FROM failed_messages fm WHERE fm.status IN (?) AND fm.last_modified >= ? AND fm.last_modified <= ? FOR UPDATE",
	)

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewMySQLFailedMessageRepository(db)

		first, second := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(selectQuery).
			WithArgs("archived", from, to).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).
				AddRow(mustBinary(t, first)).
				AddRow(mustBinary(t, second)))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE failed_messages SET status = ?, expires_at = ?, version = version + 1, last_modified = ? WHERE id IN (?, ?)")).
			WithArgs("unresolved", sqlmock.AnyArg(), sqlmock.AnyArg(), mustBinary(t, first), mustBinary(t, second)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		ids, err := repo.BulkUpdateStatus(context.Background(), filter, domain.StatusUnresolved, nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{first, second}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NothingMatched", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewMySQLFailedMessageRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(selectQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		ids, err := repo.BulkUpdateStatus(context.Background(), filter, domain.StatusUnresolved, nil)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error_RollsBack", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewMySQLFailedMessageRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(selectQuery).WillReturnError(assert.AnError)
		mock.ExpectRollback()

		_, err := repo.BulkUpdateStatus(context.Background(), filter, domain.StatusUnresolved, nil)
		assert.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMySQLFailedMessageRepository_ListEndpoints(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMySQLFailedMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT receiving_endpoint, COUNT(*) FROM failed_messages")).
		WithArgs("unresolved", "repeated_failure").
		WillReturnRows(sqlmock.NewRows([]string{"receiving_endpoint", "count"}).
			AddRow("Billing", int64(3)).
			AddRow("Sales", int64(1)))

	endpoints, err := repo.ListEndpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []*domain.EndpointView{{Name: "Billing", FailedCount: 3}, {Name: "Sales", FailedCount: 1}}, endpoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}
