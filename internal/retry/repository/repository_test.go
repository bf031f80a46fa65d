package repository

import (
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/allisson/recoverability/internal/retry/domain"
)

var retryBatchColumnNames = []string{
	"id", "request_id", "retry_type", "status", "retry_session_id", "originator", "classifier", "context",
	"failure_retries", "initial_batch_size", "start_time", "last", "last_failure", "version", "created_at",
	"updated_at",
}

var testTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newTestBatch(status domain.BatchStatus) *domain.RetryBatch {
	return &domain.RetryBatch{
		ID:               uuid.New(),
		RequestID:        "Billing",
		RetryType:        domain.RetryTypeEndpoint,
		Status:           status,
		RetrySessionID:   "session-1",
		Originator:       "Billing",
		FailureRetries:   []uuid.UUID{uuid.New()},
		InitialBatchSize: 1,
		StartTime:        testTime,
		Version:          2,
	}
}

// batchRow renders batch as a result row; id is the driver value of the id column.
func batchRow(batch *domain.RetryBatch, id any) []driver.Value {
	failureRetries, _ := encodeFailureRetries(batch.FailureRetries)
	return []driver.Value{
		id, batch.RequestID, string(batch.RetryType), string(batch.Status), batch.RetrySessionID,
		batch.Originator, batch.Classifier, batch.Context, failureRetries, batch.InitialBatchSize,
		batch.StartTime, nil, nil, batch.Version, testTime, testTime,
	}
}

func mustBinary(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	data, err := id.MarshalBinary()
	require.NoError(t, err)
	return data
}
