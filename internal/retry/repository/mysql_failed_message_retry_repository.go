package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// MySQLFailedMessageRetryRepository implements FailedMessageRetry persistence for MySQL.
type MySQLFailedMessageRetryRepository struct {
	db *sql.DB
}

// CreateIfMissing inserts the marker unless one already exists for the failed message.
// The no-op ON DUPLICATE KEY UPDATE reports zero affected rows for an existing marker, unless
// the DSN sets clientFoundRows, so a reported row is confirmed by reading the owner back.
func (m *MySQLFailedMessageRetryRepository) CreateIfMissing(
	ctx context.Context,
	retry *domain.FailedMessageRetry,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	failedMessageID, err := retry.FailedMessageID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to marshal failed message id")
	}
	batchID, err := retry.RetryBatchID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	if retry.CreatedAt.IsZero() {
		retry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO failed_message_retries (failed_message_id, retry_batch_id, stage_attempts, created_at)
			  VALUES (?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE failed_message_id = failed_message_id`

	result, err := querier.ExecContext(ctx, query, failedMessageID, batchID, retry.StageAttempts, retry.CreatedAt)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to create failed message retry")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return false, nil
	}

	var owner []byte
	err = querier.QueryRowContext(
		ctx,
		`SELECT retry_batch_id FROM failed_message_retries WHERE failed_message_id = ?`,
		failedMessageID,
	).Scan(&owner)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read failed message retry owner")
	}
	return bytes.Equal(owner, batchID), nil
}

// Get retrieves the marker of a failed message.
func (m *MySQLFailedMessageRetryRepository) Get(
	ctx context.Context,
	failedMessageID uuid.UUID,
) (*domain.FailedMessageRetry, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := failedMessageID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal failed message id")
	}

	query := `SELECT ` + failedMessageRetryColumns + ` FROM failed_message_retries WHERE failed_message_id = ?`

	retry, err := scanMySQLFailedMessageRetry(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFailedMessageRetryNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get failed message retry")
	}
	return retry, nil
}

// ListByBatch returns the markers owned by a batch.
func (m *MySQLFailedMessageRetryRepository) ListByBatch(
	ctx context.Context,
	batchID uuid.UUID,
) ([]*domain.FailedMessageRetry, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := batchID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	query := `SELECT ` + failedMessageRetryColumns + ` FROM failed_message_retries
			  WHERE retry_batch_id = ?
			  ORDER BY created_at ASC, failed_message_id ASC`

	rows, err := querier.QueryContext(ctx, query, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list failed message retries")
	}
	defer func() {
		_ = rows.Close()
	}()

	retries := make([]*domain.FailedMessageRetry, 0)
	for rows.Next() {
		retry, err := scanMySQLFailedMessageRetry(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan failed message retry")
		}
		retries = append(retries, retry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate failed message retries")
	}
	return retries, nil
}

// CountByBatch returns how many markers a batch still owns.
func (m *MySQLFailedMessageRetryRepository) CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := batchID.MarshalBinary()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	var count int
	query := `SELECT COUNT(*) FROM failed_message_retries WHERE retry_batch_id = ?`
	if err := querier.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, "failed to count failed message retries")
	}
	return count, nil
}

// IncrementStageAttempts adds one staging attempt to each marker in ids.
func (m *MySQLFailedMessageRetryRepository) IncrementStageAttempts(
	ctx context.Context,
	failedMessageIDs []uuid.UUID,
) error {
	if len(failedMessageIDs) == 0 {
		return nil
	}
	querier := database.GetTx(ctx, m.db)

	args := make([]any, 0, len(failedMessageIDs))
	for _, failedMessageID := range failedMessageIDs {
		id, err := failedMessageID.MarshalBinary()
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal failed message id")
		}
		args = append(args, id)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	query := `UPDATE failed_message_retries
			  SET stage_attempts = stage_attempts + 1
			  WHERE failed_message_id IN (` + placeholders + `)`

	if _, err := querier.ExecContext(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, "failed to increment stage attempts")
	}
	return nil
}

// Release deletes the marker of a failed message only while batchID still owns it.
func (m *MySQLFailedMessageRetryRepository) Release(ctx context.Context, failedMessageID, batchID uuid.UUID) error {
	querier := database.GetTx(ctx, m.db)

	id, err := failedMessageID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal failed message id")
	}
	owner, err := batchID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	query := `DELETE FROM failed_message_retries WHERE failed_message_id = ? AND retry_batch_id = ?`
	if _, err := querier.ExecContext(ctx, query, id, owner); err != nil {
		return apperrors.Wrap(err, "failed to release failed message retry")
	}
	return nil
}

// Delete removes the marker of a failed message whatever batch owns it.
func (m *MySQLFailedMessageRetryRepository) Delete(ctx context.Context, failedMessageID uuid.UUID) error {
	querier := database.GetTx(ctx, m.db)

	id, err := failedMessageID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal failed message id")
	}

	if _, err := querier.ExecContext(ctx, `DELETE FROM failed_message_retries WHERE failed_message_id = ?`, id); err != nil {
		return apperrors.Wrap(err, "failed to delete failed message retry")
	}
	return nil
}

// DeleteByBatch removes every marker owned by a batch.
func (m *MySQLFailedMessageRetryRepository) DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := batchID.MarshalBinary()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	result, err := querier.ExecContext(ctx, `DELETE FROM failed_message_retries WHERE retry_batch_id = ?`, id)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete failed message retries")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}
	return deleted, nil
}

func scanMySQLFailedMessageRetry(scanner interface{ Scan(dest ...any) error }) (*domain.FailedMessageRetry, error) {
	var failedMessageID, batchID []byte
	var retry domain.FailedMessageRetry
	if err := scanner.Scan(&failedMessageID, &batchID, &retry.StageAttempts, &retry.CreatedAt); err != nil {
		return nil, err
	}
	if err := retry.FailedMessageID.UnmarshalBinary(failedMessageID); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal failed message id")
	}
	if err := retry.RetryBatchID.UnmarshalBinary(batchID); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal retry batch id")
	}
	retry.CreatedAt = retry.CreatedAt.UTC()
	return &retry, nil
}

// DeleteDangling removes markers whose retry batch row is gone.
func (m *MySQLFailedMessageRetryRepository) DeleteDangling(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	query := `DELETE r FROM failed_message_retries r
			  LEFT JOIN retry_batches b ON b.id = r.retry_batch_id
			  WHERE b.id IS NULL`

	result, err := querier.ExecContext(ctx, query)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete dangling failed message retries")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}
	return deleted, nil
}

// NewMySQLFailedMessageRetryRepository creates a new MySQL FailedMessageRetry repository.
func NewMySQLFailedMessageRetryRepository(db *sql.DB) *MySQLFailedMessageRetryRepository {
	return &MySQLFailedMessageRetryRepository{db: db}
}
