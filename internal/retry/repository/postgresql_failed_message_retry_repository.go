package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// PostgreSQLFailedMessageRetryRepository implements FailedMessageRetry persistence for PostgreSQL.
type PostgreSQLFailedMessageRetryRepository struct {
	db *sql.DB
}

// CreateIfMissing inserts the marker unless one already exists for the failed message.
// It reports whether this call created it.
func (p *PostgreSQLFailedMessageRetryRepository) CreateIfMissing(
	ctx context.Context,
	retry *domain.FailedMessageRetry,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	if retry.CreatedAt.IsZero() {
		retry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO failed_message_retries (failed_message_id, retry_batch_id, stage_attempts, created_at)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (failed_message_id) DO NOTHING`

	result, err := querier.ExecContext(
		ctx,
		query,
		retry.FailedMessageID,
		retry.RetryBatchID,
		retry.StageAttempts,
		retry.CreatedAt,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to create failed message retry")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// Get retrieves the marker of a failed message.
func (p *PostgreSQLFailedMessageRetryRepository) Get(
	ctx context.Context,
	failedMessageID uuid.UUID,
) (*domain.FailedMessageRetry, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + failedMessageRetryColumns + ` FROM failed_message_retries WHERE failed_message_id = $1`

	var retry domain.FailedMessageRetry
	err := querier.QueryRowContext(ctx, query, failedMessageID).Scan(
		&retry.FailedMessageID,
		&retry.RetryBatchID,
		&retry.StageAttempts,
		&retry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFailedMessageRetryNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get failed message retry")
	}
	retry.CreatedAt = retry.CreatedAt.UTC()
	return &retry, nil
}

// ListByBatch returns the markers owned by a batch.
func (p *PostgreSQLFailedMessageRetryRepository) ListByBatch(
	ctx context.Context,
	batchID uuid.UUID,
) ([]*domain.FailedMessageRetry, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + failedMessageRetryColumns + ` FROM failed_message_retries
			  WHERE retry_batch_id = $1
			  ORDER BY created_at ASC, failed_message_id ASC`

	rows, err := querier.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list failed message retries")
	}
	defer func() {
		_ = rows.Close()
	}()

	retries := make([]*domain.FailedMessageRetry, 0)
	for rows.Next() {
		var retry domain.FailedMessageRetry
		if err := rows.Scan(
			&retry.FailedMessageID,
			&retry.RetryBatchID,
			&retry.StageAttempts,
			&retry.CreatedAt,
		); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan failed message retry")
		}
		retry.CreatedAt = retry.CreatedAt.UTC()
		retries = append(retries, &retry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate failed message retries")
	}
	return retries, nil
}

// CountByBatch returns how many markers a batch still owns.
func (p *PostgreSQLFailedMessageRetryRepository) CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	querier := database.GetTx(ctx, p.db)

	var count int
	query := `SELECT COUNT(*) FROM failed_message_retries WHERE retry_batch_id = $1`
	if err := querier.QueryRowContext(ctx, query, batchID).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, "failed to count failed message retries")
	}
	return count, nil
}

// IncrementStageAttempts adds one staging attempt to each marker in ids.
func (p *PostgreSQLFailedMessageRetryRepository) IncrementStageAttempts(
	ctx context.Context,
	failedMessageIDs []uuid.UUID,
) error {
	if len(failedMessageIDs) == 0 {
		return nil
	}
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE failed_message_retries
			  SET stage_attempts = stage_attempts + 1
			  WHERE failed_message_id = ANY($1::uuid[])`

	if _, err := querier.ExecContext(ctx, query, pq.Array(uuidStrings(failedMessageIDs))); err != nil {
		return apperrors.Wrap(err, "failed to increment stage attempts")
	}
	return nil
}

// Release deletes the marker of a failed message only while batchID still owns it.
func (p *PostgreSQLFailedMessageRetryRepository) Release(
	ctx context.Context,
	failedMessageID, batchID uuid.UUID,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `DELETE FROM failed_message_retries WHERE failed_message_id = $1 AND retry_batch_id = $2`
	if _, err := querier.ExecContext(ctx, query, failedMessageID, batchID); err != nil {
		return apperrors.Wrap(err, "failed to release failed message retry")
	}
	return nil
}

// Delete removes the marker of a failed message whatever batch owns it.
func (p *PostgreSQLFailedMessageRetryRepository) Delete(ctx context.Context, failedMessageID uuid.UUID) error {
	querier := database.GetTx(ctx, p.db)

	query := `DELETE FROM failed_message_retries WHERE failed_message_id = $1`
	if _, err := querier.ExecContext(ctx, query, failedMessageID); err != nil {
		return apperrors.Wrap(err, "failed to delete failed message retry")
	}
	return nil
}

// DeleteByBatch removes every marker owned by a batch.
func (p *PostgreSQLFailedMessageRetryRepository) DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM failed_message_retries WHERE retry_batch_id = $1`, batchID)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete failed message retries")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}
	return deleted, nil
}

// DeleteDangling removes markers whose retry batch row is gone.
func (p *PostgreSQLFailedMessageRetryRepository) DeleteDangling(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	query := `DELETE FROM failed_message_retries r
			  WHERE NOT EXISTS (SELECT 1 FROM retry_batches b WHERE b.id = r.retry_batch_id)`

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

// NewPostgreSQLFailedMessageRetryRepository creates a new PostgreSQL FailedMessageRetry repository.
func NewPostgreSQLFailedMessageRetryRepository(db *sql.DB) *PostgreSQLFailedMessageRetryRepository {
	return &PostgreSQLFailedMessageRetryRepository{db: db}
}
