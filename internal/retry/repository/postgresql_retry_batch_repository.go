package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// PostgreSQLRetryBatchRepository implements RetryBatch persistence for PostgreSQL.
type PostgreSQLRetryBatchRepository struct {
	db *sql.DB
}

// Create inserts a new retry batch with version 1.
func (p *PostgreSQLRetryBatchRepository) Create(ctx context.Context, batch *domain.RetryBatch) error {
	querier := database.GetTx(ctx, p.db)

	failureRetries, err := encodeFailureRetries(batch.FailureRetries)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `INSERT INTO retry_batches (id, request_id, retry_type, status, retry_session_id, originator,
				classifier, context, failure_retries, initial_batch_size, start_time, last, last_failure,
				version, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $14)`

	_, err = querier.ExecContext(
		ctx,
		query,
		batch.ID,
		batch.RequestID,
		string(batch.RetryType),
		string(batch.Status),
		batch.RetrySessionID,
		batch.Originator,
		batch.Classifier,
		batch.Context,
		failureRetries,
		batch.InitialBatchSize,
		batch.StartTime.UTC(),
		nullTime(batch.Last),
		nullTime(batch.LastFailure),
		now,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create retry batch")
	}

	batch.Version = 1
	batch.CreatedAt = now
	batch.UpdatedAt = now
	return nil
}

// Update rewrites the mutable fields of batch if its version still matches.
func (p *PostgreSQLRetryBatchRepository) Update(ctx context.Context, batch *domain.RetryBatch) error {
	querier := database.GetTx(ctx, p.db)

	failureRetries, err := encodeFailureRetries(batch.FailureRetries)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE retry_batches
			  SET status = $1, failure_retries = $2, initial_batch_size = $3, last = $4, last_failure = $5,
				  version = version + 1, updated_at = $6
			  WHERE id = $7 AND version = $8`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(batch.Status),
		failureRetries,
		batch.InitialBatchSize,
		nullTime(batch.Last),
		nullTime(batch.LastFailure),
		now,
		batch.ID,
		batch.Version,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update retry batch")
	}
	if err := checkAffected(result, "retry batch", batch.ID.String()); err != nil {
		return err
	}

	batch.Version++
	batch.UpdatedAt = now
	return nil
}

// UpdateStatus moves the batch from one status to another. It returns a ConflictError when
// the batch is gone or no longer in from.
func (p *PostgreSQLRetryBatchRepository) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.BatchStatus,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE retry_batches
			  SET status = $1, version = version + 1, updated_at = $2
			  WHERE id = $3 AND status = $4`

	result, err := querier.ExecContext(ctx, query, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return apperrors.Wrap(err, "failed to update retry batch status")
	}
	return checkAffected(result, "retry batch", id.String())
}

// Get retrieves a retry batch by id.
func (p *PostgreSQLRetryBatchRepository) Get(ctx context.Context, id uuid.UUID) (*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches WHERE id = $1`

	batch, err := scanPostgreSQLRetryBatch(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRetryBatchNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get retry batch")
	}
	return batch, nil
}

// GetStagingBatch returns the oldest batch waiting to be forwarded.
func (p *PostgreSQLRetryBatchRepository) GetStagingBatch(ctx context.Context) (*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches
			  WHERE status = $1
			  ORDER BY start_time ASC, id ASC
			  LIMIT 1`

	row := querier.QueryRowContext(ctx, query, string(domain.BatchStatusStaging))
	batch, err := scanPostgreSQLRetryBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRetryBatchNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get staging retry batch")
	}
	return batch, nil
}

// ListOrphaned returns the batches still marking documents that belong to another session.
func (p *PostgreSQLRetryBatchRepository) ListOrphaned(
	ctx context.Context,
	sessionID string,
) ([]*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches
			  WHERE status = $1 AND retry_session_id <> $2
			  ORDER BY start_time ASC, id ASC`

	rows, err := querier.QueryContext(ctx, query, string(domain.BatchStatusMarkingDocuments), sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list orphaned retry batches")
	}
	return collectPostgreSQLRetryBatches(rows)
}

// List returns retry batches, newest first.
func (p *PostgreSQLRetryBatchRepository) List(ctx context.Context, offset, limit int) ([]*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches
			  ORDER BY start_time DESC, id DESC
			  LIMIT $1 OFFSET $2`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list retry batches")
	}
	return collectPostgreSQLRetryBatches(rows)
}

// Delete removes a retry batch. Deleting a missing batch is not an error.
func (p *PostgreSQLRetryBatchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, p.db)

	if _, err := querier.ExecContext(ctx, `DELETE FROM retry_batches WHERE id = $1`, id); err != nil {
		return apperrors.Wrap(err, "failed to delete retry batch")
	}
	return nil
}

func scanPostgreSQLRetryBatch(scanner interface{ Scan(dest ...any) error }) (*domain.RetryBatch, error) {
	var id uuid.UUID
	var row retryBatchRow
	err := scanner.Scan(
		&id,
		&row.requestID,
		&row.retryType,
		&row.status,
		&row.retrySessionID,
		&row.originator,
		&row.classifier,
		&row.context,
		&row.failureRetries,
		&row.initialBatchSize,
		&row.startTime,
		&row.last,
		&row.lastFailure,
		&row.version,
		&row.createdAt,
		&row.updatedAt,
	)
	if err != nil {
		return nil, err
	}
	return row.toDomain(id)
}

func collectPostgreSQLRetryBatches(rows *sql.Rows) ([]*domain.RetryBatch, error) {
	defer func() {
		_ = rows.Close()
	}()

	batches := make([]*domain.RetryBatch, 0)
	for rows.Next() {
		batch, err := scanPostgreSQLRetryBatch(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan retry batch")
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate retry batches")
	}
	return batches, nil
}

// NewPostgreSQLRetryBatchRepository creates a new PostgreSQL RetryBatch repository.
func NewPostgreSQLRetryBatchRepository(db *sql.DB) *PostgreSQLRetryBatchRepository {
	return &PostgreSQLRetryBatchRepository{db: db}
}
