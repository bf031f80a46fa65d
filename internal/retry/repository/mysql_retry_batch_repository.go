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

// MySQLRetryBatchRepository implements RetryBatch persistence for MySQL.
type MySQLRetryBatchRepository struct {
	db *sql.DB
}

// Create inserts a new retry batch with version 1.
func (m *MySQLRetryBatchRepository) Create(ctx context.Context, batch *domain.RetryBatch) error {
	querier := database.GetTx(ctx, m.db)

	id, err := batch.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	failureRetries, err := encodeFailureRetries(batch.FailureRetries)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `INSERT INTO retry_batches (id, request_id, retry_type, status, retry_session_id, originator,
				classifier, context, failure_retries, initial_batch_size, start_time, last, last_failure,
				version, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
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
func (m *MySQLRetryBatchRepository) Update(ctx context.Context, batch *domain.RetryBatch) error {
	querier := database.GetTx(ctx, m.db)

	id, err := batch.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	failureRetries, err := encodeFailureRetries(batch.FailureRetries)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE retry_batches
			  SET status = ?, failure_retries = ?, initial_batch_size = ?, last = ?, last_failure = ?,
				  version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(batch.Status),
		failureRetries,
		batch.InitialBatchSize,
		nullTime(batch.Last),
		nullTime(batch.LastFailure),
		now,
		id,
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
func (m *MySQLRetryBatchRepository) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.BatchStatus,
) error {
	querier := database.GetTx(ctx, m.db)

	binaryID, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	query := `UPDATE retry_batches
			  SET status = ?, version = version + 1, updated_at = ?
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(ctx, query, string(to), time.Now().UTC(), binaryID, string(from))
	if err != nil {
		return apperrors.Wrap(err, "failed to update retry batch status")
	}
	return checkAffected(result, "retry batch", id.String())
}

// Get retrieves a retry batch by id.
func (m *MySQLRetryBatchRepository) Get(ctx context.Context, id uuid.UUID) (*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, m.db)

	binaryID, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches WHERE id = ?`

	batch, err := scanMySQLRetryBatch(querier.QueryRowContext(ctx, query, binaryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRetryBatchNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get retry batch")
	}
	return batch, nil
}

// GetStagingBatch returns the oldest batch waiting to be forwarded.
func (m *MySQLRetryBatchRepository) GetStagingBatch(ctx context.Context) (*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches
			  WHERE status = ?
			  ORDER BY start_time ASC, id ASC
			  LIMIT 1`

	batch, err := scanMySQLRetryBatch(querier.QueryRowContext(ctx, query, string(domain.BatchStatusStaging)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRetryBatchNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get staging retry batch")
	}
	return batch, nil
}

// ListOrphaned returns the batches still marking documents that belong to another session.
func (m *MySQLRetryBatchRepository) ListOrphaned(ctx context.Context, sessionID string) ([]*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches
			  WHERE status = ? AND retry_session_id <> ?
			  ORDER BY start_time ASC, id ASC`

	rows, err := querier.QueryContext(ctx, query, string(domain.BatchStatusMarkingDocuments), sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list orphaned retry batches")
	}
	return collectMySQLRetryBatches(rows)
}

// List returns retry batches, newest first.
func (m *MySQLRetryBatchRepository) List(ctx context.Context, offset, limit int) ([]*domain.RetryBatch, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + retryBatchColumns + ` FROM retry_batches
			  ORDER BY start_time DESC, id DESC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list retry batches")
	}
	return collectMySQLRetryBatches(rows)
}

// Delete removes a retry batch. Deleting a missing batch is not an error.
func (m *MySQLRetryBatchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, m.db)

	binaryID, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	if _, err := querier.ExecContext(ctx, `DELETE FROM retry_batches WHERE id = ?`, binaryID); err != nil {
		return apperrors.Wrap(err, "failed to delete retry batch")
	}
	return nil
}

func scanMySQLRetryBatch(scanner interface{ Scan(dest ...any) error }) (*domain.RetryBatch, error) {
	var binaryID []byte
	var row retryBatchRow
	err := scanner.Scan(
		&binaryID,
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

	var id uuid.UUID
	if err := id.UnmarshalBinary(binaryID); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal retry batch id")
	}
	return row.toDomain(id)
}

func collectMySQLRetryBatches(rows *sql.Rows) ([]*domain.RetryBatch, error) {
	defer func() {
		_ = rows.Close()
	}()

	batches := make([]*domain.RetryBatch, 0)
	for rows.Next() {
		batch, err := scanMySQLRetryBatch(rows)
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

// NewMySQLRetryBatchRepository creates a new MySQL RetryBatch repository.
func NewMySQLRetryBatchRepository(db *sql.DB) *MySQLRetryBatchRepository {
	return &MySQLRetryBatchRepository{db: db}
}
