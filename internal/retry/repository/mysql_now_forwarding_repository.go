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

// MySQLNowForwardingRepository implements the now-forwarding lease for MySQL.
type MySQLNowForwardingRepository struct {
	db *sql.DB
}

// Get returns the current lease.
func (m *MySQLNowForwardingRepository) Get(ctx context.Context) (*domain.NowForwarding, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT retry_batch_id, retry_session_id, version, updated_at
			  FROM retry_batch_now_forwarding WHERE id = ?`

	var batchID []byte
	var lease domain.NowForwarding
	err := querier.QueryRowContext(ctx, query, nowForwardingID).Scan(
		&batchID,
		&lease.RetrySessionID,
		&lease.Version,
		&lease.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNowForwardingNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get now forwarding")
	}
	if err := lease.RetryBatchID.UnmarshalBinary(batchID); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal retry batch id")
	}
	lease.UpdatedAt = lease.UpdatedAt.UTC()
	return &lease, nil
}

// Acquire creates the lease when lease.Version is zero, otherwise it takes over or refreshes
// the lease at that version. Losing the race returns a ConflictError.
func (m *MySQLNowForwardingRepository) Acquire(ctx context.Context, lease *domain.NowForwarding) error {
	querier := database.GetTx(ctx, m.db)
	now := time.Now().UTC()

	batchID, err := lease.RetryBatchID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	var result sql.Result
	if lease.Version == 0 {
		query := `INSERT INTO retry_batch_now_forwarding (id, retry_batch_id, retry_session_id, version, updated_at)
				  VALUES (?, ?, ?, 1, ?)
				  ON DUPLICATE KEY UPDATE id = id`
		result, err = querier.ExecContext(ctx, query, nowForwardingID, batchID, lease.RetrySessionID, now)
	} else {
		query := `UPDATE retry_batch_now_forwarding
				  SET retry_batch_id = ?, retry_session_id = ?, version = version + 1, updated_at = ?
				  WHERE id = ? AND version = ?`
		result, err = querier.ExecContext(ctx, query, batchID, lease.RetrySessionID, now, nowForwardingID, lease.Version)
	}
	if err != nil {
		return apperrors.Wrap(err, "failed to acquire now forwarding")
	}
	if err := checkAffected(result, "now forwarding", lease.RetryBatchID.String()); err != nil {
		return err
	}

	lease.Version++
	lease.UpdatedAt = now
	return nil
}

// Release clears the lease if it still names batchID.
func (m *MySQLNowForwardingRepository) Release(ctx context.Context, batchID uuid.UUID) error {
	querier := database.GetTx(ctx, m.db)

	id, err := batchID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal retry batch id")
	}

	query := `DELETE FROM retry_batch_now_forwarding WHERE id = ? AND retry_batch_id = ?`
	if _, err := querier.ExecContext(ctx, query, nowForwardingID, id); err != nil {
		return apperrors.Wrap(err, "failed to release now forwarding")
	}
	return nil
}

// NewMySQLNowForwardingRepository creates a new MySQL now-forwarding repository.
func NewMySQLNowForwardingRepository(db *sql.DB) *MySQLNowForwardingRepository {
	return &MySQLNowForwardingRepository{db: db}
}
