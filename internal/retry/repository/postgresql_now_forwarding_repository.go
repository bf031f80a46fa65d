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

// PostgreSQLNowForwardingRepository implements the now-forwarding lease for PostgreSQL.
type PostgreSQLNowForwardingRepository struct {
	db *sql.DB
}

// Get returns the current lease.
func (p *PostgreSQLNowForwardingRepository) Get(ctx context.Context) (*domain.NowForwarding, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT retry_batch_id, retry_session_id, version, updated_at
			  FROM retry_batch_now_forwarding WHERE id = $1`

	var lease domain.NowForwarding
	err := querier.QueryRowContext(ctx, query, nowForwardingID).Scan(
		&lease.RetryBatchID,
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
	lease.UpdatedAt = lease.UpdatedAt.UTC()
	return &lease, nil
}

// Acquire creates the lease when lease.Version is zero, otherwise it takes over or refreshes
// the lease at that version. Losing the race returns a ConflictError.
func (p *PostgreSQLNowForwardingRepository) Acquire(ctx context.Context, lease *domain.NowForwarding) error {
	querier := database.GetTx(ctx, p.db)
	now := time.Now().UTC()

	var result sql.Result
	var err error
	if lease.Version == 0 {
		query := `INSERT INTO retry_batch_now_forwarding (id, retry_batch_id, retry_session_id, version, updated_at)
				  VALUES ($1, $2, $3, 1, $4)
				  ON CONFLICT (id) DO NOTHING`
		result, err = querier.ExecContext(ctx, query, nowForwardingID, lease.RetryBatchID, lease.RetrySessionID, now)
	} else {
		query := `UPDATE retry_batch_now_forwarding
				  SET retry_batch_id = $1, retry_session_id = $2, version = version + 1, updated_at = $3
				  WHERE id = $4 AND version = $5`
		result, err = querier.ExecContext(
			ctx,
			query,
			lease.RetryBatchID,
			lease.RetrySessionID,
			now,
			nowForwardingID,
			lease.Version,
		)
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
func (p *PostgreSQLNowForwardingRepository) Release(ctx context.Context, batchID uuid.UUID) error {
	querier := database.GetTx(ctx, p.db)

	query := `DELETE FROM retry_batch_now_forwarding WHERE id = $1 AND retry_batch_id = $2`
	if _, err := querier.ExecContext(ctx, query, nowForwardingID, batchID); err != nil {
		return apperrors.Wrap(err, "failed to release now forwarding")
	}
	return nil
}

// NewPostgreSQLNowForwardingRepository creates a new PostgreSQL now-forwarding repository.
func NewPostgreSQLNowForwardingRepository(db *sql.DB) *PostgreSQLNowForwardingRepository {
	return &PostgreSQLNowForwardingRepository{db: db}
}
