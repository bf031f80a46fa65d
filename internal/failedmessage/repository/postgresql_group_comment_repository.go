package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

// PostgreSQLGroupCommentRepository implements GroupComment persistence for PostgreSQL.
type PostgreSQLGroupCommentRepository struct {
	db *sql.DB
}

// Upsert creates or replaces the comment of a group.
func (p *PostgreSQLGroupCommentRepository) Upsert(ctx context.Context, comment *domain.GroupComment) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO group_comments (group_id, comment, updated_at)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (group_id) DO UPDATE SET comment = EXCLUDED.comment, updated_at = EXCLUDED.updated_at`

	if _, err := querier.ExecContext(ctx, query, comment.GroupID, comment.Comment, comment.UpdatedAt); err != nil {
		return apperrors.Wrap(err, "failed to upsert group comment")
	}
	return nil
}

// Get retrieves the comment of a group.
func (p *PostgreSQLGroupCommentRepository) Get(ctx context.Context, groupID uuid.UUID) (*domain.GroupComment, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT group_id, comment, updated_at FROM group_comments WHERE group_id = $1`

	var comment domain.GroupComment
	err := querier.QueryRowContext(ctx, query, groupID).Scan(&comment.GroupID, &comment.Comment, &comment.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGroupCommentNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get group comment")
	}
	return &comment, nil
}

// Delete removes the comment of a group. Deleting a missing comment is not an error.
func (p *PostgreSQLGroupCommentRepository) Delete(ctx context.Context, groupID uuid.UUID) error {
	querier := database.GetTx(ctx, p.db)

	if _, err := querier.ExecContext(ctx, `DELETE FROM group_comments WHERE group_id = $1`, groupID); err != nil {
		return apperrors.Wrap(err, "failed to delete group comment")
	}
	return nil
}

// NewPostgreSQLGroupCommentRepository creates a new PostgreSQL GroupComment repository.
func NewPostgreSQLGroupCommentRepository(db *sql.DB) *PostgreSQLGroupCommentRepository {
	return &PostgreSQLGroupCommentRepository{db: db}
}
