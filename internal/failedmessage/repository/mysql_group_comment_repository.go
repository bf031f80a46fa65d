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

// MySQLGroupCommentRepository implements GroupComment persistence for MySQL.
type MySQLGroupCommentRepository struct {
	db *sql.DB
}

// Upsert creates or replaces the comment of a group.
func (m *MySQLGroupCommentRepository) Upsert(ctx context.Context, comment *domain.GroupComment) error {
	querier := database.GetTx(ctx, m.db)

	groupID, err := comment.GroupID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal group id")
	}

	query := `INSERT INTO group_comments (group_id, comment, updated_at)
			  VALUES (?, ?, ?)
			  ON DUPLICATE KEY UPDATE comment = VALUES(comment), updated_at = VALUES(updated_at)`

	if _, err := querier.ExecContext(ctx, query, groupID, comment.Comment, comment.UpdatedAt); err != nil {
		return apperrors.Wrap(err, "failed to upsert group comment")
	}
	return nil
}

// Get retrieves the comment of a group.
func (m *MySQLGroupCommentRepository) Get(ctx context.Context, groupID uuid.UUID) (*domain.GroupComment, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := groupID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal group id")
	}

	query := `SELECT group_id, comment, updated_at FROM group_comments WHERE group_id = ?`

	var comment domain.GroupComment
	var rawID []byte
	err = querier.QueryRowContext(ctx, query, id).Scan(&rawID, &comment.Comment, &comment.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGroupCommentNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get group comment")
	}

	if err := comment.GroupID.UnmarshalBinary(rawID); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal group id")
	}
	return &comment, nil
}

// Delete removes the comment of a group. Deleting a missing comment is not an error.
func (m *MySQLGroupCommentRepository) Delete(ctx context.Context, groupID uuid.UUID) error {
	querier := database.GetTx(ctx, m.db)

	id, err := groupID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal group id")
	}

	if _, err := querier.ExecContext(ctx, `DELETE FROM group_comments WHERE group_id = ?`, id); err != nil {
		return apperrors.Wrap(err, "failed to delete group comment")
	}
	return nil
}

// NewMySQLGroupCommentRepository creates a new MySQL GroupComment repository.
func NewMySQLGroupCommentRepository(db *sql.DB) *MySQLGroupCommentRepository {
	return &MySQLGroupCommentRepository{db: db}
}
