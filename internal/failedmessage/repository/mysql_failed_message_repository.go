package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

const (
	mysqlDuplicateEntry = 1062

	// mysqlBulkChunkSize bounds the IN list of one bulk UPDATE.
	mysqlBulkChunkSize = 1000
)

// MySQLFailedMessageRepository implements FailedMessage persistence for MySQL.
type MySQLFailedMessageRepository struct {
	db        *sql.DB
	txManager database.TxManager
}

// Create inserts a new failed message together with its group memberships.
func (m *MySQLFailedMessageRepository) Create(ctx context.Context, msg *domain.FailedMessage) error {
	querier := database.GetTx(ctx, m.db)

	id, err := msg.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal failed message id")
	}

	document, err := encodeDocument(msg)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	query := `INSERT INTO failed_messages (id, message_id, message_type, receiving_endpoint, queue_address,
				status, schema_version, document, time_of_failure, expires_at, version, created_at, last_modified)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
		msg.MessageID,
		msg.MessageType,
		msg.ReceivingEndpoint,
		msg.QueueAddress,
		string(msg.Status),
		currentSchemaVersion,
		document,
		timeOfFailure(msg).UTC(),
		nullTime(msg.ExpiresAt),
		msg.CreatedAt,
		now,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return apperrors.NewConflictError("failed message", msg.ID.String())
		}
		return apperrors.Wrap(err, "failed to create failed message")
	}

	msg.Version = 1
	msg.LastModified = now

	return m.replaceGroups(ctx, querier, id, msg.FailureGroups)
}

// Update rewrites the whole record if its version still matches msg.Version.
func (m *MySQLFailedMessageRepository) Update(ctx context.Context, msg *domain.FailedMessage) error {
	querier := database.GetTx(ctx, m.db)

	id, err := msg.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal failed message id")
	}

	document, err := encodeDocument(msg)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE failed_messages
			  SET message_type = ?,
				  queue_address = ?,
				  status = ?,
				  schema_version = ?,
				  document = ?,
				  time_of_failure = ?,
				  expires_at = ?,
				  version = version + 1,
				  last_modified = ?
			  WHERE id = ? AND version = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		msg.MessageType,
		msg.QueueAddress,
		string(msg.Status),
		currentSchemaVersion,
		document,
		timeOfFailure(msg).UTC(),
		nullTime(msg.ExpiresAt),
		now,
		id,
		msg.Version,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update failed message")
	}
	if err := checkVersionedWrite(result, msg.ID); err != nil {
		return err
	}

	msg.Version++
	msg.LastModified = now

	return m.replaceGroups(ctx, querier, id, msg.FailureGroups)
}

// UpdateStatus writes the status and expiry of msg if its version still matches.
func (m *MySQLFailedMessageRepository) UpdateStatus(ctx context.Context, msg *domain.FailedMessage) error {
	querier := database.GetTx(ctx, m.db)

	id, err := msg.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal failed message id")
	}

	now := time.Now().UTC()
	query := `UPDATE failed_messages
			  SET status = ?, expires_at = ?, version = version + 1, last_modified = ?
			  WHERE id = ? AND version = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(msg.Status),
		nullTime(msg.ExpiresAt),
		now,
		id,
		msg.Version,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update failed message status")
	}
	if err := checkVersionedWrite(result, msg.ID); err != nil {
		return err
	}

	msg.Version++
	msg.LastModified = now
	return nil
}

func (m *MySQLFailedMessageRepository) replaceGroups(
	ctx context.Context,
	querier database.Querier,
	id []byte,
	groups []domain.FailureGroup,
) error {
	if _, err := querier.ExecContext(ctx, `DELETE FROM failed_message_groups WHERE failed_message_id = ?`, id); err != nil {
		return apperrors.Wrap(err, "failed to delete failure groups")
	}

	query := `INSERT IGNORE INTO failed_message_groups (failed_message_id, group_id, title, type) VALUES (?, ?, ?, ?)`

	for _, group := range groups {
		groupID, err := group.ID.MarshalBinary()
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal group id")
		}
		if _, err := querier.ExecContext(ctx, query, id, groupID, group.Title, group.Type); err != nil {
			return apperrors.Wrap(err, "failed to insert failure group")
		}
	}
	return nil
}

// Get retrieves a failed message by id.
func (m *MySQLFailedMessageRepository) Get(ctx context.Context, id uuid.UUID) (*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal failed message id")
	}

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm WHERE fm.id = ?`

	msg, err := scanMySQLFailedMessage(querier.QueryRowContext(ctx, query, idBytes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFailedMessageNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get failed message")
	}
	return msg, nil
}

// GetMany retrieves the failed messages that exist among ids. Missing ids are omitted.
func (m *MySQLFailedMessageRepository) GetMany(
	ctx context.Context,
	ids []uuid.UUID,
) ([]*domain.FailedMessage, error) {
	if len(ids) == 0 {
		return []*domain.FailedMessage{}, nil
	}

	querier := database.GetTx(ctx, m.db)

	builder := newQueryBuilder(mysqlDialect)
	if err := builder.applyFilter(domain.Filter{IDs: ids}); err != nil {
		return nil, apperrors.Wrap(err, "failed to build filter")
	}

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm` + builder.whereSQL()

	rows, err := querier.QueryContext(ctx, query, builder.args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get failed messages")
	}
	return collectMySQLFailedMessages(rows)
}

// List returns one page of failed messages matching filter, most recently modified first.
func (m *MySQLFailedMessageRepository) List(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, m.db)

	builder := newQueryBuilder(mysqlDialect)
	if err := builder.applyFilter(filter); err != nil {
		return nil, apperrors.Wrap(err, "failed to build filter")
	}

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm` + builder.whereSQL() +
		fmt.Sprintf(` ORDER BY fm.last_modified DESC, fm.id DESC LIMIT %s OFFSET %s`, builder.arg(limit), builder.arg(offset))

	rows, err := querier.QueryContext(ctx, query, builder.args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list failed messages")
	}
	return collectMySQLFailedMessages(rows)
}

// ListAfter returns up to limit failed messages matching filter that sort after cursor.
func (m *MySQLFailedMessageRepository) ListAfter(
	ctx context.Context,
	filter domain.Filter,
	cursor domain.Cursor,
	limit int,
) ([]*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, m.db)

	builder := newQueryBuilder(mysqlDialect)
	if err := builder.applyFilter(filter); err != nil {
		return nil, apperrors.Wrap(err, "failed to build filter")
	}
	if err := builder.applyCursor(cursor); err != nil {
		return nil, apperrors.Wrap(err, "failed to build cursor")
	}

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm` + builder.whereSQL() +
		` ORDER BY fm.last_modified ASC, fm.id ASC LIMIT ` + builder.arg(limit)

	rows, err := querier.QueryContext(ctx, query, builder.args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to stream failed messages")
	}
	return collectMySQLFailedMessages(rows)
}

// BulkUpdateStatus moves every record matching filter to status and returns the ids that changed.
// MySQL has no UPDATE ... RETURNING, so the matching rows are locked first and updated in
// chunks inside one transaction.
func (m *MySQLFailedMessageRepository) BulkUpdateStatus(
	ctx context.Context,
	filter domain.Filter,
	status domain.Status,
	expiresAt *time.Time,
) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	err := m.txManager.WithTx(ctx, func(txCtx context.Context) error {
		querier := database.GetTx(txCtx, m.db)

		builder := newQueryBuilder(mysqlDialect)
		if err := builder.applyFilter(filter); err != nil {
			return apperrors.Wrap(err, "failed to build filter")
		}

		query := `SELECT fm.id FROM failed_messages fm` + builder.whereSQL() + ` FOR UPDATE`

		rows, err := querier.QueryContext(txCtx, query, builder.args...)
		if err != nil {
			return apperrors.Wrap(err, "failed to select failed messages for update")
		}

		var matched [][]byte
		for rows.Next() {
			var id []byte
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return apperrors.Wrap(err, "failed to scan failed message id")
			}
			matched = append(matched, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return apperrors.Wrap(err, "failed to iterate failed message ids")
		}
		_ = rows.Close()

		now := time.Now().UTC()
		for start := 0; start < len(matched); start += mysqlBulkChunkSize {
			end := min(start+mysqlBulkChunkSize, len(matched))
			chunk := matched[start:end]

			args := []any{string(status), nullTime(expiresAt), now}
			for _, id := range chunk {
				args = append(args, id)
			}

			update := `UPDATE failed_messages
					   SET status = ?, expires_at = ?, version = version + 1, last_modified = ?
					   WHERE id IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + `)`

			if _, err := querier.ExecContext(txCtx, update, args...); err != nil {
				return apperrors.Wrap(err, "failed to bulk update failed message status")
			}
		}

		ids = make([]uuid.UUID, 0, len(matched))
		for _, raw := range matched {
			var id uuid.UUID
			if err := id.UnmarshalBinary(raw); err != nil {
				return apperrors.Wrap(err, "failed to unmarshal failed message id")
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountByStatus returns the open and archived totals.
func (m *MySQLFailedMessageRepository) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT status, COUNT(*) FROM failed_messages WHERE status IN (?, ?, ?) GROUP BY status`

	rows, err := querier.QueryContext(
		ctx,
		query,
		string(domain.StatusUnresolved),
		string(domain.StatusRepeatedFailure),
		string(domain.StatusArchived),
	)
	if err != nil {
		return domain.StatusCounts{}, apperrors.Wrap(err, "failed to count failed messages")
	}
	return collectStatusCounts(rows)
}

// ListGroups returns the most recently modified open groups produced by classifier.
func (m *MySQLFailedMessageRepository) ListGroups(
	ctx context.Context,
	classifier string,
	limit int,
) ([]*domain.FailureGroupView, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT g.group_id, g.title, g.type, COUNT(*), MIN(fm.time_of_failure), MAX(fm.time_of_failure),
				MAX(fm.last_modified), c.comment
			  FROM failed_message_groups g
			  JOIN failed_messages fm ON fm.id = g.failed_message_id
			  LEFT JOIN group_comments c ON c.group_id = g.group_id
			  WHERE g.type = ? AND fm.status IN (?, ?)
			  GROUP BY g.group_id, g.title, g.type, c.comment
			  ORDER BY MAX(fm.last_modified) DESC
			  LIMIT ?`

	rows, err := querier.QueryContext(
		ctx,
		query,
		classifier,
		string(domain.StatusUnresolved),
		string(domain.StatusRepeatedFailure),
		limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list failure groups")
	}
	defer func() {
		_ = rows.Close()
	}()

	groups := make([]*domain.FailureGroupView, 0)
	for rows.Next() {
		var group domain.FailureGroupView
		var groupID []byte
		var comment sql.NullString
		if err := rows.Scan(
			&groupID,
			&group.Title,
			&group.Type,
			&group.Count,
			&group.First,
			&group.Last,
			&group.LastModified,
			&comment,
		); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan failure group")
		}
		if err := group.ID.UnmarshalBinary(groupID); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal group id")
		}
		if comment.Valid {
			group.Comment = &comment.String
		}
		groups = append(groups, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate failure groups")
	}
	return groups, nil
}

// ListQueueAddresses returns failing queue addresses with open counts, optionally by prefix.
func (m *MySQLFailedMessageRepository) ListQueueAddresses(
	ctx context.Context,
	search string,
	offset, limit int,
) ([]*domain.QueueAddressView, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT queue_address, COUNT(*) FROM failed_messages
			  WHERE status IN (?, ?) AND queue_address LIKE ?
			  GROUP BY queue_address
			  ORDER BY queue_address
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(
		ctx,
		query,
		string(domain.StatusUnresolved),
		string(domain.StatusRepeatedFailure),
		likePrefix(search),
		limit,
		offset,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list queue addresses")
	}
	return collectQueueAddresses(rows)
}

// ListEndpoints returns receiving endpoints with open failure counts.
func (m *MySQLFailedMessageRepository) ListEndpoints(ctx context.Context) ([]*domain.EndpointView, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT receiving_endpoint, COUNT(*) FROM failed_messages
			  WHERE status IN (?, ?)
			  GROUP BY receiving_endpoint
			  ORDER BY receiving_endpoint`

	rows, err := querier.QueryContext(
		ctx,
		query,
		string(domain.StatusUnresolved),
		string(domain.StatusRepeatedFailure),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list endpoints")
	}
	return collectEndpoints(rows)
}

// ListExpired returns up to limit records whose retention has passed.
func (m *MySQLFailedMessageRepository) ListExpired(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, m.db)

	if limit <= 0 {
		limit = defaultPurgeBatchSize
	}

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm
			  WHERE fm.expires_at IS NOT NULL AND fm.expires_at <= ?
			  ORDER BY fm.expires_at, fm.id
			  LIMIT ?`

	rows, err := querier.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list expired failed messages")
	}
	return collectMySQLFailedMessages(rows)
}

// CountExpired counts the records whose retention has passed.
func (m *MySQLFailedMessageRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	var count int64
	query := `SELECT COUNT(*) FROM failed_messages WHERE expires_at IS NOT NULL AND expires_at <= ?`
	if err := querier.QueryRowContext(ctx, query, now.UTC()).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, "failed to count expired failed messages")
	}
	return count, nil
}

// Delete removes the given records. Group memberships cascade.
func (m *MySQLFailedMessageRepository) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	querier := database.GetTx(ctx, m.db)

	builder := newQueryBuilder(mysqlDialect)
	list, err := builder.uuidList(ids)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to marshal failed message ids")
	}

	result, err := querier.ExecContext(ctx, `DELETE FROM failed_messages WHERE id IN (`+list+`)`, builder.args...)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete failed messages")
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}
	return count, nil
}

func scanMySQLFailedMessage(scanner interface{ Scan(dest ...any) error }) (*domain.FailedMessage, error) {
	var row failedMessageRow
	var id []byte
	if err := scanner.Scan(
		&id,
		&row.messageID,
		&row.messageType,
		&row.receivingEndpoint,
		&row.queueAddress,
		&row.status,
		&row.schemaVersion,
		&row.document,
		&row.expiresAt,
		&row.version,
		&row.createdAt,
		&row.lastModified,
	); err != nil {
		return nil, err
	}
	if err := row.id.UnmarshalBinary(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal failed message id")
	}
	return row.toDomain()
}

func collectMySQLFailedMessages(rows *sql.Rows) ([]*domain.FailedMessage, error) {
	defer func() {
		_ = rows.Close()
	}()

	messages := make([]*domain.FailedMessage, 0)
	for rows.Next() {
		msg, err := scanMySQLFailedMessage(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan failed message")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate failed messages")
	}
	return messages, nil
}

// NewMySQLFailedMessageRepository creates a new MySQL FailedMessage repository.
func NewMySQLFailedMessageRepository(db *sql.DB) *MySQLFailedMessageRepository {
	return &MySQLFailedMessageRepository{db: db, txManager: database.NewTxManager(db)}
}
