package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/allisson/recoverability/internal/database"
	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

const pgUniqueViolation = "23505"

// PostgreSQLFailedMessageRepository implements FailedMessage persistence for PostgreSQL.
// Writes are conditioned on the version column and report *apperrors.ConflictError when
// another writer got there first.
type PostgreSQLFailedMessageRepository struct {
	db *sql.DB
}

// Create inserts a new failed message together with its group memberships.
// Callers should run it inside a transaction.
func (p *PostgreSQLFailedMessageRepository) Create(ctx context.Context, msg *domain.FailedMessage) error {
	querier := database.GetTx(ctx, p.db)

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
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)`

	_, err = querier.ExecContext(
		ctx,
		query,
		msg.ID,
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
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return apperrors.NewConflictError("failed message", msg.ID.String())
		}
		return apperrors.Wrap(err, "failed to create failed message")
	}

	msg.Version = 1
	msg.LastModified = now

	return p.replaceGroups(ctx, querier, msg)
}

// Update rewrites the whole record if its version still matches msg.Version.
// Callers should run it inside a transaction.
func (p *PostgreSQLFailedMessageRepository) Update(ctx context.Context, msg *domain.FailedMessage) error {
	querier := database.GetTx(ctx, p.db)

	document, err := encodeDocument(msg)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE failed_messages
			  SET message_type = $1,
				  queue_address = $2,
				  status = $3,
				  schema_version = $4,
				  document = $5,
				  time_of_failure = $6,
				  expires_at = $7,
				  version = version + 1,
				  last_modified = $8
			  WHERE id = $9 AND version = $10`

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
		msg.ID,
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

	return p.replaceGroups(ctx, querier, msg)
}

// UpdateStatus writes the status and expiry of msg if its version still matches.
func (p *PostgreSQLFailedMessageRepository) UpdateStatus(ctx context.Context, msg *domain.FailedMessage) error {
	querier := database.GetTx(ctx, p.db)

	now := time.Now().UTC()
	query := `UPDATE failed_messages
			  SET status = $1, expires_at = $2, version = version + 1, last_modified = $3
			  WHERE id = $4 AND version = $5`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(msg.Status),
		nullTime(msg.ExpiresAt),
		now,
		msg.ID,
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

func (p *PostgreSQLFailedMessageRepository) replaceGroups(
	ctx context.Context,
	querier database.Querier,
	msg *domain.FailedMessage,
) error {
	if _, err := querier.ExecContext(ctx, `DELETE FROM failed_message_groups WHERE failed_message_id = $1`, msg.ID); err != nil {
		return apperrors.Wrap(err, "failed to delete failure groups")
	}

	query := `INSERT INTO failed_message_groups (failed_message_id, group_id, title, type)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (failed_message_id, group_id) DO NOTHING`

	for _, group := range msg.FailureGroups {
		if _, err := querier.ExecContext(ctx, query, msg.ID, group.ID, group.Title, group.Type); err != nil {
			return apperrors.Wrap(err, "failed to insert failure group")
		}
	}
	return nil
}

// Get retrieves a failed message by id.
func (p *PostgreSQLFailedMessageRepository) Get(ctx context.Context, id uuid.UUID) (*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm WHERE fm.id = $1`

	msg, err := scanPostgreSQLFailedMessage(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFailedMessageNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get failed message")
	}
	return msg, nil
}

// GetMany retrieves the failed messages that exist among ids. Missing ids are omitted.
func (p *PostgreSQLFailedMessageRepository) GetMany(
	ctx context.Context,
	ids []uuid.UUID,
) ([]*domain.FailedMessage, error) {
	if len(ids) == 0 {
		return []*domain.FailedMessage{}, nil
	}

	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm WHERE fm.id = ANY($1::uuid[])`

	rows, err := querier.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get failed messages")
	}
	return collectPostgreSQLFailedMessages(rows)
}

// List returns one page of failed messages matching filter, most recently modified first.
func (p *PostgreSQLFailedMessageRepository) List(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, p.db)

	builder := newQueryBuilder(postgresDialect)
	if err := builder.applyFilter(filter); err != nil {
		return nil, apperrors.Wrap(err, "failed to build filter")
	}

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm` + builder.whereSQL() +
		fmt.Sprintf(` ORDER BY fm.last_modified DESC, fm.id DESC LIMIT %s OFFSET %s`, builder.arg(limit), builder.arg(offset))

	rows, err := querier.QueryContext(ctx, query, builder.args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list failed messages")
	}
	return collectPostgreSQLFailedMessages(rows)
}

// ListAfter returns up to limit failed messages matching filter that sort after cursor.
// Pages are ordered by (last_modified, id) ascending so a cursor never revisits a row.
func (p *PostgreSQLFailedMessageRepository) ListAfter(
	ctx context.Context,
	filter domain.Filter,
	cursor domain.Cursor,
	limit int,
) ([]*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, p.db)

	builder := newQueryBuilder(postgresDialect)
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
	return collectPostgreSQLFailedMessages(rows)
}

// BulkUpdateStatus moves every record matching filter to status in one statement and
// returns the ids that changed.
func (p *PostgreSQLFailedMessageRepository) BulkUpdateStatus(
	ctx context.Context,
	filter domain.Filter,
	status domain.Status,
	expiresAt *time.Time,
) ([]uuid.UUID, error) {
	querier := database.GetTx(ctx, p.db)

	builder := newQueryBuilder(postgresDialect)
	set := fmt.Sprintf(
		"status = %s, expires_at = %s, version = fm.version + 1, last_modified = %s",
		builder.arg(string(status)),
		builder.arg(nullTime(expiresAt)),
		builder.arg(time.Now().UTC()),
	)
	if err := builder.applyFilter(filter); err != nil {
		return nil, apperrors.Wrap(err, "failed to build filter")
	}

	query := `UPDATE failed_messages fm SET ` + set + builder.whereSQL() + ` RETURNING fm.id`

	rows, err := querier.QueryContext(ctx, query, builder.args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to bulk update failed message status")
	}
	defer func() {
		_ = rows.Close()
	}()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan failed message id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate updated failed messages")
	}
	return ids, nil
}

// CountByStatus returns the open and archived totals.
func (p *PostgreSQLFailedMessageRepository) CountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT status, COUNT(*) FROM failed_messages WHERE status IN ($1, $2, $3) GROUP BY status`

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
func (p *PostgreSQLFailedMessageRepository) ListGroups(
	ctx context.Context,
	classifier string,
	limit int,
) ([]*domain.FailureGroupView, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT g.group_id, g.title, g.type, COUNT(*), MIN(fm.time_of_failure), MAX(fm.time_of_failure),
				MAX(fm.last_modified), c.comment
			  FROM failed_message_groups g
			  JOIN failed_messages fm ON fm.id = g.failed_message_id
			  LEFT JOIN group_comments c ON c.group_id = g.group_id
			  WHERE g.type = $1 AND fm.status IN ($2, $3)
			  GROUP BY g.group_id, g.title, g.type, c.comment
			  ORDER BY MAX(fm.last_modified) DESC
			  LIMIT $4`

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
		var comment sql.NullString
		if err := rows.Scan(
			&group.ID,
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
func (p *PostgreSQLFailedMessageRepository) ListQueueAddresses(
	ctx context.Context,
	search string,
	offset, limit int,
) ([]*domain.QueueAddressView, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT queue_address, COUNT(*) FROM failed_messages
			  WHERE status IN ($1, $2) AND queue_address LIKE $3
			  GROUP BY queue_address
			  ORDER BY queue_address
			  LIMIT $4 OFFSET $5`

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
func (p *PostgreSQLFailedMessageRepository) ListEndpoints(ctx context.Context) ([]*domain.EndpointView, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT receiving_endpoint, COUNT(*) FROM failed_messages
			  WHERE status IN ($1, $2)
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
func (p *PostgreSQLFailedMessageRepository) ListExpired(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.FailedMessage, error) {
	querier := database.GetTx(ctx, p.db)

	if limit <= 0 {
		limit = defaultPurgeBatchSize
	}

	query := `SELECT ` + failedMessageColumns + ` FROM failed_messages fm
			  WHERE fm.expires_at IS NOT NULL AND fm.expires_at <= $1
			  ORDER BY fm.expires_at, fm.id
			  LIMIT $2`

	rows, err := querier.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list expired failed messages")
	}
	return collectPostgreSQLFailedMessages(rows)
}

// CountExpired counts the records whose retention has passed.
func (p *PostgreSQLFailedMessageRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	var count int64
	query := `SELECT COUNT(*) FROM failed_messages WHERE expires_at IS NOT NULL AND expires_at <= $1`
	if err := querier.QueryRowContext(ctx, query, now.UTC()).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, "failed to count expired failed messages")
	}
	return count, nil
}

// Delete removes the given records. Group memberships cascade.
func (p *PostgreSQLFailedMessageRepository) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	querier := database.GetTx(ctx, p.db)

	result, err := querier.ExecContext(
		ctx,
		`DELETE FROM failed_messages WHERE id = ANY($1::uuid[])`,
		pq.Array(uuidStrings(ids)),
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete failed messages")
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}
	return count, nil
}

func scanPostgreSQLFailedMessage(scanner interface{ Scan(dest ...any) error }) (*domain.FailedMessage, error) {
	var row failedMessageRow
	if err := scanner.Scan(
		&row.id,
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
	return row.toDomain()
}

func collectPostgreSQLFailedMessages(rows *sql.Rows) ([]*domain.FailedMessage, error) {
	defer func() {
		_ = rows.Close()
	}()

	messages := make([]*domain.FailedMessage, 0)
	for rows.Next() {
		msg, err := scanPostgreSQLFailedMessage(rows)
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

// NewPostgreSQLFailedMessageRepository creates a new PostgreSQL FailedMessage repository.
func NewPostgreSQLFailedMessageRepository(db *sql.DB) *PostgreSQLFailedMessageRepository {
	return &PostgreSQLFailedMessageRepository{db: db}
}
