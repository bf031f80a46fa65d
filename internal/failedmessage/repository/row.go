package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

const failedMessageColumns = `fm.id, fm.message_id, fm.message_type, fm.receiving_endpoint, fm.queue_address,
	fm.status, fm.schema_version, fm.document, fm.expires_at, fm.version, fm.created_at, fm.last_modified`

// defaultPurgeBatchSize bounds the rows touched by one expiry pass.
const defaultPurgeBatchSize = 500

type failedMessageRow struct {
	id                uuid.UUID
	messageID         string
	messageType       string
	receivingEndpoint string
	queueAddress      string
	status            string
	schemaVersion     int
	document          []byte
	expiresAt         sql.NullTime
	version           int64
	createdAt         time.Time
	lastModified      time.Time
}

func (r *failedMessageRow) toDomain() (*domain.FailedMessage, error) {
	msg := &domain.FailedMessage{
		ID:                r.id,
		MessageID:         r.messageID,
		MessageType:       r.messageType,
		ReceivingEndpoint: r.receivingEndpoint,
		QueueAddress:      r.queueAddress,
		Status:            domain.Status(r.status),
		Version:           r.version,
		CreatedAt:         r.createdAt.UTC(),
		LastModified:      r.lastModified.UTC(),
	}
	if r.expiresAt.Valid {
		expiresAt := r.expiresAt.Time.UTC()
		msg.ExpiresAt = &expiresAt
	}
	if err := decodeDocument(r.schemaVersion, r.document, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
