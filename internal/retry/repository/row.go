// Package repository provides PostgreSQL and MySQL persistence for retry batches, their
// per-message retry markers and the now-forwarding lease.
package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/retry/domain"
)

const retryBatchColumns = `id, request_id, retry_type, status, retry_session_id, originator, classifier, context,
	failure_retries, initial_batch_size, start_time, last, last_failure, version, created_at, updated_at`

const failedMessageRetryColumns = `failed_message_id, retry_batch_id, stage_attempts, created_at`

// nowForwardingID is the primary key of the singleton now-forwarding row.
const nowForwardingID = 1

type retryBatchRow struct {
	requestID        string
	retryType        string
	status           string
	retrySessionID   string
	originator       string
	classifier       string
	context          string
	failureRetries   []byte
	initialBatchSize int
	startTime        time.Time
	last             sql.NullTime
	lastFailure      sql.NullTime
	version          int64
	createdAt        time.Time
	updatedAt        time.Time
}

func (r *retryBatchRow) toDomain(id uuid.UUID) (*domain.RetryBatch, error) {
	failureRetries, err := decodeFailureRetries(r.failureRetries)
	if err != nil {
		return nil, err
	}
	return &domain.RetryBatch{
		ID:               id,
		RequestID:        r.requestID,
		RetryType:        domain.RetryType(r.retryType),
		Status:           domain.BatchStatus(r.status),
		RetrySessionID:   r.retrySessionID,
		Originator:       r.originator,
		Classifier:       r.classifier,
		Context:          r.context,
		FailureRetries:   failureRetries,
		InitialBatchSize: r.initialBatchSize,
		StartTime:        r.startTime.UTC(),
		Last:             timePtr(r.last),
		LastFailure:      timePtr(r.lastFailure),
		Version:          r.version,
		CreatedAt:        r.createdAt.UTC(),
		UpdatedAt:        r.updatedAt.UTC(),
	}, nil
}

func encodeFailureRetries(ids []uuid.UUID) ([]byte, error) {
	values := make([]string, 0, len(ids))
	for _, id := range ids {
		values = append(values, id.String())
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode failure retries")
	}
	return data, nil
}

func decodeFailureRetries(data []byte) ([]uuid.UUID, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode failure retries")
	}
	ids := make([]uuid.UUID, 0, len(values))
	for _, value := range values {
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to parse failure retry id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time.UTC()
	return &value
}

// checkAffected turns a conditional write that matched no row into a ConflictError.
func checkAffected(result sql.Result, entity, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return apperrors.NewConflictError(entity, id)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	values := make([]string, 0, len(ids))
	for _, id := range ids {
		values = append(values, id.String())
	}
	return values
}
