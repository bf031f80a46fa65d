// Package domain defines the retry batch entities used to stage and forward failed messages
// back to their original queues.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle state of a RetryBatch.
type BatchStatus string

const (
	BatchStatusMarkingDocuments BatchStatus = "marking_documents"
	BatchStatusStaging          BatchStatus = "staging"
	BatchStatusForwarding       BatchStatus = "forwarding"
	BatchStatusCompleted        BatchStatus = "completed"
)

var batchStatusOrder = map[BatchStatus]int{
	BatchStatusMarkingDocuments: 0,
	BatchStatusStaging:          1,
	BatchStatusForwarding:       2,
	BatchStatusCompleted:        3,
}

// IsValid reports whether s is a known batch status.
func (s BatchStatus) IsValid() bool {
	_, ok := batchStatusOrder[s]
	return ok
}

// Next returns the status that follows s and false when s is terminal or unknown.
func (s BatchStatus) Next() (BatchStatus, bool) {
	switch s {
	case BatchStatusMarkingDocuments:
		return BatchStatusStaging, true
	case BatchStatusStaging:
		return BatchStatusForwarding, true
	case BatchStatusForwarding:
		return BatchStatusCompleted, true
	default:
		return "", false
	}
}

// CanAdvanceTo reports whether next is the single forward step after s.
func (s BatchStatus) CanAdvanceTo(next BatchStatus) bool {
	expected, ok := s.Next()
	return ok && expected == next
}

// RetryType describes what a retry request selected.
type RetryType string

const (
	RetryTypeSingleMessage    RetryType = "single_message"
	RetryTypeMultipleMessages RetryType = "multiple_messages"
	RetryTypeEndpoint         RetryType = "endpoint"
	RetryTypeQueueAddress     RetryType = "queue_address"
	RetryTypeFailureGroup     RetryType = "failure_group"
	RetryTypeAll              RetryType = "all"
)

// RetryBatch groups the failed messages retried by one chunk of a retry request.
type RetryBatch struct {
	ID               uuid.UUID
	RequestID        string
	RetryType        RetryType
	Status           BatchStatus
	RetrySessionID   string
	Originator       string
	Classifier       string
	Context          string
	FailureRetries   []uuid.UUID
	InitialBatchSize int
	StartTime        time.Time
	Last             *time.Time
	LastFailure      *time.Time
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsOrphanedFor reports whether the batch was left in its first state by another session.
func (b *RetryBatch) IsOrphanedFor(sessionID string) bool {
	return b.Status == BatchStatusMarkingDocuments && b.RetrySessionID != sessionID
}

// FailedMessageRetry is the marker that reserves one failed message for one retry batch.
// It is keyed by the failed message id, so at most one exists per message.
type FailedMessageRetry struct {
	FailedMessageID uuid.UUID
	RetryBatchID    uuid.UUID
	StageAttempts   int
	CreatedAt       time.Time
}

// NowForwarding names the batch currently being forwarded.
type NowForwarding struct {
	RetryBatchID   uuid.UUID
	RetrySessionID string
	Version        int64
	UpdatedAt      time.Time
}

// IsStale reports whether the lease was last refreshed before now minus ttl.
func (n *NowForwarding) IsStale(now time.Time, ttl time.Duration) bool {
	return n.UpdatedAt.Add(ttl).Before(now)
}
