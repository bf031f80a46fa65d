// Package domain defines the failed message record, its lifecycle and the
// grouping and retention rules that apply to it.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known headers stamped on retried messages so the audit pipeline can
// correlate a successful redelivery with the failure it resolves.
const (
	HeaderRetryFailedMessageID = "Recoverability.Retry.FailedMessageId"
	HeaderRetryBatchID         = "Recoverability.Retry.BatchId"
	HeaderRetryRequestID       = "Recoverability.Retry.RequestId"
)

// ExceptionDetails describes the exception raised while processing a message.
type ExceptionDetails struct {
	ExceptionType string
	Message       string
	Source        string
	StackTrace    string
}

// FailureDetails describes one processing failure.
type FailureDetails struct {
	Exception                ExceptionDetails
	TimeOfFailure            time.Time
	AddressOfFailingEndpoint string
}

// ProcessingAttempt is one failed attempt to process a message.
type ProcessingAttempt struct {
	AttemptID       uuid.UUID
	MessageID       string
	Headers         map[string]string
	MessageMetadata map[string]string
	BodyKey         string
	BodySize        int
	FailureDetails  FailureDetails
}

// FailureGroup tags a failed message with one classification bucket.
type FailureGroup struct {
	ID    uuid.UUID
	Title string
	Type  string
}

// FailedMessage is the canonical record of one message failure lineage.
type FailedMessage struct {
	ID                 uuid.UUID
	MessageID          string
	MessageType        string
	ReceivingEndpoint  string
	QueueAddress       string
	Status             Status
	ProcessingAttempts []ProcessingAttempt
	FailureGroups      []FailureGroup
	ExpiresAt          *time.Time
	Version            int64
	CreatedAt          time.Time
	LastModified       time.Time
}

// LastAttempt returns the most recent processing attempt.
func (m *FailedMessage) LastAttempt() (ProcessingAttempt, bool) {
	if len(m.ProcessingAttempts) == 0 {
		return ProcessingAttempt{}, false
	}
	return m.ProcessingAttempts[len(m.ProcessingAttempts)-1], true
}

// HasAttempt reports whether an attempt with the given id is already recorded.
func (m *FailedMessage) HasAttempt(attemptID uuid.UUID) bool {
	for _, attempt := range m.ProcessingAttempts {
		if attempt.AttemptID == attemptID {
			return true
		}
	}
	return false
}

// TransitionTo moves the message to next, enforcing the lifecycle rules.
func (m *FailedMessage) TransitionTo(next Status) error {
	if !m.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, m.Status, next)
	}
	m.Status = next
	return nil
}

// RecordAttempt appends a new failure observed by the audit pipeline.
// A failure after an issued retry is a repeated failure; any other existing
// status starts over as unresolved.
func (m *FailedMessage) RecordAttempt(attempt ProcessingAttempt) {
	m.ProcessingAttempts = append(m.ProcessingAttempts, attempt)
	m.QueueAddress = attempt.FailureDetails.AddressOfFailingEndpoint

	switch m.Status {
	case StatusRetryIssued, StatusRepeatedFailure:
		m.Status = StatusRepeatedFailure
	default:
		m.Status = StatusUnresolved
	}
}
