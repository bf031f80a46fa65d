// Package repository implements failed message persistence for PostgreSQL and MySQL.
//
// Processing attempts and failure groups are stored as a versioned JSON document next to
// the indexed columns. Documents written by older schema versions are upgraded on read.
// PostgreSQL uses native UUID types, MySQL uses BINARY(16) types.
package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

// currentSchemaVersion is the document layout written by this build.
// Version 1 stored the group classifier under "classifier" using compact names.
const currentSchemaVersion = 2

var legacyClassifierNames = map[string]string{
	"ExceptionTypeAndStackTrace": domain.ClassifierExceptionTypeAndStackTrace,
	"MessageType":                domain.ClassifierMessageType,
	"EndpointAddress":            domain.ClassifierEndpointAddress,
}

type exceptionDocument struct {
	ExceptionType string `json:"exception_type"`
	Message       string `json:"message"`
	Source        string `json:"source,omitempty"`
	StackTrace    string `json:"stack_trace,omitempty"`
}

type failureDetailsDocument struct {
	Exception                exceptionDocument `json:"exception"`
	TimeOfFailure            time.Time         `json:"time_of_failure"`
	AddressOfFailingEndpoint string            `json:"address_of_failing_endpoint"`
}

type attemptDocument struct {
	AttemptID       uuid.UUID              `json:"attempt_id"`
	MessageID       string                 `json:"message_id"`
	Headers         map[string]string      `json:"headers,omitempty"`
	MessageMetadata map[string]string      `json:"message_metadata,omitempty"`
	BodyKey         string                 `json:"body_key,omitempty"`
	BodySize        int                    `json:"body_size"`
	FailureDetails  failureDetailsDocument `json:"failure_details"`
}

type groupDocument struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Type             string    `json:"type,omitempty"`
	LegacyClassifier string    `json:"classifier,omitempty"`
}

type failedMessageDocument struct {
	ProcessingAttempts []attemptDocument `json:"processing_attempts"`
	FailureGroups      []groupDocument   `json:"failure_groups"`
}

// encodeDocument serializes the nested parts of msg in the current schema version.
func encodeDocument(msg *domain.FailedMessage) ([]byte, error) {
	doc := failedMessageDocument{
		ProcessingAttempts: make([]attemptDocument, 0, len(msg.ProcessingAttempts)),
		FailureGroups:      make([]groupDocument, 0, len(msg.FailureGroups)),
	}

	for _, attempt := range msg.ProcessingAttempts {
		doc.ProcessingAttempts = append(doc.ProcessingAttempts, attemptDocument{
			AttemptID:       attempt.AttemptID,
			MessageID:       attempt.MessageID,
			Headers:         attempt.Headers,
			MessageMetadata: attempt.MessageMetadata,
			BodyKey:         attempt.BodyKey,
			BodySize:        attempt.BodySize,
			FailureDetails: failureDetailsDocument{
				Exception: exceptionDocument{
					ExceptionType: attempt.FailureDetails.Exception.ExceptionType,
					Message:       attempt.FailureDetails.Exception.Message,
					Source:        attempt.FailureDetails.Exception.Source,
					StackTrace:    attempt.FailureDetails.Exception.StackTrace,
				},
				TimeOfFailure:            attempt.FailureDetails.TimeOfFailure,
				AddressOfFailingEndpoint: attempt.FailureDetails.AddressOfFailingEndpoint,
			},
		})
	}

	for _, group := range msg.FailureGroups {
		doc.FailureGroups = append(doc.FailureGroups, groupDocument{
			ID:    group.ID,
			Title: group.Title,
			Type:  group.Type,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode failed message document")
	}
	return data, nil
}

// decodeDocument fills the nested parts of msg from a stored document of any known version.
func decodeDocument(schemaVersion int, data []byte, msg *domain.FailedMessage) error {
	if schemaVersion < 1 || schemaVersion > currentSchemaVersion {
		return fmt.Errorf("unsupported failed message schema version %d", schemaVersion)
	}

	var doc failedMessageDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return apperrors.Wrap(err, "failed to decode failed message document")
	}

	if schemaVersion == 1 {
		upgradeV1(&doc)
	}

	msg.ProcessingAttempts = make([]domain.ProcessingAttempt, 0, len(doc.ProcessingAttempts))
	for _, attempt := range doc.ProcessingAttempts {
		msg.ProcessingAttempts = append(msg.ProcessingAttempts, domain.ProcessingAttempt{
			AttemptID:       attempt.AttemptID,
			MessageID:       attempt.MessageID,
			Headers:         attempt.Headers,
			MessageMetadata: attempt.MessageMetadata,
			BodyKey:         attempt.BodyKey,
			BodySize:        attempt.BodySize,
			FailureDetails: domain.FailureDetails{
				Exception: domain.ExceptionDetails{
					ExceptionType: attempt.FailureDetails.Exception.ExceptionType,
					Message:       attempt.FailureDetails.Exception.Message,
					Source:        attempt.FailureDetails.Exception.Source,
					StackTrace:    attempt.FailureDetails.Exception.StackTrace,
				},
				TimeOfFailure:            attempt.FailureDetails.TimeOfFailure,
				AddressOfFailingEndpoint: attempt.FailureDetails.AddressOfFailingEndpoint,
			},
		})
	}

	msg.FailureGroups = make([]domain.FailureGroup, 0, len(doc.FailureGroups))
	for _, group := range doc.FailureGroups {
		msg.FailureGroups = append(msg.FailureGroups, domain.FailureGroup{
			ID:    group.ID,
			Title: group.Title,
			Type:  group.Type,
		})
	}

	return nil
}

func upgradeV1(doc *failedMessageDocument) {
	for i := range doc.FailureGroups {
		group := &doc.FailureGroups[i]
		if group.Type != "" {
			continue
		}
		if renamed, ok := legacyClassifierNames[group.LegacyClassifier]; ok {
			group.Type = renamed
		} else {
			group.Type = group.LegacyClassifier
		}
		group.LegacyClassifier = ""
	}
}

// timeOfFailure returns the failure time of the latest attempt, used for group first/last ranges.
func timeOfFailure(msg *domain.FailedMessage) time.Time {
	if attempt, ok := msg.LastAttempt(); ok && !attempt.FailureDetails.TimeOfFailure.IsZero() {
		return attempt.FailureDetails.TimeOfFailure
	}
	return msg.CreatedAt
}
