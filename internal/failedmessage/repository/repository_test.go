package repository

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

var failedMessageColumnNames = []string{
	"id", "message_id", "message_type", "receiving_endpoint", "queue_address",
	"status", "schema_version", "document", "expires_at", "version", "created_at", "last_modified",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newTestFailedMessage(status domain.Status) *domain.FailedMessage {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	msg := &domain.FailedMessage{
		ID:                domain.NewFailedMessageID("msg-1", "Billing"),
		MessageID:         "msg-1",
		MessageType:       "Billing.InvoiceCreated",
		ReceivingEndpoint: "Billing",
		Status:            status,
		Version:           3,
		CreatedAt:         now,
		LastModified:      now,
	}
	msg.RecordAttempt(domain.ProcessingAttempt{
		AttemptID: uuid.New(),
		MessageID: "msg-1",
		Headers:   map[string]string{"NServiceBus.MessageId": "msg-1"},
		BodyKey:   "bodies/msg-1",
		FailureDetails: domain.FailureDetails{
			Exception:                domain.ExceptionDetails{ExceptionType: "TimeoutException", Message: "timed out"},
			TimeOfFailure:            now,
			AddressOfFailingEndpoint: "billing@host",
		},
	})
	msg.Status = status
	msg.FailureGroups = domain.Classify(msg, domain.DefaultClassifiers())
	return msg
}

// documentRow renders msg as a result row for the given id value.
func documentRow(t *testing.T, id any, msg *domain.FailedMessage) []driver.Value {
	t.Helper()
	document, err := encodeDocument(msg)
	require.NoError(t, err)
	return []driver.Value{
		id,
		msg.MessageID,
		msg.MessageType,
		msg.ReceivingEndpoint,
		msg.QueueAddress,
		string(msg.Status),
		currentSchemaVersion,
		document,
		nil,
		msg.Version,
		msg.CreatedAt,
		msg.LastModified,
	}
}

func legacyDocument(t *testing.T, groupID uuid.UUID) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"processing_attempts": []map[string]any{
			{
				"attempt_id": uuid.New(),
				"message_id": "msg-legacy",
				"body_size":  12,
				"failure_details": map[string]any{
					"exception":                   map[string]any{"exception_type": "NullReferenceException", "message": "x"},
					"time_of_failure":             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					"address_of_failing_endpoint": "sales@host",
				},
			},
		},
		"failure_groups": []map[string]any{
			{"id": groupID, "title": "Sales.OrderPlaced", "classifier": "MessageType"},
		},
	})
	require.NoError(t, err)
	return data
}
