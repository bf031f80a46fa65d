// Package ingestion consumes the audit pipeline topics: failed messages from the error topic and
// successfully processed retries from the audit topic.
package ingestion

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	fmusecase "github.com/allisson/recoverability/internal/failedmessage/usecase"
)

// Headers stamped by endpoints when they move a message to the error topic.
const (
	HeaderMessageID           = "MessageId"
	HeaderMessageType         = "EnclosedMessageTypes"
	HeaderContentType         = "ContentType"
	HeaderProcessingEndpoint  = "ProcessingEndpoint"
	HeaderFailedQueue         = "FailedQ"
	HeaderTimeOfFailure       = "TimeOfFailure"
	HeaderExceptionType       = "ExceptionInfo.ExceptionType"
	HeaderExceptionMessage    = "ExceptionInfo.Message"
	HeaderExceptionSource     = "ExceptionInfo.Source"
	HeaderExceptionStackTrace = "ExceptionInfo.StackTrace"
)

// metadataKeyTransportMessageID keeps the bus level id of the consumed message.
const metadataKeyTransportMessageID = "TransportMessageId"

// FailureRecorder stores one observed failure.
type FailureRecorder interface {
	Record(ctx context.Context, input fmusecase.RecordInput) (*fmdomain.FailedMessage, error)
}

// RetryResolver resolves a record whose retry was processed successfully.
type RetryResolver interface {
	MarkAsResolved(ctx context.Context, id uuid.UUID) (bool, error)
}

// ErrorQueueHandler turns messages from the error topic into failed message records.
type ErrorQueueHandler struct {
	recorder FailureRecorder
	logger   *slog.Logger
}

// NewErrorQueueHandler creates a new ErrorQueueHandler.
func NewErrorQueueHandler(recorder FailureRecorder, logger *slog.Logger) *ErrorQueueHandler {
	return &ErrorQueueHandler{recorder: recorder, logger: logger}
}

// Handle records msg. Malformed messages are logged and acknowledged since redelivery cannot fix
// them; store errors are returned so the router retries.
func (h *ErrorQueueHandler) Handle(msg *message.Message) error {
	input, err := parseFailure(msg)
	if err != nil {
		h.logger.Error("dropping malformed failed message",
			slog.String("transport_message_id", msg.UUID),
			slog.Any("error", err),
		)
		return nil
	}

	recorded, err := h.recorder.Record(msg.Context(), input)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidInput) {
			h.logger.Error("dropping invalid failed message",
				slog.String("transport_message_id", msg.UUID),
				slog.Any("error", err),
			)
			return nil
		}
		return err
	}

	h.logger.Debug("recorded failed message",
		slog.String("failed_message_id", recorded.ID.String()),
		slog.String("message_id", input.MessageID),
		slog.String("status", string(recorded.Status)),
	)
	return nil
}

func parseFailure(msg *message.Message) (fmusecase.RecordInput, error) {
	md := msg.Metadata

	messageID := md.Get(HeaderMessageID)
	if messageID == "" {
		return fmusecase.RecordInput{}, apperrors.Wrapf(apperrors.ErrInvalidInput, "missing %s header", HeaderMessageID)
	}
	endpoint := md.Get(HeaderProcessingEndpoint)
	if endpoint == "" {
		return fmusecase.RecordInput{}, apperrors.Wrapf(
			apperrors.ErrInvalidInput,
			"missing %s header",
			HeaderProcessingEndpoint,
		)
	}

	timeOfFailure := time.Now().UTC()
	if raw := md.Get(HeaderTimeOfFailure); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmusecase.RecordInput{}, apperrors.Wrapf(
				apperrors.ErrInvalidInput,
				"invalid %s header %q",
				HeaderTimeOfFailure,
				raw,
			)
		}
		timeOfFailure = parsed.UTC()
	}

	headers := make(map[string]string, len(md))
	for key, value := range md {
		headers[key] = value
	}

	return fmusecase.RecordInput{
		MessageID:         messageID,
		MessageType:       firstMessageType(md.Get(HeaderMessageType)),
		ReceivingEndpoint: endpoint,
		Headers:           headers,
		MessageMetadata:   map[string]string{metadataKeyTransportMessageID: msg.UUID},
		Body:              msg.Payload,
		ContentType:       md.Get(HeaderContentType),
		FailureDetails: fmdomain.FailureDetails{
			Exception: fmdomain.ExceptionDetails{
				ExceptionType: md.Get(HeaderExceptionType),
				Message:       md.Get(HeaderExceptionMessage),
				Source:        md.Get(HeaderExceptionSource),
				StackTrace:    md.Get(HeaderExceptionStackTrace),
			},
			TimeOfFailure:            timeOfFailure,
			AddressOfFailingEndpoint: md.Get(HeaderFailedQueue),
		},
	}, nil
}

// firstMessageType returns the most derived type of a ';' separated list.
func firstMessageType(types string) string {
	first, _, _ := strings.Cut(types, ";")
	return strings.TrimSpace(first)
}

// RetryConfirmationHandler resolves failed messages when a retried copy shows up on the audit topic.
type RetryConfirmationHandler struct {
	resolver RetryResolver
	logger   *slog.Logger
}

// NewRetryConfirmationHandler creates a new RetryConfirmationHandler.
func NewRetryConfirmationHandler(resolver RetryResolver, logger *slog.Logger) *RetryConfirmationHandler {
	return &RetryConfirmationHandler{resolver: resolver, logger: logger}
}

// Handle ignores audited messages that are not retries.
func (h *RetryConfirmationHandler) Handle(msg *message.Message) error {
	raw := msg.Metadata.Get(fmdomain.HeaderRetryFailedMessageID)
	if raw == "" {
		return nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Warn("ignoring retry confirmation with invalid failed message id",
			slog.String("transport_message_id", msg.UUID),
			slog.String("failed_message_id", raw),
		)
		return nil
	}

	resolved, err := h.resolver.MarkAsResolved(msg.Context(), id)
	if err != nil {
		return err
	}

	h.logger.Debug("processed retry confirmation",
		slog.String("failed_message_id", id.String()),
		slog.String("retry_batch_id", msg.Metadata.Get(fmdomain.HeaderRetryBatchID)),
		slog.Bool("resolved", resolved),
	)
	return nil
}

// Topics names the topics consumed by Register.
type Topics struct {
	Errors string
	Audit  string
}

// HandlerRegistrar attaches a consuming handler to a topic.
type HandlerRegistrar interface {
	Handle(name, topic string, handler message.NoPublishHandlerFunc)
}

// Register attaches both handlers to the router behind registrar.
func Register(
	registrar HandlerRegistrar,
	topics Topics,
	failures *ErrorQueueHandler,
	confirmations *RetryConfirmationHandler,
) {
	registrar.Handle("ingest_failed_messages", topics.Errors, failures.Handle)
	registrar.Handle("confirm_retries", topics.Audit, confirmations.Handle)
}
