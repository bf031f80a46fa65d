// Package service holds the retry dispatch port implementations.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/retry/domain"
)

// ErrNoDestination indicates that neither the record nor its last attempt names a queue to retry to.
var ErrNoDestination = apperrors.Wrap(apperrors.ErrInvalidInput, "failed message has no destination queue")

// BodyReader loads a stored message body.
type BodyReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// WatermillDispatcher republishes failed messages to their original queue.
type WatermillDispatcher struct {
	publisher message.Publisher
	bodies    BodyReader
	logger    *slog.Logger
}

// Dispatch publishes the last failed attempt of msg with its original headers plus the retry
// correlation headers. The topic is the failing queue address.
func (d *WatermillDispatcher) Dispatch(ctx context.Context, msg *fmdomain.FailedMessage, batch *domain.RetryBatch) error {
	attempt, ok := msg.LastAttempt()
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "failed message has no processing attempt")
	}

	topic := msg.QueueAddress
	if topic == "" {
		topic = attempt.FailureDetails.AddressOfFailingEndpoint
	}
	if topic == "" {
		return ErrNoDestination
	}

	var body []byte
	if attempt.BodyKey != "" {
		var err error
		body, err = d.bodies.Read(ctx, attempt.BodyKey)
		if err != nil {
			if errors.Is(err, fmdomain.ErrBodyNotFound) {
				d.logger.Warn("retrying failed message without its body",
					slog.String("failed_message_id", msg.ID.String()),
					slog.String("body_key", attempt.BodyKey),
				)
			} else {
				return err
			}
		}
	}

	out := message.NewMessage(watermill.NewUUID(), body)
	out.SetContext(ctx)
	for key, value := range attempt.Headers {
		out.Metadata.Set(key, value)
	}
	out.Metadata.Set(fmdomain.HeaderRetryFailedMessageID, msg.ID.String())
	out.Metadata.Set(fmdomain.HeaderRetryBatchID, batch.ID.String())
	out.Metadata.Set(fmdomain.HeaderRetryRequestID, batch.RequestID)

	if err := d.publisher.Publish(topic, out); err != nil {
		return apperrors.Wrap(err, "failed to publish retried message")
	}

	d.logger.Debug("dispatched failed message",
		slog.String("failed_message_id", msg.ID.String()),
		slog.String("retry_batch_id", batch.ID.String()),
		slog.String("topic", topic),
	)
	return nil
}

// NewWatermillDispatcher creates a new WatermillDispatcher.
func NewWatermillDispatcher(publisher message.Publisher, bodies BodyReader, logger *slog.Logger) *WatermillDispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WatermillDispatcher{
		publisher: publisher,
		bodies:    bodies,
		logger:    logger,
	}
}
