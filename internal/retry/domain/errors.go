package domain

import (
	"github.com/allisson/recoverability/internal/errors"
)

// Retry batch errors.
var (
	// ErrRetryBatchNotFound indicates the retry batch does not exist.
	ErrRetryBatchNotFound = errors.Wrap(errors.ErrNotFound, "retry batch not found")

	// ErrFailedMessageRetryNotFound indicates no retry marker exists for the failed message.
	ErrFailedMessageRetryNotFound = errors.Wrap(errors.ErrNotFound, "failed message retry not found")

	// ErrNowForwardingNotFound indicates no batch is currently being forwarded.
	ErrNowForwardingNotFound = errors.Wrap(errors.ErrNotFound, "no retry batch is being forwarded")

	// ErrEmptyRetryRequest indicates a retry request selected no message ids.
	ErrEmptyRetryRequest = errors.Wrap(errors.ErrInvalidInput, "retry request has no message ids")
)
