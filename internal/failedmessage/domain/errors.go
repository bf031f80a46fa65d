package domain

import (
	"github.com/allisson/recoverability/internal/errors"
)

// Failed message error definitions.
var (
	// ErrFailedMessageNotFound indicates the failed message does not exist or has expired.
	ErrFailedMessageNotFound = errors.Wrap(errors.ErrNotFound, "failed message not found")

	// ErrInvalidStatusTransition indicates a status change that the lifecycle does not allow.
	ErrInvalidStatusTransition = errors.Wrap(errors.ErrConflict, "invalid status transition")

	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.Wrap(errors.ErrInvalidInput, "invalid status")

	// ErrGroupCommentNotFound indicates there is no comment for the group.
	ErrGroupCommentNotFound = errors.Wrap(errors.ErrNotFound, "group comment not found")

	// ErrBodyNotFound indicates the stored message body is missing.
	ErrBodyNotFound = errors.Wrap(errors.ErrNotFound, "message body not found")
)
