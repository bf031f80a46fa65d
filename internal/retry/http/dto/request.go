// Package dto provides data transfer objects for retry HTTP requests and responses.
package dto

import (
	"time"

	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/recoverability/internal/validation"
)

// RetryIDsRequest names the failure records to retry.
type RetryIDsRequest struct {
	IDs []string `json:"ids"`
}

// Validate checks if the retry request is valid.
func (r *RetryIDsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.IDs,
			validation.Required,
			validation.Length(1, customValidation.MaxIDsPerRequest),
			validation.Each(validation.Required, customValidation.UUID),
		),
	)
}

// RetryQueueRequest selects every open failure of a queue address.
type RetryQueueRequest struct {
	QueueAddress string `json:"queue_address"`
}

// Validate checks if the queue address is present.
func (r *RetryQueueRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.QueueAddress,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
		),
	)
}

// PendingRequest selects RetryIssued records for reconciliation.
type PendingRequest struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	QueueAddress string    `json:"queue_address"`
}

// Validate checks if the window is ordered.
func (r *PendingRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.From, customValidation.NotAfter(func() time.Time { return r.To })),
		validation.Field(&r.QueueAddress, customValidation.NoWhitespace),
	)
}
