// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"time"

	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/recoverability/internal/validation"
)

// IDsRequest names the failure records an operator action applies to.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// Validate checks if the ids request is valid.
func (r *IDsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.IDs,
			validation.Required,
			validation.Length(1, customValidation.MaxIDsPerRequest),
			validation.Each(validation.Required, customValidation.UUID),
		),
	)
}

// UnarchiveRangeRequest selects archived records by last modification time.
type UnarchiveRangeRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Validate checks if the range is present and ordered.
func (r *UnarchiveRangeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.From,
			validation.Required,
			customValidation.NotAfter(func() time.Time { return r.To }),
		),
		validation.Field(&r.To, validation.Required),
	)
}

// CommentRequest carries the operator comment attached to a failure group.
type CommentRequest struct {
	Comment string `json:"comment"`
}

// Validate checks if the comment request is valid.
func (r *CommentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Comment,
			validation.Required,
			customValidation.NotBlank,
			validation.Length(1, 2000),
		),
	)
}
