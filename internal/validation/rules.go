// Package validation provides custom validation rules for the application.
package validation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/recoverability/internal/errors"
)

// MaxIDsPerRequest caps how many record ids one operator request may carry.
const MaxIDsPerRequest = 1000

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// UUID validates that a string is a canonical uuid.
var UUID = validation.NewStringRuleWithError(
	func(s string) bool {
		_, err := uuid.Parse(s)
		return err == nil
	},
	validation.NewError("validation_uuid", "must be a valid uuid"),
)

// NoWhitespace validates that string doesn't contain leading/trailing whitespace
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// NotAfter validates that a time is not later than the time returned by limit.
// A zero value on either side passes so it can be combined with Required.
func NotAfter(limit func() time.Time) validation.Rule {
	return validation.By(func(value interface{}) error {
		t, ok := value.(time.Time)
		if !ok {
			return validation.NewError("validation_time_type", "must be a time")
		}
		bound := limit()
		if t.IsZero() || bound.IsZero() {
			return nil
		}
		if t.After(bound) {
			return validation.NewError("validation_time_order", "must not be after the end of the range")
		}
		return nil
	})
}

// ParseUUIDs converts already validated uuid strings. Invalid entries are reported as ErrInvalidInput.
func ParseUUIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, value := range values {
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "invalid id %q", value)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
