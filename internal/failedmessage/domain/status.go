package domain

// Status is the lifecycle state of a FailedMessage.
type Status string

const (
	StatusUnresolved      Status = "unresolved"
	StatusRetryIssued     Status = "retry_issued"
	StatusRepeatedFailure Status = "repeated_failure"
	StatusResolved        Status = "resolved"
	StatusArchived        Status = "archived"
)

// OpenStatuses are the statuses counted as outstanding failures and eligible for retry.
var OpenStatuses = []Status{StatusUnresolved, StatusRepeatedFailure}

// transitions lists the operator and retry driven moves allowed out of each status.
var transitions = map[Status][]Status{
	StatusUnresolved:      {StatusRetryIssued, StatusArchived},
	StatusRepeatedFailure: {StatusRetryIssued},
	StatusRetryIssued:     {StatusResolved, StatusUnresolved, StatusRepeatedFailure, StatusArchived},
	StatusArchived:        {StatusUnresolved},
	StatusResolved:        {},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsOpen reports whether s counts as an outstanding failure.
func (s Status) IsOpen() bool {
	return s == StatusUnresolved || s == StatusRepeatedFailure
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus converts a string to a Status, returning ErrInvalidStatus for unknown values.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.IsValid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}
