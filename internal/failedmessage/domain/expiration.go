package domain

import "time"

// ExpirationPolicy attaches retention metadata to records that reached a
// terminal status and removes it again when they become active.
type ExpirationPolicy struct {
	Retention time.Duration
}

// Apply sets or clears ExpiresAt according to the message status.
func (p ExpirationPolicy) Apply(m *FailedMessage, now time.Time) {
	switch m.Status {
	case StatusResolved, StatusArchived:
		if p.Retention <= 0 {
			m.ExpiresAt = nil
			return
		}
		expiresAt := now.Add(p.Retention).UTC()
		m.ExpiresAt = &expiresAt
	default:
		m.ExpiresAt = nil
	}
}

// ExpiresAt returns the expiry for a record entering a terminal status at now.
func (p ExpirationPolicy) ExpiresAt(now time.Time) *time.Time {
	if p.Retention <= 0 {
		return nil
	}
	expiresAt := now.Add(p.Retention).UTC()
	return &expiresAt
}
