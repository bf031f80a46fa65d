package domain

import (
	"time"

	"github.com/google/uuid"
)

// Filter selects failed messages for listing, streaming and bulk operations.
// Zero values mean "no constraint".
type Filter struct {
	IDs               []uuid.UUID
	Statuses          []Status
	ReceivingEndpoint string
	QueueAddress      string
	GroupID           uuid.UUID
	ModifiedFrom      *time.Time
	ModifiedTo        *time.Time
}

// Cursor is a forward-only keyset position over (LastModified, ID).
// The zero Cursor starts before the first record.
type Cursor struct {
	LastModified time.Time
	ID           uuid.UUID
}

// IsZero reports whether the cursor is at the beginning.
func (c Cursor) IsZero() bool {
	return c.LastModified.IsZero() && c.ID == uuid.Nil
}

// After returns the cursor positioned after msg.
func After(msg *FailedMessage) Cursor {
	return Cursor{LastModified: msg.LastModified, ID: msg.ID}
}
