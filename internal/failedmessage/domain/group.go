package domain

import (
	"time"

	"github.com/google/uuid"
)

// FailureGroupView aggregates the open failures sharing one classification bucket.
type FailureGroupView struct {
	ID           uuid.UUID
	Title        string
	Type         string
	Count        int64
	First        time.Time
	Last         time.Time
	LastModified time.Time
	Comment      *string
}

// GroupComment is an operator annotation on a failure group.
type GroupComment struct {
	GroupID   uuid.UUID
	Comment   string
	UpdatedAt time.Time
}

// QueueAddressView lists a failing queue address with its open failure count.
type QueueAddressView struct {
	PhysicalAddress string
	FailedCount     int64
}

// EndpointView lists a receiving endpoint with its open failure count.
type EndpointView struct {
	Name        string
	FailedCount int64
}

// StatusCounts holds the live totals shown on dashboards.
type StatusCounts struct {
	Unresolved int64
	Archived   int64
}
