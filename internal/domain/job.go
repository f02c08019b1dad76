package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStatePending  JobState = "pending"
	JobStateLeased   JobState = "leased"
	JobStateSent     JobState = "sent"
	JobStateFailed   JobState = "failed"
	JobStateCanceled JobState = "canceled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s JobState) Terminal() bool {
	return s == JobStateSent || s == JobStateFailed || s == JobStateCanceled
}

// EmailJob is a single scheduled send. It is only ever mutated through
// store-level conditional updates keyed on Version.
type EmailJob struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Payload MessagePayload

	DueAt time.Time
	State JobState

	Attempt     int
	MaxAttempts int

	// LeaseOwner is uuid.Nil and LeaseExpiresAt is zero unless State is leased.
	LeaseOwner     uuid.UUID
	LeaseExpiresAt time.Time

	LastError         string
	ProviderMessageID string

	Version int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// LeasedBy reports whether the job currently holds a live lease for owner at now.
func (j EmailJob) LeasedBy(owner uuid.UUID, now time.Time) bool {
	return j.State == JobStateLeased && j.LeaseOwner == owner && j.LeaseExpiresAt.After(now)
}
