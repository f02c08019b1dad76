// Package store defines the durable contract for scheduled email jobs.
//
// Every mutation is an atomic conditional update: two instances racing on the
// same job always yield exactly one winner per transition, and the loser
// observes domain.ErrConflict. Implementations must not mutate a job any
// other way.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/domain"
)

// Store is the single shared mutable resource of the dispatch engine.
type Store interface {
	// Create persists a new pending job. It fails with a
	// domain.ValidationError if dueAt is not strictly in the future.
	Create(ctx context.Context, ownerID uuid.UUID, payload domain.MessagePayload, dueAt time.Time, maxAttempts int) (domain.EmailJob, error)

	// Get returns the job by id, scoped to its owner.
	Get(ctx context.Context, id, ownerID uuid.UUID) (domain.EmailJob, error)

	// ListPending returns an owner's pending and leased jobs ordered by due
	// time ascending. Each call re-queries current state.
	ListPending(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error)

	// ListTerminal returns an owner's sent/failed/canceled jobs ordered by
	// completion time descending.
	ListTerminal(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error)

	// ClaimDueBatch atomically leases up to limit pending jobs whose due time
	// has passed. Each claimed job has its attempt and version incremented and
	// lease fields set to leaseOwner / now+leaseDuration. Concurrent callers
	// never both claim the same job.
	ClaimDueBatch(ctx context.Context, now time.Time, limit int, leaseOwner uuid.UUID, leaseDuration time.Duration) ([]domain.EmailJob, error)

	// CompleteLeased resolves a leased job per outcome. It fails with
	// domain.ErrConflict if expectedVersion mismatches or the lease is no
	// longer held by leaseOwner; the caller must then discard its result.
	CompleteLeased(ctx context.Context, id, leaseOwner uuid.UUID, expectedVersion int64, outcome Outcome) error

	// ReclaimExpiredLeases returns every leased job whose lease expired before
	// now to pending, clearing lease fields without touching attempt. It
	// reports how many jobs were reclaimed.
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error)

	// Cancel transitions a pending, unleased job to canceled.
	Cancel(ctx context.Context, id, ownerID uuid.UUID, expectedVersion int64) (domain.EmailJob, error)

	// Reschedule moves the due time of a pending, unleased job. It fails with
	// a domain.ValidationError if newDueAt is not strictly in the future.
	Reschedule(ctx context.Context, id, ownerID uuid.UUID, newDueAt time.Time, expectedVersion int64) (domain.EmailJob, error)
}

// Outcome is the resolution of a delivery attempt, applied by CompleteLeased.
type Outcome struct {
	State             domain.JobState // sent, pending (re-armed) or failed
	NextDueAt         time.Time       // re-arm only
	LastError         string          // re-arm and failed
	ProviderMessageID string          // sent only
}

// Sent finalizes the job successfully and clears its last error.
func Sent(providerMessageID string) Outcome {
	return Outcome{State: domain.JobStateSent, ProviderMessageID: providerMessageID}
}

// Retry re-arms the job as pending with a new due time.
func Retry(nextDueAt time.Time, lastError string) Outcome {
	return Outcome{State: domain.JobStatePending, NextDueAt: nextDueAt, LastError: lastError}
}

// Failed finalizes the job unsuccessfully.
func Failed(lastError string) Outcome {
	return Outcome{State: domain.JobStateFailed, LastError: lastError}
}
