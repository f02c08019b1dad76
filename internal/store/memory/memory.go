// Package memory provides an in-memory store.Store with the same atomicity
// guarantees as the Postgres store. It backs unit tests and single-process
// deployments that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/domain"
	"github.com/sendlater/sendlater/internal/store"
)

// Store keeps all jobs behind a single mutex; every operation is atomic.
type Store struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*domain.EmailJob
	clock func() time.Time
}

// New creates an empty in-memory store using wall-clock time.
func New() *Store {
	return &Store{
		jobs:  make(map[uuid.UUID]*domain.EmailJob),
		clock: time.Now,
	}
}

// WithClock replaces the store's clock. For tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) Create(ctx context.Context, ownerID uuid.UUID, payload domain.MessagePayload, dueAt time.Time, maxAttempts int) (domain.EmailJob, error) {
	now := s.clock().UTC()
	if !dueAt.After(now) {
		return domain.EmailJob{}, &domain.ValidationError{Field: "dueAt", Reason: "must be in the future"}
	}
	if maxAttempts < 1 {
		return domain.EmailJob{}, &domain.ValidationError{Field: "maxAttempts", Reason: "must be at least 1"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := domain.EmailJob{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Payload:     payload,
		DueAt:       dueAt.UTC(),
		State:       domain.JobStatePending,
		MaxAttempts: maxAttempts,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = &job
	return job, nil
}

func (s *Store) Get(ctx context.Context, id, ownerID uuid.UUID) (domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return domain.EmailJob{}, domain.ErrNotFound
	}
	return *job, nil
}

func (s *Store) ListPending(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.EmailJob
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && !job.State.Terminal() {
			result = append(result, *job)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueAt.Before(result[j].DueAt) })
	return page(result, limit, offset), nil
}

func (s *Store) ListTerminal(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.EmailJob
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.State.Terminal() {
			result = append(result, *job)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CompletedAt.After(*result[j].CompletedAt)
	})
	return page(result, limit, offset), nil
}

func (s *Store) ClaimDueBatch(ctx context.Context, now time.Time, limit int, leaseOwner uuid.UUID, leaseDuration time.Duration) ([]domain.EmailJob, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.EmailJob
	for _, job := range s.jobs {
		if job.State == domain.JobStatePending && !job.DueAt.After(now) {
			due = append(due, job)
		}
	}
	// Most overdue first.
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.EmailJob, 0, len(due))
	for _, job := range due {
		job.State = domain.JobStateLeased
		job.LeaseOwner = leaseOwner
		job.LeaseExpiresAt = now.Add(leaseDuration)
		job.Attempt++
		job.Version++
		job.UpdatedAt = now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (s *Store) CompleteLeased(ctx context.Context, id, leaseOwner uuid.UUID, expectedVersion int64, outcome store.Outcome) error {
	now := s.clock().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStateLeased || job.LeaseOwner != leaseOwner || job.Version != expectedVersion {
		return domain.ErrConflict
	}

	job.LeaseOwner = uuid.Nil
	job.LeaseExpiresAt = time.Time{}
	job.Version++
	job.UpdatedAt = now

	switch outcome.State {
	case domain.JobStateSent:
		job.State = domain.JobStateSent
		job.ProviderMessageID = outcome.ProviderMessageID
		job.LastError = ""
		completed := now
		job.CompletedAt = &completed
	case domain.JobStatePending:
		job.State = domain.JobStatePending
		job.DueAt = outcome.NextDueAt.UTC()
		job.LastError = outcome.LastError
	case domain.JobStateFailed:
		job.State = domain.JobStateFailed
		job.LastError = outcome.LastError
		completed := now
		job.CompletedAt = &completed
	default:
		job.Version-- // undo; not a legal outcome
		return domain.ErrInvalidState
	}
	return nil
}

func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for _, job := range s.jobs {
		if job.State == domain.JobStateLeased && job.LeaseExpiresAt.Before(now) {
			job.State = domain.JobStatePending
			job.LeaseOwner = uuid.Nil
			job.LeaseExpiresAt = time.Time{}
			job.Version++
			job.UpdatedAt = now
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *Store) Cancel(ctx context.Context, id, ownerID uuid.UUID, expectedVersion int64) (domain.EmailJob, error) {
	now := s.clock().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return domain.EmailJob{}, domain.ErrNotFound
	}
	if job.State != domain.JobStatePending {
		return domain.EmailJob{}, domain.ErrInvalidState
	}
	if job.Version != expectedVersion {
		return domain.EmailJob{}, domain.ErrConflict
	}

	job.State = domain.JobStateCanceled
	job.Version++
	job.UpdatedAt = now
	completed := now
	job.CompletedAt = &completed
	return *job, nil
}

func (s *Store) Reschedule(ctx context.Context, id, ownerID uuid.UUID, newDueAt time.Time, expectedVersion int64) (domain.EmailJob, error) {
	now := s.clock().UTC()
	if !newDueAt.After(now) {
		return domain.EmailJob{}, &domain.ValidationError{Field: "dueAt", Reason: "must be in the future"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return domain.EmailJob{}, domain.ErrNotFound
	}
	if job.State != domain.JobStatePending {
		return domain.EmailJob{}, domain.ErrInvalidState
	}
	if job.Version != expectedVersion {
		return domain.EmailJob{}, domain.ErrConflict
	}

	job.DueAt = newDueAt.UTC()
	job.Version++
	job.UpdatedAt = now
	return *job, nil
}

func page(jobs []domain.EmailJob, limit, offset int) []domain.EmailJob {
	if offset >= len(jobs) {
		return nil
	}
	jobs = jobs[offset:]
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

var _ store.Store = (*Store)(nil)
