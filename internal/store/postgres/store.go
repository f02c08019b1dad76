// Package postgres implements store.Store on PostgreSQL.
//
// All state transitions are single guarded UPDATE statements: the WHERE clause
// carries the state, lease-owner and version preconditions, so Postgres's
// row-level locking serializes racing instances and the loser simply touches
// zero rows.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/domain"
	"github.com/sendlater/sendlater/internal/store"
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	clock     func() time.Time
}

// New creates a PostgreSQL store. opTimeout bounds each statement; zero
// disables the per-operation timeout.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout, clock: time.Now}
}

// WithClock replaces the store's clock. For tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Create(ctx context.Context, ownerID uuid.UUID, payload domain.MessagePayload, dueAt time.Time, maxAttempts int) (domain.EmailJob, error) {
	now := s.clock().UTC()
	if !dueAt.After(now) {
		return domain.EmailJob{}, &domain.ValidationError{Field: "dueAt", Reason: "must be in the future"}
	}
	if maxAttempts < 1 {
		return domain.EmailJob{}, &domain.ValidationError{Field: "maxAttempts", Reason: "must be at least 1"}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.EmailJob{}, fmt.Errorf("marshal payload: %w", err)
	}

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

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, queryInsertJob,
		job.ID, job.OwnerID, raw, job.DueAt, job.MaxAttempts, now)
	if err != nil {
		return domain.EmailJob{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *Store) Get(ctx context.Context, id, ownerID uuid.UUID) (domain.EmailJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, id, ownerID))
	if err == sql.ErrNoRows {
		return domain.EmailJob{}, domain.ErrNotFound
	}
	return job, err
}

func (s *Store) ListPending(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error) {
	return s.list(ctx, queryListPending, ownerID, limit, offset)
}

func (s *Store) ListTerminal(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error) {
	return s.list(ctx, queryListTerminal, ownerID, limit, offset)
}

func (s *Store) list(ctx context.Context, query string, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EmailJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func (s *Store) ClaimDueBatch(ctx context.Context, now time.Time, limit int, leaseOwner uuid.UUID, leaseDuration time.Duration) ([]domain.EmailJob, error) {
	now = now.UTC()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryClaimDueBatch,
		now, limit, leaseOwner, now.Add(leaseDuration))
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var claimed []domain.EmailJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, job)
	}
	return claimed, rows.Err()
}

func (s *Store) CompleteLeased(ctx context.Context, id, leaseOwner uuid.UUID, expectedVersion int64, outcome store.Outcome) error {
	now := s.clock().UTC()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var result sql.Result
	var err error
	switch outcome.State {
	case domain.JobStateSent:
		result, err = s.db.ExecContext(ctx, queryCompleteSent,
			id, leaseOwner, expectedVersion, now, outcome.ProviderMessageID)
	case domain.JobStatePending:
		result, err = s.db.ExecContext(ctx, queryCompleteRetry,
			id, leaseOwner, expectedVersion, now, outcome.NextDueAt.UTC(), outcome.LastError)
	case domain.JobStateFailed:
		result, err = s.db.ExecContext(ctx, queryCompleteFailed,
			id, leaseOwner, expectedVersion, now, outcome.LastError)
	default:
		return domain.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("complete leased: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the job is gone or the lease/version guard failed.
		var one int
		err := s.db.QueryRowContext(ctx, queryJobExists, id).Scan(&one)
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryReclaimExpiredLeases, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("reclaim leases: %w", err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (s *Store) Cancel(ctx context.Context, id, ownerID uuid.UUID, expectedVersion int64) (domain.EmailJob, error) {
	now := s.clock().UTC()

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryCancel, id, ownerID, expectedVersion, now))
	if err == sql.ErrNoRows {
		return domain.EmailJob{}, s.guardFailure(ctx, id, ownerID)
	}
	if err != nil {
		return domain.EmailJob{}, fmt.Errorf("cancel: %w", err)
	}
	return job, nil
}

func (s *Store) Reschedule(ctx context.Context, id, ownerID uuid.UUID, newDueAt time.Time, expectedVersion int64) (domain.EmailJob, error) {
	now := s.clock().UTC()
	if !newDueAt.After(now) {
		return domain.EmailJob{}, &domain.ValidationError{Field: "dueAt", Reason: "must be in the future"}
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryReschedule, id, ownerID, expectedVersion, now, newDueAt.UTC()))
	if err == sql.ErrNoRows {
		return domain.EmailJob{}, s.guardFailure(ctx, id, ownerID)
	}
	if err != nil {
		return domain.EmailJob{}, fmt.Errorf("reschedule: %w", err)
	}
	return job, nil
}

// guardFailure inspects a job after a guarded mutation touched zero rows and
// maps the cause to the error taxonomy.
func (s *Store) guardFailure(ctx context.Context, id, ownerID uuid.UUID) error {
	var state string
	var version int64
	err := s.db.QueryRowContext(ctx, queryGetStateVersion, id, ownerID).Scan(&state, &version)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if domain.JobState(state) != domain.JobStatePending {
		return domain.ErrInvalidState
	}
	return domain.ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.EmailJob, error) {
	var job domain.EmailJob
	var raw []byte
	var state string
	var leaseOwner uuid.NullUUID
	var leaseExpiresAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&raw,
		&job.DueAt,
		&state,
		&job.Attempt,
		&job.MaxAttempts,
		&leaseOwner,
		&leaseExpiresAt,
		&job.LastError,
		&job.ProviderMessageID,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return domain.EmailJob{}, err
	}

	if err := json.Unmarshal(raw, &job.Payload); err != nil {
		return domain.EmailJob{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	job.State = domain.JobState(state)
	if leaseOwner.Valid {
		job.LeaseOwner = leaseOwner.UUID
	}
	if leaseExpiresAt.Valid {
		job.LeaseExpiresAt = leaseExpiresAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

var _ store.Store = (*Store)(nil)
