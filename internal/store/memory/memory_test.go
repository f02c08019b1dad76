package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/domain"
	"github.com/sendlater/sendlater/internal/store"
	"github.com/sendlater/sendlater/internal/testutil"
)

var basePayload = domain.MessagePayload{
	To:      "rcpt@example.com",
	Subject: "hello",
	Body:    "body",
}

func newTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return New().WithClock(clock.Now), clock
}

func TestCreate_RejectsPastDueTime(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)

	tests := []struct {
		name  string
		dueAt time.Time
	}{
		{"in the past", clock.Now().Add(-time.Minute)},
		{"exactly now", clock.Now()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.Create(ctx, uuid.New(), basePayload, tt.dueAt, 3)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCreate_SetsInitialFields(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	job, err := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if job.State != domain.JobStatePending {
		t.Errorf("state = %s, want pending", job.State)
	}
	if job.Attempt != 0 {
		t.Errorf("attempt = %d, want 0", job.Attempt)
	}
	if job.Version != 1 {
		t.Errorf("version = %d, want 1", job.Version)
	}
	if job.LeaseOwner != uuid.Nil {
		t.Error("new job must be unleased")
	}
}

func TestClaimDueBatch_ClaimsOnlyDuePending(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	due, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
	notDue, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)

	clock.Advance(2 * time.Second)

	claimed, err := st.ClaimDueBatch(ctx, clock.Now(), 10, uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("claimed %d jobs, want exactly the due one", len(claimed))
	}
	if claimed[0].Attempt != 1 {
		t.Errorf("attempt = %d, want 1", claimed[0].Attempt)
	}
	if claimed[0].State != domain.JobStateLeased {
		t.Errorf("state = %s, want leased", claimed[0].State)
	}
	if claimed[0].Version != due.Version+1 {
		t.Errorf("version = %d, want %d", claimed[0].Version, due.Version+1)
	}

	got, _ := st.Get(ctx, notDue.ID, owner)
	if got.State != domain.JobStatePending {
		t.Errorf("future job state = %s, want pending", got.State)
	}
}

func TestClaimDueBatch_OrdersMostOverdueFirst(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	later, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(2*time.Minute), 3)
	earlier, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Minute), 3)

	clock.Advance(time.Hour)

	claimed, err := st.ClaimDueBatch(ctx, clock.Now(), 1, uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != earlier.ID {
		t.Fatalf("expected the most overdue job %s first, got %v", earlier.ID, claimed)
	}
	_ = later
}

func TestClaimDueBatch_ExcludesCanceled(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
	if _, err := st.Cancel(ctx, job.ID, owner, job.Version); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	clock.Advance(time.Minute)

	claimed, err := st.ClaimDueBatch(ctx, clock.Now(), 10, uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("canceled job must never be claimed, got %d", len(claimed))
	}
}

// Two concurrent claimers must never both receive the same job.
func TestClaimDueBatch_ConcurrentClaimersNeverOverlap(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		if _, err := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	clock.Advance(time.Minute)

	const claimers = 8
	results := make([][]domain.EmailJob, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := st.ClaimDueBatch(ctx, clock.Now(), jobs, uuid.New(), time.Minute)
			if err != nil {
				t.Errorf("claimer %d: %v", i, err)
				return
			}
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	seen := make(map[uuid.UUID]int)
	total := 0
	for i, claimed := range results {
		for _, job := range claimed {
			if prev, dup := seen[job.ID]; dup {
				t.Fatalf("job %s claimed by both claimer %d and %d", job.ID, prev, i)
			}
			seen[job.ID] = i
			total++
		}
	}
	if total != jobs {
		t.Errorf("claimed %d jobs in total, want %d", total, jobs)
	}
}

func TestCompleteLeased_Sent(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	instance := uuid.New()

	job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
	clock.Advance(time.Minute)
	claimed, _ := st.ClaimDueBatch(ctx, clock.Now(), 1, instance, time.Minute)

	err := st.CompleteLeased(ctx, job.ID, instance, claimed[0].Version, store.Sent("msg-123"))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := st.Get(ctx, job.ID, owner)
	if got.State != domain.JobStateSent {
		t.Errorf("state = %s, want sent", got.State)
	}
	if got.ProviderMessageID != "msg-123" {
		t.Errorf("provider message id = %q", got.ProviderMessageID)
	}
	if got.LastError != "" {
		t.Errorf("last error must be cleared, got %q", got.LastError)
	}
	if got.LeaseOwner != uuid.Nil {
		t.Error("lease must be cleared on terminal transition")
	}
	if got.CompletedAt == nil {
		t.Error("completed at must be set")
	}
}

func TestCompleteLeased_StaleVersionConflictsWithoutMutating(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	instance := uuid.New()

	job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
	clock.Advance(time.Minute)
	claimed, _ := st.ClaimDueBatch(ctx, clock.Now(), 1, instance, time.Minute)

	err := st.CompleteLeased(ctx, job.ID, instance, claimed[0].Version-1, store.Sent("msg-1"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _ := st.Get(ctx, job.ID, owner)
	if got.State != domain.JobStateLeased || got.Version != claimed[0].Version {
		t.Errorf("stale complete must not mutate: state=%s version=%d", got.State, got.Version)
	}
}

func TestCompleteLeased_ForeignLeaseOwnerConflicts(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	instance := uuid.New()

	job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
	clock.Advance(time.Minute)
	claimed, _ := st.ClaimDueBatch(ctx, clock.Now(), 1, instance, time.Minute)

	err := st.CompleteLeased(ctx, job.ID, uuid.New(), claimed[0].Version, store.Sent("msg-1"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for foreign lease owner, got %v", err)
	}
}

func TestReclaimExpiredLeases_ReturnsJobWithoutTouchingAttempt(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	instance := uuid.New()

	job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
	clock.Advance(time.Minute)
	if _, err := st.ClaimDueBatch(ctx, clock.Now(), 1, instance, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Lease not yet expired: nothing to reclaim.
	n, err := st.ReclaimExpiredLeases(ctx, clock.Now())
	if err != nil || n != 0 {
		t.Fatalf("reclaim before expiry = (%d, %v), want (0, nil)", n, err)
	}

	clock.Advance(2 * time.Minute)
	n, err = st.ReclaimExpiredLeases(ctx, clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("reclaim after expiry = (%d, %v), want (1, nil)", n, err)
	}

	got, _ := st.Get(ctx, job.ID, owner)
	if got.State != domain.JobStatePending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if got.Attempt != 1 {
		t.Errorf("attempt = %d, want 1 (expiry must not change it)", got.Attempt)
	}
	if got.LeaseOwner != uuid.Nil || !got.LeaseExpiresAt.IsZero() {
		t.Error("lease fields must be cleared on reclaim")
	}
}

// A second claim after expiry increments attempt exactly once more.
func TestReclaim_ThenSecondClaimIncrementsAttemptOnce(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
	clock.Advance(time.Minute)
	if _, err := st.ClaimDueBatch(ctx, clock.Now(), 1, uuid.New(), time.Minute); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := st.ReclaimExpiredLeases(ctx, clock.Now()); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	claimed, err := st.ClaimDueBatch(ctx, clock.Now(), 1, uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected reclaimed job to be claimable, got %d", len(claimed))
	}
	if claimed[0].Attempt != 2 {
		t.Errorf("attempt = %d, want 2", claimed[0].Attempt)
	}
	_ = job
}

func TestCancel_Guards(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	instance := uuid.New()

	t.Run("pending unleased succeeds and increments version", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
		got, err := st.Cancel(ctx, job.ID, owner, job.Version)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.State != domain.JobStateCanceled {
			t.Errorf("state = %s, want canceled", got.State)
		}
		if got.Version != job.Version+1 {
			t.Errorf("version = %d, want %d", got.Version, job.Version+1)
		}
	})

	t.Run("leased job rejected with InvalidState", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
		clock.Advance(time.Minute)
		claimed, _ := st.ClaimDueBatch(ctx, clock.Now(), 1, instance, time.Hour)
		_, err := st.Cancel(ctx, job.ID, owner, claimed[0].Version)
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("terminal job rejected with InvalidState", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
		canceled, _ := st.Cancel(ctx, job.ID, owner, job.Version)
		_, err := st.Cancel(ctx, job.ID, owner, canceled.Version)
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("version mismatch rejected with Conflict", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
		_, err := st.Cancel(ctx, job.ID, owner, job.Version+5)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("foreign owner sees NotFound", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
		_, err := st.Cancel(ctx, job.ID, uuid.New(), job.Version)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestReschedule(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	t.Run("moves due time and increments version", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
		newDue := clock.Now().Add(2 * time.Hour)
		got, err := st.Reschedule(ctx, job.ID, owner, newDue, job.Version)
		if err != nil {
			t.Fatalf("reschedule: %v", err)
		}
		if !got.DueAt.Equal(newDue) {
			t.Errorf("dueAt = %v, want %v", got.DueAt, newDue)
		}
		if got.Version != job.Version+1 {
			t.Errorf("version = %d, want %d", got.Version, job.Version+1)
		}
	})

	t.Run("past due time rejected", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
		_, err := st.Reschedule(ctx, job.ID, owner, clock.Now().Add(-time.Minute), job.Version)
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("leased job rejected", func(t *testing.T) {
		job, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Second), 3)
		clock.Advance(time.Minute)
		claimed, _ := st.ClaimDueBatch(ctx, clock.Now(), 1, uuid.New(), time.Hour)
		_, err := st.Reschedule(ctx, job.ID, owner, clock.Now().Add(time.Hour), claimed[0].Version)
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestListPending_OrderedByDueTimeAscending(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	third, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(3*time.Hour), 3)
	first, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
	second, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(2*time.Hour), 3)

	// Another owner's job must not appear.
	if _, err := st.Create(ctx, uuid.New(), basePayload, clock.Now().Add(time.Hour), 3); err != nil {
		t.Fatalf("create: %v", err)
	}

	jobs, err := st.ListPending(ctx, owner, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []uuid.UUID{first.ID, second.ID, third.ID}
	if len(jobs) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(jobs), len(want))
	}
	for i, id := range want {
		if jobs[i].ID != id {
			t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, id)
		}
	}
}

func TestListTerminal_OrderedByCompletionDescending(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	older, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
	if _, err := st.Cancel(ctx, older.ID, owner, older.Version); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	clock.Advance(time.Minute)

	newer, _ := st.Create(ctx, owner, basePayload, clock.Now().Add(time.Hour), 3)
	if _, err := st.Cancel(ctx, newer.ID, owner, newer.Version); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	jobs, err := st.ListTerminal(ctx, owner, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != newer.ID || jobs[1].ID != older.ID {
		t.Errorf("terminal list not ordered by completion descending")
	}
}
