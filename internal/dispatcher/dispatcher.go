// Package dispatcher runs the poll loop that delivers due jobs.
//
// Any number of dispatcher instances may run concurrently; they coordinate
// only through the store's atomic claim and complete operations. Each instance
// is a pure function of store contents plus clock time: no process-wide state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/backoff"
	"github.com/sendlater/sendlater/internal/domain"
	"github.com/sendlater/sendlater/internal/store"
	"github.com/sendlater/sendlater/internal/transport"
)

// Store is the subset of the job store the dispatch loop needs.
type Store interface {
	ClaimDueBatch(ctx context.Context, now time.Time, limit int, leaseOwner uuid.UUID, leaseDuration time.Duration) ([]domain.EmailJob, error)
	CompleteLeased(ctx context.Context, id, leaseOwner uuid.UUID, expectedVersion int64, outcome store.Outcome) error
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error)
}

// AnalyticsSink records per-owner delivery outcomes. Best-effort: the sink
// handles its own errors and never affects dispatch correctness.
type AnalyticsSink interface {
	Record(ctx context.Context, ownerID uuid.UUID, outcome string, at time.Time)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	CycleCompleted(duration time.Duration, claimed int, err error)
	LeasesReclaimed(count int)
	SendCompleted(attempt int, outcome string, duration time.Duration)
	JobsInFlightIncr()
	JobsInFlightDecr()
	DispatchDelay(delay time.Duration)
}

// Outcome labels shared with the metrics and analytics sinks.
const (
	OutcomeSent    = "sent"
	OutcomeRetried = "retried"
	OutcomeFailed  = "failed"
)

// completeTimeout bounds the completion write after a send finished during
// shutdown, when the loop context is already cancelled.
const completeTimeout = 10 * time.Second

type Config struct {
	// TickInterval is the poll cadence.
	TickInterval time.Duration

	// BatchSize caps how many jobs one cycle claims.
	BatchSize int

	// LeaseDuration must exceed SendTimeout by a safety margin; an attempt
	// that outlives its lease may be delivered twice (at-least-once).
	LeaseDuration time.Duration

	// SendTimeout bounds a single transport call. On expiry the attempt is
	// abandoned and treated as a retryable failure.
	SendTimeout time.Duration

	// Workers is the number of concurrent sends per cycle.
	Workers int
}

type Dispatcher struct {
	config     Config
	store      Store
	mailer     transport.Mailer
	policy     *backoff.Policy
	instanceID uuid.UUID
	clock      func() time.Time
	analytics  AnalyticsSink // optional, nil = disabled
	metrics    MetricsSink   // optional, nil = disabled
}

func New(config Config, st Store, mailer transport.Mailer, policy *backoff.Policy) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Dispatcher{
		config:     config,
		store:      st,
		mailer:     mailer,
		policy:     policy,
		instanceID: uuid.New(),
		clock:      time.Now,
	}
}

// WithAnalytics attaches an analytics sink to the dispatcher.
func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithClock replaces the dispatcher's clock. For tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// InstanceID identifies this dispatcher as a lease owner.
func (d *Dispatcher) InstanceID() uuid.UUID {
	return d.instanceID
}

// Run polls until ctx is cancelled. A failed cycle is logged and retried on
// the next tick; only cancellation stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	log.Printf("dispatcher: started (instance=%s, tick=%s, batch=%d, lease=%s, workers=%d)",
		d.instanceID, d.config.TickInterval, d.config.BatchSize, d.config.LeaseDuration, d.config.Workers)

	// Run immediately on startup, then on ticker.
	if err := d.runCycle(ctx); err != nil && ctx.Err() == nil {
		log.Printf("dispatcher: cycle error: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("dispatcher: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.runCycle(ctx); err != nil && ctx.Err() == nil {
				log.Printf("dispatcher: cycle error: %v", err)
			}
		}
	}
}

// runCycle performs one poll: reclaim expired leases, claim a due batch, and
// dispatch each claimed job. Store unavailability aborts the cycle; per-job
// failures never do.
func (d *Dispatcher) runCycle(ctx context.Context) error {
	start := time.Now()
	now := d.clock().UTC()

	reclaimed, err := d.store.ReclaimExpiredLeases(ctx, now)
	if err != nil {
		d.cycleDone(start, 0, err)
		return fmt.Errorf("reclaim leases: %w", err)
	}
	if reclaimed > 0 {
		// Routine self-healing after a crashed or stalled instance.
		log.Printf("dispatcher: reclaimed %d expired leases", reclaimed)
	}
	if d.metrics != nil && reclaimed > 0 {
		d.metrics.LeasesReclaimed(reclaimed)
	}

	claimed, err := d.store.ClaimDueBatch(ctx, now, d.config.BatchSize, d.instanceID, d.config.LeaseDuration)
	if err != nil {
		d.cycleDone(start, 0, err)
		return fmt.Errorf("claim batch: %w", err)
	}

	if len(claimed) > 0 {
		sem := make(chan struct{}, d.config.Workers)
		var wg sync.WaitGroup
		for _, job := range claimed {
			wg.Add(1)
			sem <- struct{}{}
			go func(job domain.EmailJob) {
				defer wg.Done()
				defer func() { <-sem }()
				d.dispatch(ctx, job)
			}(job)
		}
		wg.Wait()
	}

	d.cycleDone(start, len(claimed), nil)
	return nil
}

func (d *Dispatcher) cycleDone(start time.Time, claimed int, err error) {
	if d.metrics != nil {
		d.metrics.CycleCompleted(time.Since(start), claimed, err)
	}
}

// dispatch performs one delivery attempt for a job this instance has leased
// and resolves it through the store.
func (d *Dispatcher) dispatch(ctx context.Context, job domain.EmailJob) {
	if d.metrics != nil {
		d.metrics.JobsInFlightIncr()
		defer d.metrics.JobsInFlightDecr()
		d.metrics.DispatchDelay(d.clock().UTC().Sub(job.DueAt))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	start := time.Now()
	result, sendErr := d.mailer.Send(sendCtx, job.OwnerID, job.Payload)
	duration := time.Since(start)
	cancel()

	now := d.clock().UTC()
	var outcome store.Outcome
	var label string

	switch {
	case sendErr == nil:
		outcome = store.Sent(result.ProviderMessageID)
		label = OutcomeSent
	case !domain.Retryable(sendErr):
		outcome = store.Failed(sendErr.Error())
		label = OutcomeFailed
		log.Printf("dispatcher: job=%s permanent failure: %v", job.ID, sendErr)
	case job.Attempt >= job.MaxAttempts:
		outcome = store.Failed(sendErr.Error())
		label = OutcomeFailed
		log.Printf("dispatcher: job=%s failed after %d attempts: %v", job.ID, job.Attempt, sendErr)
	default:
		delay := d.policy.Delay(job.Attempt)
		outcome = store.Retry(now.Add(delay), sendErr.Error())
		label = OutcomeRetried
		log.Printf("dispatcher: job=%s attempt=%d retrying in %s: %v", job.ID, job.Attempt, delay.Round(time.Millisecond), sendErr)
	}

	// The completion write must survive loop shutdown: the send already
	// happened, and leaving the lease to expire would only delay re-arming.
	compCtx, compCancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer compCancel()

	if err := d.store.CompleteLeased(compCtx, job.ID, d.instanceID, job.Version, outcome); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lease expired and another instance took over; discard our result.
			log.Printf("dispatcher: job=%s lease lost, discarding result", job.ID)
			return
		}
		log.Printf("dispatcher: job=%s complete error: %v", job.ID, err)
		return
	}

	if sendErr == nil {
		log.Printf("dispatcher: job=%s sent attempt=%d provider_id=%s", job.ID, job.Attempt, result.ProviderMessageID)
	}
	if d.metrics != nil {
		d.metrics.SendCompleted(job.Attempt, label, duration)
	}
	if d.analytics != nil {
		d.analytics.Record(compCtx, job.OwnerID, label, now)
	}
}
