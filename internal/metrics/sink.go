package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Dispatch loop metrics
	CycleCompleted(duration time.Duration, claimed int, err error)
	LeasesReclaimed(count int)
	DispatchDelay(delay time.Duration)

	// Delivery metrics
	SendCompleted(attempt int, outcome string, duration time.Duration)
	JobsInFlightIncr()
	JobsInFlightDecr()

	// API metrics
	RequestCompleted(method, route string, status int, duration time.Duration)

	// Leader election metrics (exclusive-dispatch mode)
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}
