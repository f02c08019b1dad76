package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) CycleCompleted(duration time.Duration, claimed int, err error)           {}
func (n *NoopSink) LeasesReclaimed(count int)                                               {}
func (n *NoopSink) DispatchDelay(delay time.Duration)                                       {}
func (n *NoopSink) SendCompleted(attempt int, outcome string, duration time.Duration)       {}
func (n *NoopSink) JobsInFlightIncr()                                                       {}
func (n *NoopSink) JobsInFlightDecr()                                                       {}
func (n *NoopSink) RequestCompleted(method, route string, status int, duration time.Duration) {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                         {}
func (n *NoopSink) LeaderAcquired()                                                           {}
func (n *NoopSink) LeaderLost(reason string)                                                  {}
