package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_ImplementsSink(t *testing.T) {
	var _ Sink = NewNoopSink()
}

func TestNoopSink_AllMethodsSafe(t *testing.T) {
	sink := NewNoopSink()
	sink.CycleCompleted(time.Second, 3, nil)
	sink.LeasesReclaimed(1)
	sink.DispatchDelay(time.Minute)
	sink.SendCompleted(1, "sent", time.Second)
	sink.JobsInFlightIncr()
	sink.JobsInFlightDecr()
	sink.RequestCompleted("GET", "/health", 200, time.Millisecond)
}
