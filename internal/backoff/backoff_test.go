package backoff

import (
	"testing"
	"time"
)

// fixedRand returns a source that always yields v.
func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	// Jitter factor pinned to 1.0 (rnd = 0.5).
	p := New(time.Second, time.Hour).WithRand(fixedRand(0.5))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 1024 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelay_CappedAtMax(t *testing.T) {
	p := New(time.Second, 30*time.Second).WithRand(fixedRand(0.5))

	if got := p.Delay(20); got != 30*time.Second {
		t.Errorf("Delay(20) = %v, want cap of 30s", got)
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	// rnd=0 gives the 0.5x lower bound, rnd just below 1 approaches 1.5x.
	low := New(4*time.Second, time.Hour).WithRand(fixedRand(0))
	if got := low.Delay(0); got != 2*time.Second {
		t.Errorf("lower jitter bound: Delay(0) = %v, want 2s", got)
	}

	high := New(4*time.Second, time.Hour).WithRand(fixedRand(0.999999))
	got := high.Delay(0)
	if got < 2*time.Second || got >= 6*time.Second {
		t.Errorf("upper jitter bound: Delay(0) = %v, want < 6s", got)
	}
}

func TestDelay_DefaultRandStaysInWindow(t *testing.T) {
	p := New(time.Second, time.Minute)

	for i := 0; i < 1000; i++ {
		got := p.Delay(2) // base 4s
		if got < 2*time.Second || got > 6*time.Second {
			t.Fatalf("Delay(2) = %v, outside [2s, 6s] jitter window", got)
		}
	}
}
