// Package backoff computes retry delays for failed delivery attempts.
//
// The policy is a pure function of the attempt count, the configuration and an
// injected random source, so it is unit-testable without real time delays.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy is exponential backoff with multiplicative jitter:
//
//	delay = min(Max, Base * 2^attempt) * random(0.5, 1.5)
//
// The jitter spreads retry load so a transient transport outage does not
// produce a synchronized retry herd.
type Policy struct {
	Base time.Duration
	Max  time.Duration

	// rnd returns a value in [0, 1). Defaults to math/rand/v2.
	rnd func() float64
}

// New creates a backoff policy.
func New(base, max time.Duration) *Policy {
	return &Policy{Base: base, Max: max, rnd: rand.Float64}
}

// WithRand replaces the random source. For tests.
func (p *Policy) WithRand(rnd func() float64) *Policy {
	p.rnd = rnd
	return p
}

// Delay returns the wait before re-arming a job that has made attempt
// delivery attempts so far.
func (p *Policy) Delay(attempt int) time.Duration {
	d := float64(p.Base) * math.Pow(2, float64(attempt))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	jitter := 0.5 + p.rnd()
	return time.Duration(d * jitter)
}
