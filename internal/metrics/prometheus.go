package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Dispatch loop metrics
	cyclesTotal          prometheus.Counter
	cycleErrorsTotal     prometheus.Counter
	jobsClaimedTotal     prometheus.Counter
	cycleDuration        prometheus.Histogram
	leasesReclaimedTotal prometheus.Counter
	dispatchDelay        prometheus.Histogram

	// Delivery metrics
	sendAttemptsTotal *prometheus.CounterVec
	sendDuration      prometheus.Histogram
	jobsInFlight      prometheus.Gauge

	// API metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Leader election metrics
	leaderStatus            prometheus.Gauge
	leaderAcquisitionsTotal prometheus.Counter
	leaderLossesTotal       *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initDispatchMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initAPIMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendlater_dispatch_cycles_total",
		Help: "Total number of dispatch cycles completed.",
	})
	s.cycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendlater_dispatch_cycle_errors_total",
		Help: "Total number of dispatch cycles aborted by a store error.",
	})
	s.jobsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendlater_dispatch_jobs_claimed_total",
		Help: "Total number of due jobs claimed for delivery.",
	})
	s.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sendlater_dispatch_cycle_duration_seconds",
		Help:    "Duration of each dispatch cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.leasesReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendlater_dispatch_leases_reclaimed_total",
		Help: "Total number of expired leases returned to pending.",
	})
	s.dispatchDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sendlater_dispatch_delay_seconds",
		Help:    "Lag between a job's due time and its delivery attempt in seconds.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
	})

	s.register(reg, s.cyclesTotal, "sendlater_dispatch_cycles_total")
	s.register(reg, s.cycleErrorsTotal, "sendlater_dispatch_cycle_errors_total")
	s.register(reg, s.jobsClaimedTotal, "sendlater_dispatch_jobs_claimed_total")
	s.register(reg, s.cycleDuration, "sendlater_dispatch_cycle_duration_seconds")
	s.register(reg, s.leasesReclaimedTotal, "sendlater_dispatch_leases_reclaimed_total")
	s.register(reg, s.dispatchDelay, "sendlater_dispatch_delay_seconds")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.sendAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sendlater_send_attempts_total",
		Help: "Total number of delivery attempts by attempt number and outcome.",
	}, []string{"attempt", "outcome"})

	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sendlater_send_duration_seconds",
		Help:    "Provider send latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sendlater_jobs_in_flight",
		Help: "Number of jobs currently being delivered.",
	})

	s.register(reg, s.sendAttemptsTotal, "sendlater_send_attempts_total")
	s.register(reg, s.sendDuration, "sendlater_send_duration_seconds")
	s.register(reg, s.jobsInFlight, "sendlater_jobs_in_flight")
}

func (s *PrometheusSink) initAPIMetrics(reg prometheus.Registerer) {
	s.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sendlater_http_requests_total",
		Help: "Total number of API requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	s.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sendlater_http_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	s.register(reg, s.requestsTotal, "sendlater_http_requests_total")
	s.register(reg, s.requestDuration, "sendlater_http_request_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sendlater_leader_status",
		Help: "1 if this instance holds the dispatch leader lock, else 0.",
	})
	s.leaderAcquisitionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendlater_leader_acquisitions_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLossesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sendlater_leader_losses_total",
		Help: "Total number of times this instance lost leadership, by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "sendlater_leader_status")
	s.register(reg, s.leaderAcquisitionsTotal, "sendlater_leader_acquisitions_total")
	s.register(reg, s.leaderLossesTotal, "sendlater_leader_losses_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Dispatch loop metrics implementation

func (s *PrometheusSink) CycleCompleted(duration time.Duration, claimed int, err error) {
	s.cyclesTotal.Inc()
	s.cycleDuration.Observe(duration.Seconds())
	s.jobsClaimedTotal.Add(float64(claimed))
	if err != nil {
		s.cycleErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) LeasesReclaimed(count int) {
	s.leasesReclaimedTotal.Add(float64(count))
}

func (s *PrometheusSink) DispatchDelay(delay time.Duration) {
	d := delay.Seconds()
	if d < 0 {
		d = 0
	}
	s.dispatchDelay.Observe(d)
}

// Delivery metrics implementation

func (s *PrometheusSink) SendCompleted(attempt int, outcome string, duration time.Duration) {
	s.sendAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), outcome).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

// API metrics implementation

func (s *PrometheusSink) RequestCompleted(method, route string, status int, duration time.Duration) {
	s.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisitionsTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossesTotal.WithLabelValues(reason).Inc()
}
