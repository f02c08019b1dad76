package main

import (
	"log"

	"github.com/sendlater/sendlater/internal/config"
)

// logConfigWarnings flags configurations that are valid but likely unintended.
// Warnings never block startup.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.DispatchEnabled && cfg.ExclusiveDispatch {
		log.Println("sendlaterd: WARNING: EXCLUSIVE_DISPATCH=true has no effect with DISPATCH_ENABLED=false")
	}

	// A lease only slightly longer than the send timeout leaves no headroom
	// for the completion write; a stalled send then gets delivered twice.
	if cfg.DispatchEnabled && cfg.LeaseDuration < 2*cfg.SendTimeout {
		log.Printf("sendlaterd: WARNING: LEASE_DURATION=%s is less than twice SEND_TIMEOUT=%s; duplicate deliveries become more likely",
			cfg.LeaseDurationStr, cfg.SendTimeoutStr)
	}

	if cfg.DispatchEnabled && cfg.DispatcherWorkers > cfg.BatchSize {
		log.Printf("sendlaterd: INFO: DISPATCHER_WORKERS=%d exceeds BATCH_SIZE=%d; extra workers will idle",
			cfg.DispatcherWorkers, cfg.BatchSize)
	}

	if !cfg.MetricsEnabled {
		log.Println("sendlaterd: INFO: METRICS_ENABLED=false; dispatch delay and failure rates will not be observable")
	}
}
