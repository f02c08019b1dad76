package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/sendlater/sendlater/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

func baseConfig() *config.Config {
	return &config.Config{
		DispatchEnabled:   true,
		MetricsEnabled:    true,
		LeaseDurationStr:  "2m",
		LeaseDuration:     2 * time.Minute,
		SendTimeoutStr:    "30s",
		SendTimeout:       30 * time.Second,
		BatchSize:         50,
		DispatcherWorkers: 4,
	}
}

func TestLogConfigWarnings_CleanConfig(t *testing.T) {
	output := captureLogOutput(baseConfig())

	if strings.Contains(output, "WARNING") {
		t.Errorf("expected no warnings for clean config, got: %s", output)
	}
}

func TestLogConfigWarnings_ExclusiveWithoutDispatch(t *testing.T) {
	cfg := baseConfig()
	cfg.DispatchEnabled = false
	cfg.ExclusiveDispatch = true

	output := captureLogOutput(cfg)

	if !strings.Contains(output, "EXCLUSIVE_DISPATCH=true has no effect") {
		t.Errorf("expected exclusive-without-dispatch warning, got: %s", output)
	}
}

func TestLogConfigWarnings_TightLease(t *testing.T) {
	cfg := baseConfig()
	cfg.LeaseDurationStr = "45s"
	cfg.LeaseDuration = 45 * time.Second

	output := captureLogOutput(cfg)

	if !strings.Contains(output, "less than twice SEND_TIMEOUT") {
		t.Errorf("expected tight-lease warning, got: %s", output)
	}
}

func TestLogConfigWarnings_TightLeaseIgnoredWithoutDispatch(t *testing.T) {
	cfg := baseConfig()
	cfg.DispatchEnabled = false
	cfg.LeaseDurationStr = "45s"
	cfg.LeaseDuration = 45 * time.Second

	output := captureLogOutput(cfg)

	if strings.Contains(output, "less than twice SEND_TIMEOUT") {
		t.Errorf("did not expect lease warning with dispatch disabled, got: %s", output)
	}
}

func TestLogConfigWarnings_WorkersExceedBatch(t *testing.T) {
	cfg := baseConfig()
	cfg.DispatcherWorkers = 100

	output := captureLogOutput(cfg)

	if !strings.Contains(output, "extra workers will idle") {
		t.Errorf("expected workers-exceed-batch info, got: %s", output)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.MetricsEnabled = false

	output := captureLogOutput(cfg)

	if !strings.Contains(output, "METRICS_ENABLED=false") {
		t.Errorf("expected metrics-disabled info, got: %s", output)
	}
}
