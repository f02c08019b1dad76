package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "JWT_SECRET",
			Message: "required",
		})
	}

	errs = append(errs, validateDuration("TICK_INTERVAL", cfg.TickIntervalStr)...)
	errs = append(errs, validateDuration("LEASE_DURATION", cfg.LeaseDurationStr)...)
	errs = append(errs, validateDuration("SEND_TIMEOUT", cfg.SendTimeoutStr)...)
	errs = append(errs, validateDuration("BACKOFF_BASE", cfg.BackoffBaseStr)...)
	errs = append(errs, validateDuration("BACKOFF_MAX", cfg.BackoffMaxStr)...)

	// A lease shorter than the send timeout would hand the job to a second
	// instance while the first is still mid-send.
	if cfg.LeaseDuration > 0 && cfg.SendTimeout > 0 && cfg.LeaseDuration <= cfg.SendTimeout {
		errs = append(errs, ValidationError{
			Field:   "LEASE_DURATION",
			Message: fmt.Sprintf("must exceed SEND_TIMEOUT (%s)", cfg.SendTimeoutStr),
		})
	}

	if cfg.BackoffBase > 0 && cfg.BackoffMax > 0 && cfg.BackoffMax < cfg.BackoffBase {
		errs = append(errs, ValidationError{
			Field:   "BACKOFF_MAX",
			Message: fmt.Sprintf("must be at least BACKOFF_BASE (%s)", cfg.BackoffBaseStr),
		})
	}

	if cfg.DispatchEnabled {
		if cfg.GoogleClientID == "" {
			errs = append(errs, ValidationError{
				Field:   "GOOGLE_CLIENT_ID",
				Message: "required when dispatch is enabled",
			})
		}
		if cfg.GoogleClientSecret == "" {
			errs = append(errs, ValidationError{
				Field:   "GOOGLE_CLIENT_SECRET",
				Message: "required when dispatch is enabled",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	return nil
}
