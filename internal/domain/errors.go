package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job does not exist or belongs to another owner.
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when an expected version does not match the current
	// one, or a lease is no longer held by the caller. The caller must re-fetch
	// and re-decide; re-applying the same mutation is never safe.
	ErrConflict = errors.New("version or lease conflict")

	// ErrInvalidState is returned when an operation is not legal for the job's
	// current state, e.g. canceling a leased or terminal job.
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// ValidationError rejects malformed input synchronously; nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransportError is a failure reported by (or while reaching) the mail transport.
type TransportError struct {
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("transport (retryable): %v", e.Err)
	}
	return fmt.Sprintf("transport (permanent): %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable classifies a send failure. Errors that are not a TransportError
// (timeouts, network failures, panics surfaced as errors) are treated as
// retryable: the send may or may not have happened, and the lease protocol
// already accepts at-least-once delivery.
func Retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}
