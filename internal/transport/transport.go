// Package transport defines the mail delivery boundary of the engine.
package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/domain"
)

// ErrNoCredential is returned by a CredentialSource when the owner has no
// delegated mail credential on record. Unlike an infrastructure failure,
// retrying cannot fix it.
var ErrNoCredential = errors.New("no mail credential for owner")

// SendResult is returned by a transport on successful delivery.
type SendResult struct {
	ProviderMessageID string
}

// Mailer sends a fully-formed message on behalf of an owner. Failures should
// be reported as *domain.TransportError so the dispatcher can distinguish
// retryable from permanent ones; any other error is treated as retryable.
//
// Implementations must honor ctx cancellation, but a send abandoned on
// timeout may still complete at the provider. The lease protocol's
// at-least-once contract covers that case.
type Mailer interface {
	Send(ctx context.Context, ownerID uuid.UUID, payload domain.MessagePayload) (SendResult, error)
}

// CredentialSource resolves an owner to their delegated mail credential.
// A missing credential is reported as ErrNoCredential.
type CredentialSource interface {
	RefreshToken(ctx context.Context, ownerID uuid.UUID) (string, error)
}
