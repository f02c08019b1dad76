// Package gmail implements transport.Mailer on the Gmail API.
//
// Each owner's delegated credential is a long-lived OAuth refresh token; the
// access token is minted per send by the oauth2 token source. A circuit
// breaker guards the API so a provider outage fails fast instead of burning
// every lease in the batch on timeouts.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sendlater/sendlater/internal/domain"
	"github.com/sendlater/sendlater/internal/transport"
)

// Config holds the OAuth client used for all owners.
type Config struct {
	ClientID     string
	ClientSecret string
}

// Transport sends mail through the Gmail API.
type Transport struct {
	oauth *oauth2.Config
	creds transport.CredentialSource
	cb    *gobreaker.CircuitBreaker
}

// New creates a Gmail transport resolving per-owner credentials from creds.
func New(cfg Config, creds transport.CredentialSource) *Transport {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmailapi.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	settings := gobreaker.Settings{
		Name:     "gmail-api",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("gmail: circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Permanent failures (bad recipient etc.) are the caller's
			// problem, not a provider outage; they must not trip the breaker.
			return err == nil || !domain.Retryable(err)
		},
	}

	return &Transport{
		oauth: oauthCfg,
		creds: creds,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (t *Transport) Send(ctx context.Context, ownerID uuid.UUID, payload domain.MessagePayload) (transport.SendResult, error) {
	refreshToken, err := t.creds.RefreshToken(ctx, ownerID)
	if err != nil {
		// A missing credential can never succeed on retry; a lookup failure can.
		return transport.SendResult{}, &domain.TransportError{
			Retryable: !errors.Is(err, transport.ErrNoCredential),
			Err:       fmt.Errorf("resolve credential: %w", err),
		}
	}

	src := t.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return transport.SendResult{}, &domain.TransportError{
			Retryable: true,
			Err:       fmt.Errorf("gmail service: %w", err),
		}
	}

	msg := &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildRawMessage(payload))),
	}

	sent, err := t.cb.Execute(func() (interface{}, error) {
		res, apiErr := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		if apiErr != nil {
			return nil, classify(apiErr)
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return transport.SendResult{}, &domain.TransportError{Retryable: true, Err: err}
		}
		return transport.SendResult{}, err
	}

	return transport.SendResult{ProviderMessageID: sent.(*gmailapi.Message).Id}, nil
}

// classify maps a Gmail API error to the transport error taxonomy. Rate
// limits and server errors may succeed if repeated; other API rejections
// (invalid recipient, revoked grant) will not. Anything that is not a
// googleapi.Error is a network-level failure and therefore retryable.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.Code == 429 || apiErr.Code >= 500
		return &domain.TransportError{Retryable: retryable, Err: err}
	}
	return &domain.TransportError{Retryable: true, Err: err}
}

// buildRawMessage assembles the RFC 822 message the Gmail API expects.
func buildRawMessage(p domain.MessagePayload) string {
	var b strings.Builder

	b.WriteString("To: " + p.To + "\r\n")
	if p.Cc != "" {
		b.WriteString("Cc: " + p.Cc + "\r\n")
	}
	if p.Bcc != "" {
		b.WriteString("Bcc: " + p.Bcc + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", p.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(p.Body)

	return b.String()
}

var _ transport.Mailer = (*Transport)(nil)
