package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/transport"
)

// CredentialStore reads and writes per-owner mail credentials. The OAuth
// exchange that produces the refresh token happens outside this service.
type CredentialStore struct {
	db        *sql.DB
	opTimeout time.Duration
}

// NewCredentialStore creates a credential store sharing the job store's pool.
func NewCredentialStore(db *sql.DB, opTimeout time.Duration) *CredentialStore {
	return &CredentialStore{db: db, opTimeout: opTimeout}
}

// RefreshToken returns the owner's delegated mail credential.
func (c *CredentialStore) RefreshToken(ctx context.Context, ownerID uuid.UUID) (string, error) {
	if c.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
	}

	var token string
	err := c.db.QueryRowContext(ctx, queryGetRefreshToken, ownerID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("owner %s: %w", ownerID, transport.ErrNoCredential)
	}
	if err != nil {
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	return token, nil
}

// SetRefreshToken stores or replaces the owner's credential.
func (c *CredentialStore) SetRefreshToken(ctx context.Context, ownerID uuid.UUID, token string) error {
	if c.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
	}

	_, err := c.db.ExecContext(ctx, queryUpsertRefreshToken, ownerID, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert refresh token: %w", err)
	}
	return nil
}
