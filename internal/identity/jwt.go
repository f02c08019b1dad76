// Package identity authenticates API callers with HS256 bearer tokens.
// The token subject is the owner UUID; every store operation is scoped to it.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is used by Sign when no expiry was configured.
const DefaultTokenTTL = 7 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

type Resolver struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewResolver(secret string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		clock:  time.Now,
	}
}

// WithTTL overrides the lifetime of signed tokens.
func (r *Resolver) WithTTL(ttl time.Duration) *Resolver {
	r.ttl = ttl
	return r
}

// WithClock replaces the resolver's clock. For tests.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// Sign issues a token for the given owner.
func (r *Resolver) Sign(ownerID uuid.UUID) (string, error) {
	now := r.clock()
	claims := jwt.MapClaims{
		"sub": ownerID.String(),
		"iat": now.Unix(),
		"exp": now.Add(r.ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(r.secret)
}

// Resolve verifies a token and returns the owner it was issued for.
func (r *Resolver) Resolve(tokenStr string) (uuid.UUID, error) {
	t, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.clock))
	if err != nil || !t.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}

	ownerID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return ownerID, nil
}
