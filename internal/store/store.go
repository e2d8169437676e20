// Package store provides durable persistence for user credentials.
//
// Each authenticated user has exactly one record keyed by the stable user ID
// from the identity provider, with a secondary unique index on the API key
// issued by this service. Records are never hard-deleted; revocation is a
// lifecycle flag so that API keys can never be re-bound to another identity.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no usable credential matches a lookup.
// Lookups by API key intentionally return ErrNotFound for both unknown and
// revoked keys so callers cannot distinguish the two cases.
var ErrNotFound = errors.New("credential not found")

// ErrAPIKeyConflict is returned by Upsert when the record's API key is
// already bound to a different user. The caller may mint a new key and
// retry.
var ErrAPIKeyConflict = errors.New("api key already in use")

// UserCredential is the durable record for one authenticated user.
type UserCredential struct {
	UserID            string
	Email             string
	APIKey            string
	AccessToken       string
	RefreshToken      string
	AccessTokenExpiry time.Time
	Scopes            []string
	Revoked           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TokenValid reports whether the stored access token is still usable at
// least margin into the future.
func (c *UserCredential) TokenValid(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && c.AccessTokenExpiry.After(now.Add(margin))
}

// Store is the credential persistence interface. All mutating operations are
// atomic with respect to a single record: a reader never observes an access
// token paired with another update's expiry.
type Store interface {
	// GetByUserID returns the record for a user, revoked or not.
	GetByUserID(ctx context.Context, userID string) (*UserCredential, error)

	// GetByAPIKey returns the non-revoked record bound to an API key.
	GetByAPIKey(ctx context.Context, apiKey string) (*UserCredential, error)

	// Upsert creates the record or replaces its token fields and API key
	// in place. An empty RefreshToken on update preserves the stored
	// refresh token; callers wanting to keep the API key pass it through.
	Upsert(ctx context.Context, cred *UserCredential) error

	// UpdateToken persists a refreshed access token and its expiry
	// atomically. An empty refreshToken preserves the stored one.
	UpdateToken(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error

	// Revoke marks the user's credential revoked. Returns ErrNotFound if
	// no record exists.
	Revoke(ctx context.Context, userID string) error

	Close() error
}
