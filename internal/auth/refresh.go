package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teemow/gsc-mcp/internal/logging"
	"github.com/teemow/gsc-mcp/internal/store"
)

const (
	// refreshMargin is how close to expiry a token may get before it is
	// refreshed proactively. Covers clock skew and request latency.
	refreshMargin = 60 * time.Second

	refreshMaxAttempts = 3
	refreshBackoffBase = 500 * time.Millisecond
)

// RefreshManager hands out valid access tokens, refreshing them against the
// provider when needed. Concurrent callers for the same user share a single
// refresh via singleflight; the winner persists the new token and everyone
// gets the same result.
type RefreshManager struct {
	store    store.Store
	provider Provider
	group    singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
	margin   time.Duration
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	// OnRefresh, if set, observes the outcome of every provider refresh
	// flight. Fast-path hits are not reported.
	OnRefresh func(err error)
}

// NewRefreshManager wires the manager against the credential store and the
// OAuth provider.
func NewRefreshManager(st store.Store, provider Provider, logger *slog.Logger) *RefreshManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshManager{
		store:    st,
		provider: provider,
		logger:   logger.With(logging.KeyComponent, "refresh"),
		now:      time.Now,
		margin:   refreshMargin,
		attempts: refreshMaxAttempts,
		backoff:  refreshBackoffBase,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveValidToken returns an access token guaranteed to be valid for at
// least the refresh margin. It never returns a token it knows to be expired.
//
// Failure classification: a dead refresh token revokes the credential and
// returns ErrReauthRequired; transient provider failures leave the stored
// credential untouched and return ErrProviderUnavailable after bounded
// retries.
func (m *RefreshManager) ResolveValidToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.store.GetByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred.Revoked {
		return "", ErrReauthRequired
	}
	if cred.TokenValid(m.now(), m.margin) {
		return cred.AccessToken, nil
	}

	token, err, _ := m.group.Do(userID, func() (interface{}, error) {
		// The flight is shared: waiters joined from other connections must
		// not fail because the caller that started it hung up.
		refreshed, refreshErr := m.refresh(context.WithoutCancel(ctx), userID)
		if m.OnRefresh != nil {
			m.OnRefresh(refreshErr)
		}
		return refreshed, refreshErr
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *RefreshManager) refresh(ctx context.Context, userID string) (string, error) {
	// Re-read inside the flight: a refresh that completed while we waited
	// on the lock already persisted a fresh token.
	cred, err := m.store.GetByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred.Revoked {
		return "", ErrReauthRequired
	}
	if cred.TokenValid(m.now(), m.margin) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token on record", ErrReauthRequired)
	}

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		token, err := m.provider.Refresh(ctx, cred.RefreshToken)
		if err == nil {
			if err := m.store.UpdateToken(ctx, userID, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
				return "", fmt.Errorf("persist refreshed token: %w", err)
			}
			m.logger.Debug("token refreshed",
				logging.KeyOperation, "refresh",
				logging.UserHash(userID),
				"attempt", attempt)
			return token.AccessToken, nil
		}

		if IsInvalidGrant(err) {
			// The provider will never honor this refresh token again.
			if revokeErr := m.store.Revoke(ctx, userID); revokeErr != nil && !errors.Is(revokeErr, store.ErrNotFound) {
				m.logger.Error("revoking dead credential failed",
					logging.UserHash(userID),
					logging.Err(revokeErr))
			}
			m.logger.Warn("refresh token rejected, re-auth required",
				logging.KeyOperation, "refresh",
				logging.UserHash(userID))
			return "", fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}

		lastErr = err
		m.logger.Warn("token refresh attempt failed",
			logging.KeyOperation, "refresh",
			logging.UserHash(userID),
			"attempt", attempt,
			logging.Err(err))

		if attempt < m.attempts {
			if err := m.sleep(ctx, m.backoff<<(attempt-1)); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}
