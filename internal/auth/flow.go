package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/gsc-mcp/internal/logging"
	"github.com/teemow/gsc-mcp/internal/store"
)

// maxKeyMints bounds how often a callback re-mints an API key that turned
// out to collide with an existing one.
const maxKeyMints = 3

// FlowController drives the browser-facing OAuth flow: issuing redirects,
// validating callbacks, and minting or re-issuing API keys.
type FlowController struct {
	provider Provider
	states   *StateStore
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
}

// CallbackResult is what a successful callback yields: the durable API key
// to show the user, plus whether this login created the account.
type CallbackResult struct {
	UserID  string
	Email   string
	APIKey  string
	NewUser bool
}

// NewFlowController wires the flow against a provider, a state store, and
// the credential store.
func NewFlowController(provider Provider, states *StateStore, st store.Store, logger *slog.Logger) *FlowController {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowController{
		provider: provider,
		states:   states,
		store:    st,
		logger:   logger.With(logging.KeyComponent, "auth-flow"),
		now:      time.Now,
	}
}

// BeginLogin registers a fresh state nonce and returns the provider redirect
// URL for it.
func (f *FlowController) BeginLogin() (string, error) {
	state, err := NewStateNonce()
	if err != nil {
		return "", err
	}
	f.states.Put(state)

	f.logger.Debug("login started", logging.KeyOperation, "begin_login")
	return f.provider.AuthCodeURL(state), nil
}

// HandleCallback validates the OAuth callback and persists the resulting
// credential. The state is consumed before anything else, so a failed
// exchange still burns it. Returning users keep their API key; a callback
// without a refresh token keeps the stored one.
func (f *FlowController) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	if !f.states.Consume(state) {
		return nil, ErrInvalidState
	}
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrProviderExchange)
	}

	token, err := f.provider.Exchange(ctx, code)
	if err != nil {
		f.logger.Warn("code exchange failed",
			logging.KeyOperation, "callback",
			logging.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderExchange, err)
	}

	if granted := GrantedScopes(token); len(granted) > 0 && !HasScope(granted, RequiredScope) {
		return nil, fmt.Errorf("%w: %s not granted", ErrScopeMissing, RequiredScope)
	}

	identity, err := f.provider.Identity(ctx, token)
	if err != nil {
		f.logger.Warn("identity resolution failed",
			logging.KeyOperation, "callback",
			logging.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderExchange, err)
	}

	existing, err := f.store.GetByUserID(ctx, identity.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	// Returning users keep their key. A revoked account gets a fresh one
	// so the revoked key can never come back to life.
	newUser := existing == nil
	apiKey := ""
	if existing != nil && !existing.Revoked {
		apiKey = existing.APIKey
	} else {
		apiKey, err = NewAPIKey()
		if err != nil {
			return nil, err
		}
	}

	cred := &store.UserCredential{
		UserID:            identity.ID,
		Email:             identity.Email,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		AccessTokenExpiry: token.Expiry,
		Scopes:            GrantedScopes(token),
	}
	// A key conflict means another user's row already holds this key; mint
	// a fresh one a bounded number of times before failing the login.
	for attempt := 1; ; attempt++ {
		cred.APIKey = apiKey
		err = f.store.Upsert(ctx, cred)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrAPIKeyConflict) || attempt >= maxKeyMints {
			return nil, fmt.Errorf("persist credential: %w", err)
		}
		apiKey, err = NewAPIKey()
		if err != nil {
			return nil, err
		}
	}

	f.logger.Info("login completed",
		logging.KeyOperation, "callback",
		logging.UserHash(identity.ID),
		"new_user", newUser)

	return &CallbackResult{
		UserID:  identity.ID,
		Email:   identity.Email,
		APIKey:  apiKey,
		NewUser: newUser,
	}, nil
}

// Revoke invalidates a user's API key and stored tokens. Subsequent
// streaming connections with the old key fail; a new login issues a new key.
func (f *FlowController) Revoke(ctx context.Context, userID string) error {
	if err := f.store.Revoke(ctx, userID); err != nil {
		return err
	}
	f.logger.Info("access revoked",
		logging.KeyOperation, "revoke",
		logging.UserHash(userID))
	return nil
}
