package auth

import "errors"

// Error taxonomy for the authentication core. Every failure surfaced to an
// HTTP handler or a tool maps onto one of these sentinels so callers get a
// stable classification instead of provider-specific strings.
var (
	// ErrInvalidState means the callback state did not match an unexpired,
	// unconsumed pending login. The user must restart the login flow.
	ErrInvalidState = errors.New("invalid_state")

	// ErrProviderExchange means the provider rejected the code exchange.
	// Codes are single-use; the exchange is never retried.
	ErrProviderExchange = errors.New("provider_error")

	// ErrInvalidAPIKey means the presented API key is unknown or revoked.
	// The two cases are deliberately indistinguishable.
	ErrInvalidAPIKey = errors.New("invalid_api_key")

	// ErrReauthRequired means the stored refresh token is dead
	// (invalid_grant). Retrying cannot help; the user must log in again.
	ErrReauthRequired = errors.New("reauth_required")

	// ErrProviderUnavailable means a transient provider failure. The
	// stored credential is untouched and the caller may retry with
	// backoff.
	ErrProviderUnavailable = errors.New("provider_unavailable")

	// ErrScopeMissing means the provider granted fewer scopes than the
	// service needs to operate on the user's behalf.
	ErrScopeMissing = errors.New("insufficient_scope")
)
