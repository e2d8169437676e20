package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Scopes requested from Google. Search Console access plus the identity
// scopes needed to resolve a stable user ID at callback time, and the
// Indexing API for crawl requests.
var Scopes = []string{
	"https://www.googleapis.com/auth/webmasters",
	"https://www.googleapis.com/auth/webmasters.readonly",
	"https://www.googleapis.com/auth/indexing",
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
}

// RequiredScope must be present in the granted set for the service to be
// usable at all. Google lets users deselect scopes on the consent screen.
const RequiredScope = "https://www.googleapis.com/auth/webmasters"

// Identity is the provider-verified identity of the user who completed the
// OAuth flow. ID is Google's stable subject identifier, never the email.
type Identity struct {
	ID    string
	Email string
}

// Provider abstracts the OAuth provider so flow and refresh logic can be
// tested without network access.
type Provider interface {
	// AuthCodeURL builds the authorization redirect for a state nonce.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for tokens. Codes are
	// single-use; callers must not retry a failed exchange.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// Refresh obtains a fresh access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// Identity resolves the authenticated user behind a token via the
	// provider's userinfo endpoint.
	Identity(ctx context.Context, token *oauth2.Token) (*Identity, error)
}

// GoogleProvider implements Provider against Google's OAuth endpoints.
type GoogleProvider struct {
	cfg *oauth2.Config
}

// NewGoogleProvider builds a provider for the given client credentials and
// redirect URI.
func NewGoogleProvider(clientID, clientSecret, redirectURI string) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthCodeURL requests offline access so Google issues a refresh token on
// first consent. Re-consent may omit the refresh token; the store preserves
// the previous one in that case.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return token, nil
}

func (g *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	return token, nil
}

func (g *GoogleProvider) Identity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	svc, err := googleoauth2.NewService(ctx,
		option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("create userinfo client: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	if info.Id == "" {
		return nil, errors.New("userinfo response missing subject id")
	}
	return &Identity{ID: info.Id, Email: info.Email}, nil
}

// IsInvalidGrant reports whether err is the provider telling us the refresh
// token is permanently dead. Anything else is treated as transient.
func IsInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	// Older token endpoints omit the structured error field.
	return strings.Contains(string(retrieveErr.Body), "invalid_grant")
}

// HasScope reports whether the granted scope set includes want. Google
// returns granted scopes space-separated in the token response.
func HasScope(granted []string, want string) bool {
	for _, s := range granted {
		for _, part := range strings.Fields(s) {
			if part == want {
				return true
			}
		}
	}
	return false
}

// GrantedScopes extracts the scope list from a token response. The "scope"
// extra field is a single space-separated string.
func GrantedScopes(token *oauth2.Token) []string {
	raw, _ := token.Extra("scope").(string)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}
