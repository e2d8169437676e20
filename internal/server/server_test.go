package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/gsc-mcp/internal/auth"
	"github.com/teemow/gsc-mcp/internal/config"
	"github.com/teemow/gsc-mcp/internal/store"
)

type stubProvider struct {
	token    *oauth2.Token
	identity *auth.Identity
}

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (p *stubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.token, nil
}

func (p *stubProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.token, nil
}

func (p *stubProvider) Identity(ctx context.Context, token *oauth2.Token) (*auth.Identity, error) {
	return p.identity, nil
}

type testServer struct {
	server *Server
	states *auth.StateStore
	store  store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	states := auth.NewStateStore(time.Minute, slog.Default())
	t.Cleanup(states.Stop)

	provider := &stubProvider{
		token: (&oauth2.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			Expiry:       time.Now().Add(time.Hour),
		}).WithExtra(map[string]interface{}{
			"scope": "https://www.googleapis.com/auth/webmasters openid",
		}),
		identity: &auth.Identity{ID: "google-sub-1", Email: "user@example.com"},
	}
	flow := auth.NewFlowController(provider, states, st, slog.Default())

	cfg := &config.Config{
		BaseURL:  "http://localhost:8000",
		HTTPAddr: ":8000",
	}
	srv, err := New(Options{
		Config:  cfg,
		Store:   st,
		Flow:    flow,
		Logger:  slog.Default(),
		Version: "test",
	})
	require.NoError(t, err)

	return &testServer{server: srv, states: states, store: st}
}

func (ts *testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	ts.server.routes().ServeHTTP(rec, req)
	return rec
}

// login runs the OAuth callback and returns the minted API key.
func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	ts.states.Put("state-1")
	rec := ts.do(t, http.MethodGet, "/oauth/callback?code=code-1&state=state-1")
	require.Equal(t, http.StatusOK, rec.Code)

	cred, err := ts.store.GetByUserID(context.Background(), "google-sub-1")
	require.NoError(t, err)
	return cred.APIKey
}

func TestHome(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in with Google")
}

func TestLoginRedirect(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/oauth/login")
	require.Equal(t, http.StatusFound, rec.Code)

	location := rec.Header().Get("Location")
	assert.Contains(t, location, "https://accounts.example.com/auth?state=")
}

func TestCallback_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.states.Put("state-1")

	rec := ts.do(t, http.MethodGet, "/oauth/callback?code=code-1&state=state-1")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Authentication Successful")
	assert.Contains(t, body, "user@example.com")
	assert.Contains(t, body, "gsc_")
	// The streaming URL embeds the key.
	assert.Contains(t, body, "http://localhost:8000/mcp/gsc_")
}

func TestCallback_InvalidState(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/oauth/callback?code=code-1&state=never-issued")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid State")
}

func TestCallback_ProviderError(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/oauth/callback?error=access_denied")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	key := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/status/"+key)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Authenticated)
	assert.Equal(t, "user@example.com", status.Email)
	assert.True(t, status.TokenValid)
}

func TestStatus_UnknownKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/status/gsc_unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevoke(t *testing.T) {
	ts := newTestServer(t)
	key := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/oauth/revoke/"+key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "revoked")

	// The revoked key is indistinguishable from an unknown one.
	rec = ts.do(t, http.MethodGet, "/api/status/"+key)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/oauth/revoke/"+key)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreaming_RejectsInvalidKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/mcp/gsc_bogus/sse")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_api_key")

	rec = ts.do(t, http.MethodPost, "/mcp/gsc_bogus/message")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAPIKey_InjectsUser(t *testing.T) {
	ts := newTestServer(t)
	key := ts.login(t)

	var gotUserID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mux := http.NewServeMux()
	mux.Handle("GET /mcp/{key}/sse", ts.server.requireAPIKey(inner))

	req := httptest.NewRequest(http.MethodGet, "/mcp/"+key+"/sse", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "google-sub-1", gotUserID)
}

type stubResolver struct {
	token string
	err   error
}

func (r *stubResolver) ResolveValidToken(ctx context.Context, userID string) (string, error) {
	return r.token, r.err
}

func TestStreaming_DeadGrantRejectedAtConnect(t *testing.T) {
	ts := newTestServer(t)
	key := ts.login(t)

	ts.server.tokens = &stubResolver{err: auth.ErrReauthRequired}
	rec := ts.do(t, http.MethodGet, "/mcp/"+key+"/sse")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "reauth_required")
	assert.Contains(t, rec.Body.String(), "/oauth/login")

	ts.server.tokens = &stubResolver{err: auth.ErrProviderUnavailable}
	rec = ts.do(t, http.MethodGet, "/mcp/"+key+"/sse")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_unavailable")
}

func TestEnsureFreshToken_AllowsLiveGrant(t *testing.T) {
	ts := newTestServer(t)
	ts.server.tokens = &stubResolver{token: "access-1"}

	reached := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/mcp/key/sse", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "google-sub-1"))
	rec := httptest.NewRecorder()
	ts.server.ensureFreshToken(inner).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reached)
}

func TestSSEContextFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/mcp/key/sse", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "google-sub-1"))

	ctx := sseContextFunc(context.Background(), req)
	userID, ok := auth.UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "google-sub-1", userID)

	// Without an authenticated request the context stays unchanged.
	ctx = sseContextFunc(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	_, ok = auth.UserIDFromContext(ctx)
	assert.False(t, ok)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	ts.server.health.SetShuttingDown()
	rec = ts.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
