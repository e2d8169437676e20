package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/gsc-mcp/internal/store"
)

type countingProvider struct {
	fakeProvider
	mu    sync.Mutex
	calls int
	fn    func(call int) (*oauth2.Token, error)
}

func (p *countingProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.fn(call)
}

func (p *countingProvider) refreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestRefreshManager(t *testing.T, provider Provider) (*RefreshManager, store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := NewRefreshManager(st, provider, slog.Default())
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m, st
}

func seedCredential(t *testing.T, st store.Store, expiry time.Time) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), &store.UserCredential{
		UserID:            "user-1",
		APIKey:            "gsc_test-key",
		AccessToken:       "access-old",
		RefreshToken:      "refresh-1",
		AccessTokenExpiry: expiry,
	}))
}

func invalidGrantError() error {
	return &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: http.StatusBadRequest},
		ErrorCode: "invalid_grant",
	}
}

func TestRefresh_FastPath(t *testing.T) {
	provider := &countingProvider{fn: func(int) (*oauth2.Token, error) {
		return nil, errors.New("must not be called")
	}}
	m, st := newTestRefreshManager(t, provider)
	seedCredential(t, st, time.Now().Add(time.Hour))

	token, err := m.ResolveValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-old", token)
	assert.Equal(t, 0, provider.refreshCalls())
}

func TestRefresh_ExpiredToken(t *testing.T) {
	provider := &countingProvider{fn: func(int) (*oauth2.Token, error) {
		return &oauth2.Token{
			AccessToken: "access-new",
			Expiry:      time.Now().Add(time.Hour),
		}, nil
	}}
	m, st := newTestRefreshManager(t, provider)
	seedCredential(t, st, time.Now().Add(-time.Minute))

	token, err := m.ResolveValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-new", token)

	// The refreshed token was persisted, refresh token untouched.
	cred, err := st.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-new", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
}

func TestRefresh_WithinMargin(t *testing.T) {
	provider := &countingProvider{fn: func(int) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "access-new", Expiry: time.Now().Add(time.Hour)}, nil
	}}
	m, st := newTestRefreshManager(t, provider)

	// Valid for 30s, inside the 60s margin: must refresh anyway.
	seedCredential(t, st, time.Now().Add(30*time.Second))

	token, err := m.ResolveValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-new", token)
	assert.Equal(t, 1, provider.refreshCalls())
}

func TestRefresh_InvalidGrantRevokes(t *testing.T) {
	provider := &countingProvider{fn: func(int) (*oauth2.Token, error) {
		return nil, invalidGrantError()
	}}
	m, st := newTestRefreshManager(t, provider)
	seedCredential(t, st, time.Now().Add(-time.Minute))

	_, err := m.ResolveValidToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, 1, provider.refreshCalls(), "invalid_grant must not be retried")

	cred, err := st.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, cred.Revoked)

	// The revoked credential short-circuits later calls.
	_, err = m.ResolveValidToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, 1, provider.refreshCalls())
}

func TestRefresh_TransientFailureRetriesThenFails(t *testing.T) {
	provider := &countingProvider{fn: func(int) (*oauth2.Token, error) {
		return nil, errors.New("503 service unavailable")
	}}
	m, st := newTestRefreshManager(t, provider)
	seedCredential(t, st, time.Now().Add(-time.Minute))

	_, err := m.ResolveValidToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, refreshMaxAttempts, provider.refreshCalls())

	// Transient failures leave the stored credential untouched.
	cred, getErr := st.GetByUserID(context.Background(), "user-1")
	require.NoError(t, getErr)
	assert.False(t, cred.Revoked)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
}

func TestRefresh_TransientThenSuccess(t *testing.T) {
	provider := &countingProvider{fn: func(call int) (*oauth2.Token, error) {
		if call == 1 {
			return nil, errors.New("connection reset")
		}
		return &oauth2.Token{AccessToken: "access-new", Expiry: time.Now().Add(time.Hour)}, nil
	}}
	m, st := newTestRefreshManager(t, provider)
	seedCredential(t, st, time.Now().Add(-time.Minute))

	token, err := m.ResolveValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-new", token)
	assert.Equal(t, 2, provider.refreshCalls())
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	m, st := newTestRefreshManager(t, &countingProvider{fn: func(int) (*oauth2.Token, error) {
		return nil, errors.New("must not be called")
	}})
	require.NoError(t, st.Upsert(context.Background(), &store.UserCredential{
		UserID:            "user-1",
		APIKey:            "gsc_test-key",
		AccessToken:       "access-old",
		AccessTokenExpiry: time.Now().Add(-time.Minute),
	}))

	_, err := m.ResolveValidToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestRefresh_ConcurrentCallersShareOneRefresh(t *testing.T) {
	var inflight atomic.Int32
	release := make(chan struct{})
	provider := &countingProvider{fn: func(int) (*oauth2.Token, error) {
		inflight.Add(1)
		<-release
		return &oauth2.Token{AccessToken: "access-new", Expiry: time.Now().Add(time.Hour)}, nil
	}}
	m, st := newTestRefreshManager(t, provider)
	seedCredential(t, st, time.Now().Add(-time.Minute))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.ResolveValidToken(context.Background(), "user-1")
		}(i)
	}

	// Let callers pile up behind the single flight, then release it.
	for inflight.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-new", results[i])
	}
	// Stragglers that missed the flight hit the re-read fast path instead
	// of triggering another provider call.
	assert.LessOrEqual(t, provider.refreshCalls(), 2)
}

// gateProvider blocks inside Refresh until released and honors context
// cancellation while waiting.
type gateProvider struct {
	fakeProvider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (p *gateProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	p.calls.Add(1)
	p.once.Do(func() { close(p.entered) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.release:
		return &oauth2.Token{AccessToken: "access-new", Expiry: time.Now().Add(time.Hour)}, nil
	}
}

func TestRefresh_WinnerCancelDoesNotPoisonFlight(t *testing.T) {
	provider := &gateProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m, st := newTestRefreshManager(t, provider)
	seedCredential(t, st, time.Now().Add(-time.Minute))

	// The first caller starts the refresh flight, then its connection dies
	// while the provider call is still in progress.
	winnerCtx, cancel := context.WithCancel(context.Background())
	winnerErr := make(chan error, 1)
	go func() {
		_, err := m.ResolveValidToken(winnerCtx, "user-1")
		winnerErr <- err
	}()
	<-provider.entered

	type outcome struct {
		token string
		err   error
	}
	waiter := make(chan outcome, 1)
	go func() {
		token, err := m.ResolveValidToken(context.Background(), "user-1")
		waiter <- outcome{token, err}
	}()

	// Give the waiter time to join the flight before the winner hangs up.
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(provider.release)

	got := <-waiter
	require.NoError(t, got.err, "a waiter with a live context must get the shared refresh result")
	assert.Equal(t, "access-new", got.token)
	assert.NoError(t, <-winnerErr)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestIsInvalidGrant(t *testing.T) {
	assert.True(t, IsInvalidGrant(invalidGrantError()))
	assert.True(t, IsInvalidGrant(&oauth2.RetrieveError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Body:     []byte(`{"error": "invalid_grant"}`),
	}))
	assert.False(t, IsInvalidGrant(errors.New("connection reset")))
	assert.False(t, IsInvalidGrant(&oauth2.RetrieveError{
		Response: &http.Response{StatusCode: http.StatusServiceUnavailable},
	}))
}
