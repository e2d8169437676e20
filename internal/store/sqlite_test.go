package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCredential(userID, apiKey string) *UserCredential {
	return &UserCredential{
		UserID:            userID,
		Email:             "user@example.com",
		APIKey:            apiKey,
		AccessToken:       "access-1",
		RefreshToken:      "refresh-1",
		AccessTokenExpiry: time.Now().Add(time.Hour),
		Scopes:            []string{"https://www.googleapis.com/auth/webmasters"},
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testCredential("user-1", "key-1")))

	byID, err := s.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", byID.APIKey)
	assert.Equal(t, "access-1", byID.AccessToken)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/webmasters"}, byID.Scopes)
	assert.False(t, byID.Revoked)

	byKey, err := s.GetByAPIKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byKey.UserID)
}

func TestSQLiteStore_GetUnknown(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetByUserID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByAPIKey(ctx, "not-a-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpsertPreservesKeyAndRefreshToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testCredential("user-1", "key-1")))

	// Re-login: Google omits the refresh token on re-consent, and the
	// caller passes the existing API key through.
	relogin := testCredential("user-1", "key-1")
	relogin.AccessToken = "access-2"
	relogin.RefreshToken = ""
	require.NoError(t, s.Upsert(ctx, relogin))

	cred, err := s.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", cred.APIKey)
	assert.Equal(t, "access-2", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken, "empty refresh token must not overwrite the stored one")
}

func TestSQLiteStore_APIKeyUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testCredential("user-1", "key-1")))

	err := s.Upsert(ctx, testCredential("user-2", "key-1"))
	assert.ErrorIs(t, err, ErrAPIKeyConflict)
}

func TestSQLiteStore_UpdateToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testCredential("user-1", "key-1")))

	newExpiry := time.Now().Add(30 * time.Minute).Truncate(time.Millisecond).UTC()
	require.NoError(t, s.UpdateToken(ctx, "user-1", "access-2", "", newExpiry))

	cred, err := s.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.Equal(t, newExpiry, cred.AccessTokenExpiry)

	require.NoError(t, s.UpdateToken(ctx, "user-1", "access-3", "refresh-2", newExpiry))
	cred, err = s.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", cred.RefreshToken)

	assert.ErrorIs(t, s.UpdateToken(ctx, "ghost", "a", "", newExpiry), ErrNotFound)
}

func TestSQLiteStore_Revoke(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testCredential("user-1", "key-1")))
	require.NoError(t, s.Revoke(ctx, "user-1"))

	// Revoked keys look exactly like unknown keys.
	_, err := s.GetByAPIKey(ctx, "key-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The record itself survives for audit lookups.
	cred, err := s.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, cred.Revoked)

	assert.ErrorIs(t, s.Revoke(ctx, "ghost"), ErrNotFound)
}

func TestSQLiteStore_ConcurrentTokenUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testCredential("user-1", "key-1")))

	// Writers race; every observed record must pair a token with the
	// expiry persisted alongside it.
	expiries := make(map[string]time.Time)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		token := "access-" + string(rune('a'+i))
		expiry := time.Now().Add(time.Duration(i+1) * time.Minute).Truncate(time.Millisecond).UTC()
		mu.Lock()
		expiries[token] = expiry
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.UpdateToken(ctx, "user-1", token, "", expiry))
		}()
	}
	wg.Wait()

	cred, err := s.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	want, ok := expiries[cred.AccessToken]
	require.True(t, ok, "unexpected token %q", cred.AccessToken)
	assert.Equal(t, want, cred.AccessTokenExpiry, "token and expiry must come from the same update")
}

func TestTokenValid(t *testing.T) {
	now := time.Now()
	cred := &UserCredential{AccessToken: "tok", AccessTokenExpiry: now.Add(2 * time.Minute)}

	assert.True(t, cred.TokenValid(now, time.Minute))
	assert.False(t, cred.TokenValid(now, 3*time.Minute))

	cred.AccessToken = ""
	assert.False(t, cred.TokenValid(now, 0))
}
