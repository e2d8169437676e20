package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_credentials (
	user_id             TEXT PRIMARY KEY,
	email               TEXT NOT NULL,
	api_key             TEXT NOT NULL UNIQUE,
	access_token        TEXT NOT NULL,
	refresh_token       TEXT NOT NULL DEFAULT '',
	access_token_expiry INTEGER NOT NULL,
	scopes              TEXT NOT NULL DEFAULT '[]',
	revoked             INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_user_credentials_api_key ON user_credentials(api_key);
`

// SQLiteStore is the SQLite-backed credential store. SQLite serializes
// writers per database, and every mutation here is a single statement or
// transaction, which gives the per-record atomicity the rest of the service
// relies on.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// Open opens (and if necessary initializes) a SQLite store at path.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func encodeScopes(scopes []string) (string, error) {
	if len(scopes) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(scopes)
	if err != nil {
		return "", fmt.Errorf("marshal scopes: %w", err)
	}
	return string(encoded), nil
}

func decodeScopes(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "[]" {
		return nil, nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(value), &scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return scopes, nil
}

const credentialColumns = `user_id, email, api_key, access_token, refresh_token, access_token_expiry, scopes, revoked, created_at, updated_at`

// GetByUserID returns the record for a user, revoked or not.
func (s *SQLiteStore) GetByUserID(ctx context.Context, userID string) (*UserCredential, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+credentialColumns+`
FROM user_credentials
WHERE user_id = ?
`, userID)

	cred, err := scanCredential(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential by user id: %w", err)
	}
	return cred, nil
}

// GetByAPIKey returns the non-revoked record bound to an API key. Unknown
// and revoked keys both yield ErrNotFound.
func (s *SQLiteStore) GetByAPIKey(ctx context.Context, apiKey string) (*UserCredential, error) {
	if apiKey == "" {
		return nil, ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+credentialColumns+`
FROM user_credentials
WHERE api_key = ? AND revoked = 0
`, apiKey)

	cred, err := scanCredential(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential by api key: %w", err)
	}
	return cred, nil
}

// Upsert creates the record or replaces its fields in place. The api_key is
// written through so the caller decides whether a returning user keeps the
// old key; created_at survives updates. An empty refresh token in cred
// preserves the stored refresh token so re-consent responses that omit it
// never wipe the only refresh path.
func (s *SQLiteStore) Upsert(ctx context.Context, cred *UserCredential) error {
	if cred == nil || strings.TrimSpace(cred.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if cred.APIKey == "" {
		return fmt.Errorf("api key is required")
	}

	scopes, err := encodeScopes(cred.Scopes)
	if err != nil {
		return err
	}

	now := toMillis(time.Now())
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO user_credentials (`+credentialColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	email               = excluded.email,
	api_key             = excluded.api_key,
	access_token        = excluded.access_token,
	refresh_token       = CASE WHEN excluded.refresh_token = '' THEN user_credentials.refresh_token ELSE excluded.refresh_token END,
	access_token_expiry = excluded.access_token_expiry,
	scopes              = excluded.scopes,
	revoked             = 0,
	updated_at          = excluded.updated_at
`,
		cred.UserID,
		cred.Email,
		cred.APIKey,
		cred.AccessToken,
		cred.RefreshToken,
		toMillis(cred.AccessTokenExpiry),
		scopes,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrAPIKeyConflict, err)
		}
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// UpdateToken persists a refreshed access token and its expiry in one
// statement so no reader can observe a token paired with a stale expiry.
func (s *SQLiteStore) UpdateToken(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE user_credentials
SET access_token        = ?,
    refresh_token       = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
    access_token_expiry = ?,
    updated_at          = ?
WHERE user_id = ?
`, accessToken, refreshToken, refreshToken, toMillis(expiry), toMillis(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke marks the credential revoked. The row and its api_key are retained
// for audit history and to keep the key permanently burned.
func (s *SQLiteStore) Revoke(ctx context.Context, userID string) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE user_credentials
SET revoked = 1, updated_at = ?
WHERE user_id = ?
`, toMillis(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanCredential(row *sql.Row) (*UserCredential, error) {
	var (
		cred      UserCredential
		scopesRaw string
		expiry    int64
		revoked   int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&cred.UserID,
		&cred.Email,
		&cred.APIKey,
		&cred.AccessToken,
		&cred.RefreshToken,
		&expiry,
		&scopesRaw,
		&revoked,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	scopes, err := decodeScopes(scopesRaw)
	if err != nil {
		return nil, err
	}
	cred.Scopes = scopes
	cred.AccessTokenExpiry = fromMillis(expiry)
	cred.Revoked = revoked != 0
	cred.CreatedAt = fromMillis(createdAt)
	cred.UpdatedAt = fromMillis(updatedAt)
	return &cred, nil
}
