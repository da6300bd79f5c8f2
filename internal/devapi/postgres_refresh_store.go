package devapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const refreshTokensSchema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
    token_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    expires_unix BIGINT NOT NULL,
    revoked_at_unix BIGINT NOT NULL DEFAULT 0,
    previous_token_id TEXT NOT NULL DEFAULT '',
    issued_at_unix BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens (user_id);
`

// BuildPool creates a pgx pool with small defaults suited to a dev API.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("refresh_store.pgx.pool: %w", errEmptyDatabaseURL)
	}
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("refresh_store.pgx.pool: %w", err)
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConns = 8
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// EnsureRefreshTokenSchema creates the refresh token table if it does not exist.
func EnsureRefreshTokenSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, refreshTokensSchema); err != nil {
		return fmt.Errorf("refresh_store.pgx.schema: %w", err)
	}
	return nil
}

// PostgresRefreshTokenStore persists rotating refresh tokens through a pgx pool.
type PostgresRefreshTokenStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRefreshTokenStore wraps an initialized pool.
func NewPostgresRefreshTokenStore(pool *pgxpool.Pool) *PostgresRefreshTokenStore {
	return &PostgresRefreshTokenStore{pool: pool, now: time.Now}
}

// Issue inserts a new token row and returns token id and opaque token.
func (store *PostgresRefreshTokenStore) Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	now := store.now().UTC()
	opaque, hashValue, randomErr := generateRefreshOpaque()
	if randomErr != nil {
		return "", "", fmt.Errorf("refresh_store.issue.pgx: %w", randomErr)
	}
	tokenID := newRefreshTokenID(now) + "-" + hashValue[:8]
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_unix, revoked_at_unix, previous_token_id, issued_at_unix)
VALUES ($1, $2, $3, $4, 0, $5, $6)
`, tokenID, applicationUserID, hashValue, expiresUnix, previousTokenID, now.Unix())
	if execErr != nil {
		return "", "", fmt.Errorf("refresh_store.issue.pgx: %w", execErr)
	}
	return tokenID, opaque, nil
}

// Validate checks the opaque token and returns user, token id, and expiry.
func (store *PostgresRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if tokenOpaque == "" {
		return "", "", 0, ErrRefreshTokenEmptyOpaque
	}
	var applicationUserID string
	var tokenID string
	var expiresUnix int64
	var revokedAt int64
	row := store.pool.QueryRow(ctx, `
SELECT user_id, token_id, expires_unix, revoked_at_unix
FROM refresh_tokens
WHERE token_hash = $1
`, hashOpaque(tokenOpaque))
	if scanErr := row.Scan(&applicationUserID, &tokenID, &expiresUnix, &revokedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", "", 0, ErrRefreshTokenNotFound
		}
		return "", "", 0, fmt.Errorf("refresh_store.validate.pgx: %w", scanErr)
	}
	if revokedAt != 0 {
		return "", "", 0, ErrRefreshTokenRevoked
	}
	if time.Unix(expiresUnix, 0).Before(store.now().UTC()) {
		return "", "", 0, ErrRefreshTokenExpired
	}
	return applicationUserID, tokenID, expiresUnix, nil
}

// Revoke marks a token as revoked.
func (store *PostgresRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	commandTag, err := store.pool.Exec(ctx, `
UPDATE refresh_tokens
SET revoked_at_unix = $1
WHERE token_id = $2 AND revoked_at_unix = 0
`, store.now().UTC().Unix(), tokenID)
	if err != nil {
		return fmt.Errorf("refresh_store.revoke.pgx: %w", err)
	}
	if commandTag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if scanErr := store.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token_id = $1)`, tokenID).Scan(&exists); scanErr != nil {
		return fmt.Errorf("refresh_store.revoke.pgx: %w", scanErr)
	}
	if !exists {
		return ErrRefreshTokenNotFound
	}
	return ErrRefreshTokenAlreadyRevoked
}

// Close releases the pool.
func (store *PostgresRefreshTokenStore) Close() {
	store.pool.Close()
}
