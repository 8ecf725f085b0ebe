package api

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

const pgIdempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key          TEXT PRIMARY KEY,
	status_code  INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	body         BYTEA NOT NULL,
	cached_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_idempotency_cached_at ON idempotency_keys (cached_at);
`

// PostgresIdempotencyStore provides durable idempotency enforcement backed
// by PostgreSQL. Unlike MemoryIdempotencyStore it survives process restarts,
// so a proposal retried across a deploy still replays instead of creating a
// second intent.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresIdempotencyStore creates a PostgreSQL-backed idempotency store.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db, ttl: ttl}
}

// Migrate creates the idempotency table.
func (s *PostgresIdempotencyStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgIdempotencySchema)
	return err
}

// Check returns a cached response if the key was seen and is within TTL.
func (s *PostgresIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var statusCode int
	var contentType string
	var body []byte
	var cachedAt time.Time

	err := s.db.QueryRow(
		`SELECT status_code, content_type, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &contentType, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		// Expired. Delete and report a miss.
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	return &cachedResponse{
		StatusCode:  statusCode,
		ContentType: contentType,
		Body:        body,
		CachedAt:    cachedAt,
	}, true
}

// Set stores an idempotency key and its response. Failures are logged, not
// returned: replay is best-effort enrichment, the response already went out.
func (s *PostgresIdempotencyStore) Set(key string, statusCode int, contentType string, body []byte) {
	_, err := s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, content_type, body, cached_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, content_type = $3, body = $4, cached_at = NOW()`,
		key, statusCode, contentType, body,
	)
	if err != nil {
		slog.Warn("api: idempotency key store failed", "key", key, "error", err)
	}
}

// Cleanup removes keys older than the TTL.
func (s *PostgresIdempotencyStore) Cleanup() {
	if _, err := s.db.Exec(
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().Add(-s.ttl),
	); err != nil {
		slog.Warn("api: idempotency cleanup failed", "error", err)
	}
}
