package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresIntentStore implements IntentStore on PostgreSQL. Timestamps live
// in TIMESTAMPTZ columns and are always bound as UTC time values, so the
// engine's own time arithmetic does every comparison.
type PostgresIntentStore struct {
	db *sql.DB
}

// NewPostgresIntentStore wraps an open database handle. Call Migrate before
// first use on a fresh database.
func NewPostgresIntentStore(db *sql.DB) *PostgresIntentStore {
	return &PostgresIntentStore{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS intents (
	intent_id    TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	action_name  TEXT NOT NULL,
	arguments    JSONB NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	executing_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	result_note  TEXT
);
CREATE INDEX IF NOT EXISTS intents_session_status_idx ON intents (session_id, status);
CREATE INDEX IF NOT EXISTS intents_status_executing_at_idx ON intents (status, executing_at);`

// Migrate creates the intents table and its indexes if missing.
func (s *PostgresIntentStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("store: migrate intents: %w", err)
	}
	return nil
}

const pgInsertIntent = `INSERT INTO intents (intent_id, session_id, action_name, arguments, status, created_at, executing_at, completed_at, result_note) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (s *PostgresIntentStore) Create(ctx context.Context, it *Intent) error {
	args, err := json.Marshal(it.Arguments)
	if err != nil {
		return fmt.Errorf("store: marshal arguments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, pgInsertIntent,
		it.IntentID,
		it.SessionID,
		it.ActionName,
		args,
		string(it.Status),
		it.CreatedAt.UTC(),
		nullTime(it.ExecutingAt),
		nullTime(it.CompletedAt),
		nullString(it.ResultNote),
	)
	if err != nil {
		return fmt.Errorf("store: insert intent %s: %w", it.IntentID, err)
	}
	return nil
}

const pgSelectIntent = `SELECT intent_id, session_id, action_name, arguments, status, created_at, executing_at, completed_at, result_note FROM intents WHERE intent_id = $1`

func (s *PostgresIntentStore) Get(ctx context.Context, intentID string) (*Intent, error) {
	return scanPGIntent(s.db.QueryRowContext(ctx, pgSelectIntent, intentID))
}

func (s *PostgresIntentStore) List(ctx context.Context, f Filter) ([]*Intent, error) {
	q := `SELECT intent_id, session_id, action_name, arguments, status, created_at, executing_at, completed_at, result_note FROM intents`
	var conds []string
	var args []any
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list intents: %w", err)
	}
	defer rows.Close()
	return collectPGIntents(rows)
}

// pgTransition is the guarded conditional update every transition goes
// through. The WHERE clause carries the expected current status; zero rows
// affected means this caller lost the race (or the id is unknown).
const pgTransition = `UPDATE intents SET status = $1, executing_at = COALESCE($2, executing_at), completed_at = COALESCE($3, completed_at), result_note = COALESCE($4, result_note) WHERE intent_id = $5 AND status = $6`

const pgSelectStatus = `SELECT status FROM intents WHERE intent_id = $1`

func (s *PostgresIntentStore) transition(ctx context.Context, intentID string, from, to Status, executingAt, completedAt *time.Time, note *string) error {
	res, err := s.db.ExecContext(ctx, pgTransition,
		string(to), nullTime(executingAt), nullTime(completedAt), note, intentID, string(from))
	if err != nil {
		return fmt.Errorf("store: transition intent %s: %w", intentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: transition intent %s: %w", intentID, err)
	}
	if n == 1 {
		return nil
	}

	// Lost the guard. One read to report whether the id is unknown or the
	// status moved on; the transition itself stays a single statement.
	var cur string
	err = s.db.QueryRowContext(ctx, pgSelectStatus, intentID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read intent %s after failed transition: %w", intentID, err)
	}
	return ErrConflict
}

func (s *PostgresIntentStore) MarkPending(ctx context.Context, intentID string) error {
	return s.transition(ctx, intentID, StatusProposed, StatusPending, nil, nil, nil)
}

func (s *PostgresIntentStore) MarkExecuting(ctx context.Context, intentID string, at time.Time) error {
	t := at.UTC()
	return s.transition(ctx, intentID, StatusPending, StatusExecuting, &t, nil, nil)
}

func (s *PostgresIntentStore) MarkCompleted(ctx context.Context, intentID string, at time.Time, note string) error {
	t := at.UTC()
	return s.transition(ctx, intentID, StatusExecuting, StatusCompleted, nil, &t, &note)
}

func (s *PostgresIntentStore) MarkFailed(ctx context.Context, intentID string, at time.Time, note string) error {
	t := at.UTC()
	return s.transition(ctx, intentID, StatusExecuting, StatusFailed, nil, &t, &note)
}

func (s *PostgresIntentStore) MarkDeclined(ctx context.Context, intentID string, note string) error {
	return s.transition(ctx, intentID, StatusPending, StatusExpired, nil, nil, &note)
}

func (s *PostgresIntentStore) MarkExpired(ctx context.Context, intentID string, note string) error {
	return s.transition(ctx, intentID, StatusExecuting, StatusExpired, nil, nil, &note)
}

const pgSelectStale = `SELECT intent_id, session_id, action_name, arguments, status, created_at, executing_at, completed_at, result_note FROM intents WHERE status = $1 AND executing_at < $2 ORDER BY executing_at ASC`

func (s *PostgresIntentStore) StaleExecuting(ctx context.Context, cutoff time.Time) ([]*Intent, error) {
	rows, err := s.db.QueryContext(ctx, pgSelectStale, string(StatusExecuting), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: list stale executing intents: %w", err)
	}
	defer rows.Close()
	return collectPGIntents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPGIntent(row rowScanner) (*Intent, error) {
	var (
		it          Intent
		rawArgs     []byte
		status      string
		executingAt sql.NullTime
		completedAt sql.NullTime
		note        sql.NullString
	)
	err := row.Scan(&it.IntentID, &it.SessionID, &it.ActionName, &rawArgs, &status, &it.CreatedAt, &executingAt, &completedAt, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan intent: %w", err)
	}
	it.Status = Status(status)
	it.CreatedAt = it.CreatedAt.UTC()
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &it.Arguments); err != nil {
			return nil, fmt.Errorf("store: unmarshal arguments for %s: %w", it.IntentID, err)
		}
	}
	if executingAt.Valid {
		t := executingAt.Time.UTC()
		it.ExecutingAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		it.CompletedAt = &t
	}
	it.ResultNote = note.String
	return &it, nil
}

func collectPGIntents(rows *sql.Rows) ([]*Intent, error) {
	var out []*Intent
	for rows.Next() {
		it, err := scanPGIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate intents: %w", err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
