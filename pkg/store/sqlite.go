package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// SQLiteIntentStore implements IntentStore on SQLite for development and
// single-node deployments. Timestamps are TEXT in the canonical fixed-width
// representation (TimeLayout), so comparing a column against a bound
// parameter in the same encoding is exact — one format on both sides, never
// a lexical comparison across formats.
type SQLiteIntentStore struct {
	db *sql.DB
}

// NewSQLiteIntentStore opens (creating if needed) the database at path and
// runs the schema migration.
func NewSQLiteIntentStore(path string) (*SQLiteIntentStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// modernc's driver is happiest with a single writer.
	db.SetMaxOpenConns(1)
	s := &SQLiteIntentStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *SQLiteIntentStore) Close() error { return s.db.Close() }

func (s *SQLiteIntentStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS intents (
	intent_id    TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	action_name  TEXT NOT NULL,
	arguments    TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	executing_at TEXT,
	completed_at TEXT,
	result_note  TEXT
);
CREATE INDEX IF NOT EXISTS intents_session_status_idx ON intents (session_id, status);
CREATE INDEX IF NOT EXISTS intents_status_executing_at_idx ON intents (status, executing_at);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate sqlite intents: %w", err)
	}
	return nil
}

func (s *SQLiteIntentStore) Create(ctx context.Context, it *Intent) error {
	args, err := json.Marshal(it.Arguments)
	if err != nil {
		return fmt.Errorf("store: marshal arguments: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intents (intent_id, session_id, action_name, arguments, status, created_at, executing_at, completed_at, result_note) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.IntentID,
		it.SessionID,
		it.ActionName,
		string(args),
		string(it.Status),
		FormatTime(it.CreatedAt),
		formatTimePtr(it.ExecutingAt),
		formatTimePtr(it.CompletedAt),
		nullString(it.ResultNote),
	)
	if err != nil {
		return fmt.Errorf("store: insert intent %s: %w", it.IntentID, err)
	}
	return nil
}

const sqliteSelectColumns = `intent_id, session_id, action_name, arguments, status, created_at, executing_at, completed_at, result_note`

func (s *SQLiteIntentStore) Get(ctx context.Context, intentID string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSelectColumns+` FROM intents WHERE intent_id = ?`, intentID)
	return scanSQLiteIntent(row)
}

func (s *SQLiteIntentStore) List(ctx context.Context, f Filter) ([]*Intent, error) {
	q := `SELECT ` + sqliteSelectColumns + ` FROM intents`
	var conds []string
	var args []any
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list intents: %w", err)
	}
	defer rows.Close()
	return collectSQLiteIntents(rows)
}

func (s *SQLiteIntentStore) transition(ctx context.Context, intentID string, from, to Status, executingAt, completedAt *time.Time, note *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intents SET status = ?, executing_at = COALESCE(?, executing_at), completed_at = COALESCE(?, completed_at), result_note = COALESCE(?, result_note) WHERE intent_id = ? AND status = ?`,
		string(to), formatTimePtr(executingAt), formatTimePtr(completedAt), note, intentID, string(from))
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

	var cur string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM intents WHERE intent_id = ?`, intentID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read intent %s after failed transition: %w", intentID, err)
	}
	return ErrConflict
}

func (s *SQLiteIntentStore) MarkPending(ctx context.Context, intentID string) error {
	return s.transition(ctx, intentID, StatusProposed, StatusPending, nil, nil, nil)
}

func (s *SQLiteIntentStore) MarkExecuting(ctx context.Context, intentID string, at time.Time) error {
	t := at.UTC()
	return s.transition(ctx, intentID, StatusPending, StatusExecuting, &t, nil, nil)
}

func (s *SQLiteIntentStore) MarkCompleted(ctx context.Context, intentID string, at time.Time, note string) error {
	t := at.UTC()
	return s.transition(ctx, intentID, StatusExecuting, StatusCompleted, nil, &t, &note)
}

func (s *SQLiteIntentStore) MarkFailed(ctx context.Context, intentID string, at time.Time, note string) error {
	t := at.UTC()
	return s.transition(ctx, intentID, StatusExecuting, StatusFailed, nil, &t, &note)
}

func (s *SQLiteIntentStore) MarkDeclined(ctx context.Context, intentID string, note string) error {
	return s.transition(ctx, intentID, StatusPending, StatusExpired, nil, nil, &note)
}

func (s *SQLiteIntentStore) MarkExpired(ctx context.Context, intentID string, note string) error {
	return s.transition(ctx, intentID, StatusExecuting, StatusExpired, nil, nil, &note)
}

func (s *SQLiteIntentStore) StaleExecuting(ctx context.Context, cutoff time.Time) ([]*Intent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM intents WHERE status = ? AND executing_at < ? ORDER BY executing_at ASC`,
		string(StatusExecuting), FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: list stale executing intents: %w", err)
	}
	defer rows.Close()
	return collectSQLiteIntents(rows)
}

func scanSQLiteIntent(row rowScanner) (*Intent, error) {
	var (
		it          Intent
		rawArgs     string
		status      string
		createdAt   string
		executingAt sql.NullString
		completedAt sql.NullString
		note        sql.NullString
	)
	err := row.Scan(&it.IntentID, &it.SessionID, &it.ActionName, &rawArgs, &status, &createdAt, &executingAt, &completedAt, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan intent: %w", err)
	}
	it.Status = Status(status)
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &it.Arguments); err != nil {
			return nil, fmt.Errorf("store: unmarshal arguments for %s: %w", it.IntentID, err)
		}
	}
	if it.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at for %s: %w", it.IntentID, err)
	}
	if executingAt.Valid {
		t, err := ParseTime(executingAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse executing_at for %s: %w", it.IntentID, err)
		}
		it.ExecutingAt = &t
	}
	if completedAt.Valid {
		t, err := ParseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse completed_at for %s: %w", it.IntentID, err)
		}
		it.CompletedAt = &t
	}
	it.ResultNote = note.String
	return &it, nil
}

func collectSQLiteIntents(rows *sql.Rows) ([]*Intent, error) {
	var out []*Intent
	for rows.Next() {
		it, err := scanSQLiteIntent(rows)
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

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}
