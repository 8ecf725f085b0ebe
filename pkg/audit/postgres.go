package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const pgAuditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	sequence         BIGINT PRIMARY KEY,
	entry_id         TEXT NOT NULL UNIQUE,
	at               TIMESTAMPTZ NOT NULL,
	intent_id        TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	action           TEXT NOT NULL,
	from_status      TEXT NOT NULL DEFAULT '',
	to_status        TEXT NOT NULL,
	actor            TEXT NOT NULL,
	note             TEXT NOT NULL DEFAULT '',
	args_fingerprint TEXT NOT NULL DEFAULT '',
	previous_hash    TEXT NOT NULL,
	entry_hash       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_intent ON audit_entries (intent_id);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries (session_id);
`

const (
	pgSelectChainHead = `SELECT sequence, entry_hash FROM audit_entries ORDER BY sequence DESC LIMIT 1 FOR UPDATE`

	pgInsertEntry = `INSERT INTO audit_entries (sequence, entry_id, at, intent_id, session_id, action, from_status, to_status, actor, note, args_fingerprint, previous_hash, entry_hash) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	pgSelectEntryColumns = `SELECT sequence, entry_id, at, intent_id, session_id, action, from_status, to_status, actor, note, args_fingerprint, previous_hash, entry_hash FROM audit_entries`
)

// PostgresSink persists the transition chain in an append-only table. The
// chain head is read under a row lock so concurrent appends serialize; the
// primary key rejects a duplicate first append, which callers may retry.
type PostgresSink struct {
	db    *sql.DB
	clock func() time.Time
}

// PostgresSinkOption customizes a PostgresSink.
type PostgresSinkOption func(*PostgresSink)

// WithSinkClock overrides the sink's time source.
func WithSinkClock(clock func() time.Time) PostgresSinkOption {
	return func(s *PostgresSink) { s.clock = clock }
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sql.DB, opts ...PostgresSinkOption) *PostgresSink {
	s := &PostgresSink{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the audit table and its indexes.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgAuditSchema); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record appends a transition to the durable chain.
func (s *PostgresSink) Record(ctx context.Context, t Transition) error {
	if t.At.IsZero() {
		t.At = s.clock()
	}
	// TIMESTAMPTZ keeps microseconds; hash what the table will return.
	t.At = t.At.UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin append: %w", err)
	}
	defer tx.Rollback()

	var (
		seq  int64
		head = genesisHash
	)
	row := tx.QueryRowContext(ctx, pgSelectChainHead)
	if err := row.Scan(&seq, &head); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("audit: read chain head: %w", err)
	}

	entry := Entry{
		Sequence:     seq + 1,
		EntryID:      uuid.New().String(),
		Transition:   t,
		PreviousHash: head,
	}
	h, err := entryHash(entry)
	if err != nil {
		return err
	}
	entry.EntryHash = h

	if _, err := tx.ExecContext(ctx, pgInsertEntry,
		entry.Sequence, entry.EntryID, entry.Transition.At,
		entry.Transition.IntentID, entry.Transition.SessionID, entry.Transition.Action,
		entry.Transition.From, entry.Transition.To, entry.Transition.Actor,
		entry.Transition.Note, entry.Transition.ArgsFingerprint,
		entry.PreviousHash, entry.EntryHash,
	); err != nil {
		return fmt.Errorf("audit: append entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit append: %w", err)
	}
	return nil
}

// Query returns persisted entries matching the filter, oldest first.
func (s *PostgresSink) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query := pgSelectEntryColumns
	var (
		where []string
		args  []any
	)
	if f.IntentID != "" {
		args = append(args, f.IntentID)
		where = append(where, "intent_id = $"+strconv.Itoa(len(args)))
	}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		where = append(where, "session_id = $"+strconv.Itoa(len(args)))
	}
	if f.Actor != "" {
		args = append(args, f.Actor)
		where = append(where, "actor = $"+strconv.Itoa(len(args)))
	}
	if !f.After.IsZero() {
		args = append(args, f.After)
		where = append(where, "at >= $"+strconv.Itoa(len(args)))
	}
	if !f.Before.IsZero() {
		args = append(args, f.Before)
		where = append(where, "at <= $"+strconv.Itoa(len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY sequence ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.Sequence, &e.EntryID, &e.Transition.At,
			&e.Transition.IntentID, &e.Transition.SessionID, &e.Transition.Action,
			&e.Transition.From, &e.Transition.To, &e.Transition.Actor,
			&e.Transition.Note, &e.Transition.ArgsFingerprint,
			&e.PreviousHash, &e.EntryHash,
		); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Transition.At = e.Transition.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyChain replays the persisted chain and recomputes every hash.
func (s *PostgresSink) VerifyChain(ctx context.Context) error {
	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	prev := genesisHash
	for _, e := range entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("audit: entry %d: previous hash mismatch", e.Sequence)
		}
		want, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("audit: entry %d: %w", e.Sequence, err)
		}
		if e.EntryHash != want {
			return fmt.Errorf("audit: entry %d: hash mismatch, chain tampered", e.Sequence)
		}
		prev = e.EntryHash
	}
	return nil
}
