package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresIntentStore(db)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(pgInsertIntent)).
		WithArgs("in-1", "sess-1", "send_email", []byte(`{"recipient":"ops@example.com"}`),
			"proposed", created, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.Create(context.Background(), &Intent{
		IntentID:   "in-1",
		SessionID:  "sess-1",
		ActionName: "send_email",
		Arguments:  map[string]any{"recipient": "ops@example.com"},
		Status:     StatusProposed,
		CreatedAt:  created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkExecutingIssuesGuardedUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresIntentStore(db)
	at := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	// The WHERE clause must carry both the id and the expected status: that
	// single statement is the whole double-confirmation defense.
	mock.ExpectExec(regexp.QuoteMeta(pgTransition)).
		WithArgs("executing", at, sqlmock.AnyArg(), nil, "in-1", "pending_confirmation").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkExecuting(context.Background(), "in-1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresIntentStore(db)
	at := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(pgTransition)).
		WithArgs("executing", at, sqlmock.AnyArg(), nil, "in-1", "pending_confirmation").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(pgSelectStatus)).
		WithArgs("in-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err = s.MarkExecuting(context.Background(), "in-1", at)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresIntentStore(db)

	mock.ExpectExec(regexp.QuoteMeta(pgTransition)).
		WithArgs("expired", sqlmock.AnyArg(), sqlmock.AnyArg(), "declined by user", "ghost", "pending_confirmation").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(pgSelectStatus)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	err = s.MarkDeclined(context.Background(), "ghost", "declined by user")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresIntentStore(db)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	executing := created.Add(5 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"intent_id", "session_id", "action_name", "arguments", "status",
		"created_at", "executing_at", "completed_at", "result_note",
	}).AddRow("in-1", "sess-1", "send_email", []byte(`{"recipient":"ops@example.com"}`),
		"executing", created, executing, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(pgSelectIntent)).
		WithArgs("in-1").
		WillReturnRows(rows)

	it, err := s.Get(context.Background(), "in-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, it.Status)
	assert.Equal(t, "ops@example.com", it.Arguments["recipient"])
	require.NotNil(t, it.ExecutingAt)
	assert.True(t, it.ExecutingAt.Equal(executing))
	assert.Nil(t, it.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresIntentStore(db)
	mock.ExpectQuery(regexp.QuoteMeta(pgSelectIntent)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err = s.Get(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStaleExecutingQueriesExecutingAtOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresIntentStore(db)
	cutoff := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Staleness is judged from executing_at; created_at must not appear in
	// the predicate.
	assert.NotContains(t, pgSelectStale, "created_at <")
	assert.Contains(t, pgSelectStale, "executing_at <")

	rows := sqlmock.NewRows([]string{
		"intent_id", "session_id", "action_name", "arguments", "status",
		"created_at", "executing_at", "completed_at", "result_note",
	}).AddRow("in-old", "sess-1", "send_email", []byte(`{}`),
		"executing", cutoff.Add(-time.Hour), cutoff.Add(-30*time.Minute), nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(pgSelectStale)).
		WithArgs("executing", cutoff).
		WillReturnRows(rows)

	got, err := s.StaleExecuting(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in-old", got[0].IntentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
