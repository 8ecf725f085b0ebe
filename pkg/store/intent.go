// Package store persists intents — one durable row per proposed sensitive
// action — and exposes the guarded status transitions the gate and the
// sweeper are built on. All mutation goes through conditional updates
// ("set status X where status is still Y"): there is no read-then-write
// path and no other locking discipline.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no intent exists with the given id.
	ErrNotFound = errors.New("intent not found")
	// ErrConflict means the intent exists but its status already moved on,
	// so the requested transition lost the race.
	ErrConflict = errors.New("intent status conflict")
)

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusPending   Status = "pending_confirmation"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusProposed, StatusPending, StatusExecuting, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether s permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// TimeLayout is the single canonical timestamp representation used for
// persisted time. Fixed-width UTC with nanoseconds, so the lexical order of
// two encoded values equals their chronological order — a TEXT column can be
// compared against a bound parameter without format-dependent surprises.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime encodes t in the canonical representation.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a canonical timestamp. RFC 3339 values written by older
// builds (no fractional seconds) still parse.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Intent is the durable record of one proposed invocation of a sensitive
// action, tracked from proposal through confirmation and execution.
type Intent struct {
	IntentID    string         `json:"intent_id"`
	SessionID   string         `json:"session_id"`
	ActionName  string         `json:"action_name"`
	Arguments   map[string]any `json:"arguments"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExecutingAt *time.Time     `json:"executing_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ResultNote  string         `json:"result_note,omitempty"`
}

// Clone returns a deep copy so callers can hold results without aliasing
// store-internal state.
func (it *Intent) Clone() *Intent {
	cp := *it
	if it.Arguments != nil {
		cp.Arguments = make(map[string]any, len(it.Arguments))
		for k, v := range it.Arguments {
			cp.Arguments[k] = v
		}
	}
	if it.ExecutingAt != nil {
		t := *it.ExecutingAt
		cp.ExecutingAt = &t
	}
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	SessionID string
	Status    Status
	Limit     int
}

// IntentStore is the persistence contract the gate and sweeper depend on.
//
// Every Mark method applies one guarded transition and returns ErrConflict
// when the stored status already moved past the expected one, ErrNotFound
// when no such intent exists. Two racing callers therefore resolve to
// exactly one winner; the loser learns it lost, nothing is applied twice.
type IntentStore interface {
	// Create inserts a new intent row. The caller assigns the id.
	Create(ctx context.Context, it *Intent) error
	// Get returns the intent by id.
	Get(ctx context.Context, intentID string) (*Intent, error)
	// List returns intents matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Intent, error)

	// MarkPending advances proposed → pending_confirmation.
	MarkPending(ctx context.Context, intentID string) error
	// MarkExecuting advances pending_confirmation → executing and sets
	// executing_at. This is the confirmation race's single winner-picker.
	MarkExecuting(ctx context.Context, intentID string, at time.Time) error
	// MarkCompleted advances executing → completed with the result note.
	MarkCompleted(ctx context.Context, intentID string, at time.Time, note string) error
	// MarkFailed advances executing → failed with the failure description.
	MarkFailed(ctx context.Context, intentID string, at time.Time, note string) error
	// MarkDeclined advances pending_confirmation → expired ("declined by
	// user"); the caller-initiated cancellation path.
	MarkDeclined(ctx context.Context, intentID string, note string) error
	// MarkExpired advances executing → expired. Reserved for the sweeper.
	MarkExpired(ctx context.Context, intentID string, note string) error

	// StaleExecuting returns intents still executing whose executing_at is
	// strictly before cutoff, oldest first. created_at plays no part here.
	StaleExecuting(ctx context.Context, cutoff time.Time) ([]*Intent, error)
}
