package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actors that can drive a transition.
const (
	ActorUser    = "user"
	ActorGate    = "gate"
	ActorSweeper = "sweeper"
)

// genesisHash anchors the first entry of a chain.
const genesisHash = "genesis"

// Transition describes one observed state change of an intent. From is empty
// for the initial proposal record.
type Transition struct {
	IntentID        string    `json:"intent_id"`
	SessionID       string    `json:"session_id"`
	Action          string    `json:"action"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Actor           string    `json:"actor"`
	Note            string    `json:"note,omitempty"`
	ArgsFingerprint string    `json:"args_fingerprint,omitempty"`
	At              time.Time `json:"at"`
}

// Recorder accepts transition records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, t Transition) error
}

// NopRecorder discards every record. Useful for tests and for callers that
// do not need an audit trail.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Transition) error { return nil }

// Entry is a transition bound into the hash chain.
type Entry struct {
	Sequence     int64      `json:"sequence"`
	EntryID      string     `json:"entry_id"`
	Transition   Transition `json:"transition"`
	PreviousHash string     `json:"previous_hash"`
	EntryHash    string     `json:"entry_hash"`
}

// entryHash digests everything except the hash field itself.
func entryHash(e Entry) (string, error) {
	e.EntryHash = ""
	return Hash(e)
}

// Filter narrows Query results. Zero fields match everything. After and
// Before bound the transition timestamp inclusively.
type Filter struct {
	IntentID  string
	SessionID string
	Actor     string
	After     time.Time
	Before    time.Time
	Limit     int
}

func (f Filter) matches(e *Entry) bool {
	if f.IntentID != "" && e.Transition.IntentID != f.IntentID {
		return false
	}
	if f.SessionID != "" && e.Transition.SessionID != f.SessionID {
		return false
	}
	if f.Actor != "" && e.Transition.Actor != f.Actor {
		return false
	}
	if !f.After.IsZero() && e.Transition.At.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && e.Transition.At.After(f.Before) {
		return false
	}
	return true
}

// Log is an in-memory append-only transition log. Each entry carries the
// hash of its predecessor, so any rewrite of history breaks verification.
type Log struct {
	mu      sync.Mutex
	entries []*Entry
	head    string
	clock   func() time.Time
}

// LogOption customizes a Log.
type LogOption func(*Log)

// WithClock overrides the time source used to stamp entries whose
// transition carries no timestamp.
func WithClock(clock func() time.Time) LogOption {
	return func(l *Log) { l.clock = clock }
}

// NewLog returns an empty log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		head:  genesisHash,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a transition to the chain.
func (l *Log) Record(_ context.Context, t Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.At.IsZero() {
		t.At = l.clock().UTC()
	}
	entry := Entry{
		Sequence:     int64(len(l.entries)) + 1,
		EntryID:      uuid.New().String(),
		Transition:   t,
		PreviousHash: l.head,
	}
	h, err := entryHash(entry)
	if err != nil {
		return err
	}
	entry.EntryHash = h

	l.entries = append(l.entries, &entry)
	l.head = h
	return nil
}

// Head returns the hash of the most recent entry, or the genesis marker for
// an empty log.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Len reports the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Query returns entries matching the filter, oldest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.entries {
		if !f.matches(e) {
			continue
		}
		out = append(out, *e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// VerifyChain recomputes every entry hash and checks chain linkage. It
// returns an error naming the first corrupted entry.
func (l *Log) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := genesisHash
	for i, e := range l.entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("audit: entry %d: previous hash mismatch", i+1)
		}
		want, err := entryHash(*e)
		if err != nil {
			return fmt.Errorf("audit: entry %d: %w", i+1, err)
		}
		if e.EntryHash != want {
			return fmt.Errorf("audit: entry %d: hash mismatch, chain tampered", i+1)
		}
		prev = e.EntryHash
	}
	return nil
}
