// Package session stores the conversational facts the context validator
// reads, keyed by session id. The gate only ever sees the Reader side; the
// conversation layer owns writes.
package session

import "context"

// Reader is the read-only accessor handed to the context validator.
type Reader interface {
	// Fact returns the value of one fact and whether it is set.
	Fact(ctx context.Context, sessionID, key string) (string, bool, error)
	// Facts returns all facts recorded for the session.
	Facts(ctx context.Context, sessionID string) (map[string]string, error)
}

// Store is the writable session context used by the conversation layer.
type Store interface {
	Reader
	SetFact(ctx context.Context, sessionID, key, value string) error
	ClearFact(ctx context.Context, sessionID, key string) error
}
