// Package audit keeps a tamper-evident record of every intent transition:
// an append-only hash chain over canonically-serialized entries, plus
// HMAC-sealed receipts for completed actions.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalJSON returns the RFC 8785 canonical JSON encoding of v. Canonical
// bytes are what gets hashed: two structurally equal values always produce
// the same digest regardless of field order or encoder quirks.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal for canonicalization: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 digest of the canonical encoding of v, prefixed
// with the algorithm name.
func Hash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// FingerprintArguments digests an intent's argument payload so audit entries
// and receipts can reference the arguments without embedding them.
func FingerprintArguments(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	return Hash(args)
}
