// Package archive exports terminal intents to content-addressed blob
// storage. The intent rows themselves stay in the store — archival is a
// copy for long-term retention, never a delete.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/airlock-labs/airlock/pkg/audit"
	"github.com/airlock-labs/airlock/pkg/store"
)

// Store is the blob backend contract. Keys are content-addressed, so Put
// is idempotent: writing the same key twice is a no-op.
type Store interface {
	// Put persists data under key if it is not already present.
	Put(ctx context.Context, key string, data []byte) error
	// Get retrieves the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Key derives the content-addressed object key for an encoded intent.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return "intents/" + hex.EncodeToString(sum[:]) + ".json"
}

// Encode renders an intent as canonical JSON, so the same intent always
// produces the same bytes and therefore the same key.
func Encode(it *store.Intent) ([]byte, error) {
	data, err := audit.CanonicalJSON(it)
	if err != nil {
		return nil, fmt.Errorf("archive: encode intent %s: %w", it.IntentID, err)
	}
	return data, nil
}

// Exporter copies terminal intents older than the retention floor into a
// blob store.
type Exporter struct {
	intents   store.IntentStore
	blobs     Store
	retention time.Duration
	clock     func() time.Time
}

// ExporterOption customizes an Exporter.
type ExporterOption func(*Exporter)

// WithClock overrides the time source for deterministic testing.
func WithClock(clock func() time.Time) ExporterOption {
	return func(e *Exporter) { e.clock = clock }
}

// NewExporter creates an exporter. Terminal intents whose completion is
// older than retention are eligible; retention zero archives immediately.
func NewExporter(intents store.IntentStore, blobs Store, retention time.Duration, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		intents:   intents,
		blobs:     blobs,
		retention: retention,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one export pass and returns how many intents it uploaded.
// Already-archived intents are skipped via the backend's existence check.
func (e *Exporter) Run(ctx context.Context) (int, error) {
	floor := e.clock().UTC().Add(-e.retention)
	uploaded := 0

	for _, status := range []store.Status{store.StatusCompleted, store.StatusFailed, store.StatusExpired} {
		batch, err := e.intents.List(ctx, store.Filter{Status: status})
		if err != nil {
			return uploaded, fmt.Errorf("archive: list %s intents: %w", status, err)
		}
		for _, it := range batch {
			if settledAt(it).After(floor) {
				continue
			}

			data, err := Encode(it)
			if err != nil {
				return uploaded, err
			}
			key := Key(data)

			ok, err := e.blobs.Exists(ctx, key)
			if err != nil {
				return uploaded, fmt.Errorf("archive: check %s: %w", key, err)
			}
			if ok {
				continue
			}
			if err := e.blobs.Put(ctx, key, data); err != nil {
				return uploaded, fmt.Errorf("archive: put %s: %w", key, err)
			}
			uploaded++
			slog.Debug("archive: intent exported", "intent_id", it.IntentID, "key", key)
		}
	}
	return uploaded, nil
}

// settledAt is when the intent reached its terminal state. Declined and
// swept intents carry no completed_at, so creation time stands in.
func settledAt(it *store.Intent) time.Time {
	if it.CompletedAt != nil {
		return *it.CompletedAt
	}
	return it.CreatedAt
}
