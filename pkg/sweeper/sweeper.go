// Package sweeper reclaims intents stuck in executing: a fixed-interval
// scan that expires anything whose execution started longer ago than the
// timeout. Pending intents are never touched, no matter how old — waiting
// on a human is not a failure.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airlock-labs/airlock/pkg/audit"
	"github.com/airlock-labs/airlock/pkg/store"
)

const (
	// DefaultTimeout is how long an execution may run before the sweeper
	// considers it abandoned.
	DefaultTimeout = 10 * time.Minute
	// DefaultInterval is the scan cadence.
	DefaultInterval = time.Minute
)

// Sweeper expires abandoned executions. Staleness is judged from
// executing_at alone; how long an intent sat pending before confirmation
// plays no part.
type Sweeper struct {
	intents  store.IntentStore
	timeout  time.Duration
	interval time.Duration
	recorder audit.Recorder
	clock    func() time.Time
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithTimeout overrides the execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) { s.timeout = d }
}

// WithInterval overrides the scan cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithRecorder sends every expiry to the given audit recorder.
func WithRecorder(r audit.Recorder) Option {
	return func(s *Sweeper) { s.recorder = r }
}

// WithClock overrides the time source for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) { s.clock = clock }
}

// New creates a sweeper over the given store.
func New(intents store.IntentStore, opts ...Option) *Sweeper {
	s := &Sweeper{
		intents:  intents,
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
		recorder: audit.NopRecorder{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce performs a single scan and returns how many intents it expired.
// Each expiry is a guarded transition: an execution that completes between
// the scan and the update keeps its result, and the sweeper moves on.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	stale, err := s.intents.StaleExecuting(ctx, now.Add(-s.timeout))
	if err != nil {
		return 0, fmt.Errorf("sweeper: scan: %w", err)
	}

	expired := 0
	for _, it := range stale {
		elapsed := now.Sub(it.ExecutingAt.UTC()).Round(time.Second)
		note := fmt.Sprintf("execution did not finish within %s (running for %s); marked expired", s.timeout, elapsed)

		if err := s.intents.MarkExpired(ctx, it.IntentID, note); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				// Lost the race to a completing execution. Its result stands.
				continue
			}
			return expired, fmt.Errorf("sweeper: expire %s: %w", it.IntentID, err)
		}
		expired++

		slog.Warn("sweeper: expired abandoned execution",
			"intent_id", it.IntentID, "action", it.ActionName, "running_for", elapsed)
		if rerr := s.recorder.Record(ctx, audit.Transition{
			IntentID:  it.IntentID,
			SessionID: it.SessionID,
			Action:    it.ActionName,
			From:      string(store.StatusExecuting),
			To:        string(store.StatusExpired),
			Actor:     audit.ActorSweeper,
			Note:      note,
			At:        now,
		}); rerr != nil {
			slog.Error("sweeper: audit record failed", "intent_id", it.IntentID, "error", rerr)
		}
	}
	return expired, nil
}

// Run scans on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sweeper: started", "interval", s.interval, "timeout", s.timeout)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper: stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				slog.Error("sweeper: scan failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("sweeper: scan complete", "expired", n)
			}
		}
	}
}
