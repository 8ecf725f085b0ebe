package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryIntentStore is an in-process IntentStore with the same
// compare-and-swap semantics as the SQL stores. Used by tests and by
// single-node setups that can afford to lose state on restart.
type MemoryIntentStore struct {
	mu      sync.Mutex
	intents map[string]*Intent
}

// NewMemoryIntentStore creates an empty store.
func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{intents: make(map[string]*Intent)}
}

func (s *MemoryIntentStore) Create(_ context.Context, it *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intents[it.IntentID]; exists {
		return fmt.Errorf("intent %s already exists", it.IntentID)
	}
	s.intents[it.IntentID] = it.Clone()
	return nil
}

func (s *MemoryIntentStore) Get(_ context.Context, intentID string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.intents[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return it.Clone(), nil
}

func (s *MemoryIntentStore) List(_ context.Context, f Filter) ([]*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Intent
	for _, it := range s.intents {
		if f.SessionID != "" && it.SessionID != f.SessionID {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// transition applies the compare-and-swap under the lock; it is the memory
// equivalent of the SQL stores' guarded UPDATE.
func (s *MemoryIntentStore) transition(intentID string, from, to Status, apply func(*Intent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.intents[intentID]
	if !ok {
		return ErrNotFound
	}
	if it.Status != from {
		return ErrConflict
	}
	it.Status = to
	apply(it)
	return nil
}

func (s *MemoryIntentStore) MarkPending(_ context.Context, intentID string) error {
	return s.transition(intentID, StatusProposed, StatusPending, func(*Intent) {})
}

func (s *MemoryIntentStore) MarkExecuting(_ context.Context, intentID string, at time.Time) error {
	return s.transition(intentID, StatusPending, StatusExecuting, func(it *Intent) {
		t := at.UTC()
		it.ExecutingAt = &t
	})
}

func (s *MemoryIntentStore) MarkCompleted(_ context.Context, intentID string, at time.Time, note string) error {
	return s.transition(intentID, StatusExecuting, StatusCompleted, func(it *Intent) {
		t := at.UTC()
		it.CompletedAt = &t
		it.ResultNote = note
	})
}

func (s *MemoryIntentStore) MarkFailed(_ context.Context, intentID string, at time.Time, note string) error {
	return s.transition(intentID, StatusExecuting, StatusFailed, func(it *Intent) {
		t := at.UTC()
		it.CompletedAt = &t
		it.ResultNote = note
	})
}

func (s *MemoryIntentStore) MarkDeclined(_ context.Context, intentID string, note string) error {
	return s.transition(intentID, StatusPending, StatusExpired, func(it *Intent) {
		it.ResultNote = note
	})
}

func (s *MemoryIntentStore) MarkExpired(_ context.Context, intentID string, note string) error {
	return s.transition(intentID, StatusExecuting, StatusExpired, func(it *Intent) {
		it.ResultNote = note
	})
}

func (s *MemoryIntentStore) StaleExecuting(_ context.Context, cutoff time.Time) ([]*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Intent
	for _, it := range s.intents {
		if it.Status != StatusExecuting || it.ExecutingAt == nil {
			continue
		}
		if it.ExecutingAt.Before(cutoff) {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutingAt.Before(*out[j].ExecutingAt) })
	return out, nil
}
