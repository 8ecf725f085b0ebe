package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps session facts in process memory with a per-session TTL.
// Suitable for tests and single-node deployments; production uses RedisStore.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	clock    func() time.Time
	sessions map[string]*memorySession
}

type memorySession struct {
	facts   map[string]string
	touched time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source. Used by tests to drive TTL expiry.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.clock = clock }
}

// NewMemoryStore creates a store whose sessions expire ttl after their last
// write. ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		ttl:      ttl,
		clock:    time.Now,
		sessions: make(map[string]*memorySession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// expired reports whether the session's TTL has elapsed since its last
// touch. A zero TTL disables expiry. Callers drop expired sessions lazily
// via drop, which takes the write lock itself.
func (s *MemoryStore) expired(sess *memorySession) bool {
	return s.ttl > 0 && s.clock().Sub(sess.touched) > s.ttl
}

func (s *MemoryStore) Fact(_ context.Context, sessionID, key string) (string, bool, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess) {
		s.mu.RUnlock()
		if ok {
			s.drop(sessionID)
		}
		return "", false, nil
	}
	v, ok := sess.facts[key]
	s.mu.RUnlock()
	return v, ok, nil
}

func (s *MemoryStore) Facts(_ context.Context, sessionID string) (map[string]string, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess) {
		s.mu.RUnlock()
		if ok {
			s.drop(sessionID)
		}
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(sess.facts))
	for k, v := range sess.facts {
		out[k] = v
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *MemoryStore) SetFact(_ context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess) {
		sess = &memorySession{facts: make(map[string]string)}
		s.sessions[sessionID] = sess
	}
	sess.facts[key] = value
	sess.touched = s.clock()
	return nil
}

func (s *MemoryStore) ClearFact(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		delete(sess.facts, key)
	}
	return nil
}

func (s *MemoryStore) drop(sessionID string) {
	s.mu.Lock()
	if sess, ok := s.sessions[sessionID]; ok && s.expired(sess) {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
}
