package auth

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultStateTTL is how long a pending login may sit between the redirect
// and the callback before it is rejected.
const DefaultStateTTL = 10 * time.Minute

// pendingLogin is one in-flight OAuth attempt, keyed by its state nonce.
type pendingLogin struct {
	createdAt time.Time
}

// StateStore holds pending OAuth logins between the authorization redirect
// and the callback. States are single-use: Consume removes the entry
// regardless of the callback outcome, so a replayed state always fails.
//
// The store is process-scoped and in-memory; losing it only forces users to
// restart login, never a security hole.
type StateStore struct {
	mu      sync.Mutex
	states  map[string]pendingLogin
	ttl     time.Duration
	now     func() time.Time
	ticker  *time.Ticker
	done    chan struct{}
	stopped sync.Once
	logger  *slog.Logger
}

// NewStateStore creates a state store with the given TTL. A zero ttl uses
// DefaultStateTTL.
func NewStateStore(ttl time.Duration, logger *slog.Logger) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &StateStore{
		states: make(map[string]pendingLogin),
		ttl:    ttl,
		now:    time.Now,
		ticker: time.NewTicker(time.Minute),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.cleanupLoop()
	return s
}

// SetClock overrides the time source, for tests.
func (s *StateStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put registers a fresh state nonce for an in-flight login.
func (s *StateStore) Put(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = pendingLogin{createdAt: s.now()}
}

// Consume validates and removes a state nonce. It returns false for unknown,
// already-consumed, or expired states.
func (s *StateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)

	if s.now().Sub(pending.createdAt) > s.ttl {
		s.logger.Debug("rejected expired login state")
		return false
	}
	return true
}

// Len returns the number of pending logins, for status reporting.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Stop terminates the background eviction goroutine.
func (s *StateStore) Stop() {
	s.stopped.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
}

func (s *StateStore) cleanupLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.evictExpired()
		case <-s.done:
			return
		}
	}
}

func (s *StateStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for state, pending := range s.states {
		if pending.createdAt.Before(cutoff) {
			delete(s.states, state)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("evicted expired login states", "count", evicted)
	}
}
