package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hubenschmidt/telecaller/internal/metrics"
)

// ErrNotFound is returned for call ids with no live session.
var ErrNotFound = errors.New("session not found")

const (
	DefaultMaxHistoryLength   = 10
	DefaultInterruptThreshold = 3
)

// Config controls how new sessions are initialised.
type Config struct {
	MaxHistoryLength   int
	InterruptThreshold int
	Clock              func() time.Time
}

type entry struct {
	mu      sync.Mutex
	sess    Session
	removed bool
}

// Store is a concurrent map of call id to Session. The map lock only guards
// insertion, lookup and deletion; field mutation happens under the owning
// entry's lock so unrelated calls never wait on each other.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     Config
}

// NewStore creates an empty store. Zero config values take defaults.
func NewStore(cfg Config) *Store {
	if cfg.MaxHistoryLength <= 0 {
		cfg.MaxHistoryLength = DefaultMaxHistoryLength
	}
	if cfg.InterruptThreshold <= 0 {
		cfg.InterruptThreshold = DefaultInterruptThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{entries: make(map[string]*entry), cfg: cfg}
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.cfg.Clock()
}

// GetOrCreate returns a snapshot of the session for callID, creating it in
// the greeting state if absent. created reports whether this call made it.
func (s *Store) GetOrCreate(callID string) (Session, bool) {
	if e := s.lookup(callID); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.removed {
			return e.sess.Clone(), false
		}
	}

	s.mu.Lock()
	e, ok := s.entries[callID]
	if !ok {
		now := s.cfg.Clock()
		e = &entry{sess: Session{
			ID:     callID,
			Status: StatusInProgress,
			State:  StateGreeting,
			Interruption: InterruptionPolicy{
				CanInterrupt: true,
				Threshold:    s.cfg.InterruptThreshold,
			},
			CreatedAt:    now,
			LastActivity: now,
			maxHistory:   s.cfg.MaxHistoryLength,
		}}
		s.entries[callID] = e
		metrics.CallsActive.Inc()
		metrics.CallsTotal.Inc()
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), !ok
}

// Get returns a snapshot of the session for callID.
func (s *Store) Get(callID string) (Session, error) {
	e := s.lookup(callID)
	if e == nil {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, ErrNotFound
	}
	return e.sess.Clone(), nil
}

// Update applies fn to the live session under its entry lock. fn must not
// block on I/O.
func (s *Store) Update(callID string, fn func(*Session)) error {
	e := s.lookup(callID)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrNotFound
	}
	fn(&e.sess)
	return nil
}

// Touch refreshes the session's last-activity time.
func (s *Store) Touch(callID string) error {
	now := s.cfg.Clock()
	return s.Update(callID, func(sess *Session) {
		sess.LastActivity = now
	})
}

// Remove deletes the session and returns its final snapshot.
func (s *Store) Remove(callID string) (Session, bool) {
	return s.RemoveIf(callID, nil)
}

// RemoveIf deletes the session only when pred (evaluated under the entry
// lock) accepts it. A nil pred always removes.
func (s *Store) RemoveIf(callID string, pred func(Session) bool) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callID]
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if pred != nil && !pred(e.sess) {
		return Session{}, false
	}
	e.removed = true
	delete(s.entries, callID)
	metrics.CallsActive.Dec()
	return e.sess.Clone(), true
}

// EvictIdle removes every session idle for longer than ttl as of now and
// returns the removed snapshots.
func (s *Store) EvictIdle(now time.Time, ttl time.Duration) []Session {
	var evicted []Session
	for _, id := range s.IDs() {
		sess, ok := s.RemoveIf(id, func(sess Session) bool {
			return now.Sub(sess.LastActivity) > ttl
		})
		if ok {
			evicted = append(evicted, sess)
		}
	}
	return evicted
}

// Has reports whether callID has a live session.
func (s *Store) Has(callID string) bool {
	return s.lookup(callID) != nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IDs returns the live call ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) lookup(callID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[callID]
}
