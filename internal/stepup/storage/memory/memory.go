// Package memory provides an in-process session store for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/strongholdauth/stronghold/internal/stepup/session"
	"github.com/strongholdauth/stronghold/internal/stepup/storage"
)

// Store keeps session records in a lock-protected map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	ttl      time.Duration
	now      func() time.Time
}

// New creates an empty store. A zero ttl disables expiry.
func New(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CreateSession stores a new record under its session id.
func (s *Store) CreateSession(_ context.Context, record session.Session) error {
	s.mu.Lock()
	s.sessions[record.ID] = record
	s.mu.Unlock()
	return nil
}

// GetSession returns the record for sessionID or storage.ErrNotFound.
// Expired records are evicted on read.
func (s *Store) GetSession(_ context.Context, sessionID string) (session.Session, error) {
	s.mu.RLock()
	record, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	if s.expired(record) {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return session.Session{}, storage.ErrNotFound
	}
	return record, nil
}

// UpdateSession replaces an existing record.
func (s *Store) UpdateSession(_ context.Context, record session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[record.ID]; !ok {
		return storage.ErrNotFound
	}
	s.sessions[record.ID] = record
	return nil
}

// DeleteSession removes the record. Missing records are a no-op.
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) expired(record session.Session) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().After(record.CreatedAt.Add(s.ttl))
}
