package channel

import (
	"fmt"
	"sync"
)

// Store holds all sessions and their ordered transfer lists in memory.
// It is mutated only by the Controller; the settlement coordinator reads.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	transfers map[string][]*Transfer
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		transfers: make(map[string][]*Transfer),
	}
}

// Get retrieves a session by id.
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// Put inserts or replaces a session.
func (s *Store) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// AppendTransfer appends a transfer to the session's ordered list.
func (s *Store) AppendTransfer(sessionID string, t *Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.transfers[sessionID] = append(s.transfers[sessionID], t)
	return nil
}

// ListTransfers returns the session's transfers in nonce order.
func (s *Store) ListTransfers(sessionID string) []*Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.transfers[sessionID]
	out := make([]*Transfer, len(list))
	copy(out, list)
	return out
}

// All returns every session, in no particular order.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
