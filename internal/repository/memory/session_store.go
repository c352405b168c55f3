package memory

import (
	"context"
	"sync"

	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]model.Session)}
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	sess.DocumentIDs = append([]string(nil), sess.DocumentIDs...)
	return &sess, nil
}

func (s *SessionStore) SaveSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	cp.DocumentIDs = append([]string(nil), sess.DocumentIDs...)
	s.sessions[sess.SessionID] = cp
	return nil
}
