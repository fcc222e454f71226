package memory

import (
	"context"
	"sync"
	"time"

	"trivia-session-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. Sessions
// are deep-copied on the way in and out.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
	}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Code]; ok {
		return domain.ErrDuplicateCode
	}
	stored := session.Clone()
	stored.Version = 1
	s.sessions[session.Code] = stored
	return nil
}

func (s *SessionStore) Load(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) Save(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.Code]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if current.Version != session.Version {
		return domain.ErrConflict
	}
	session.Version++
	s.sessions[session.Code] = session.Clone()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, code)
	return nil
}

func (s *SessionStore) PurgeCompleted(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for code, session := range s.sessions {
		if session.Phase == domain.PhaseCompleted && session.UpdatedAt.Before(before) {
			delete(s.sessions, code)
			n++
		}
	}
	return n, nil
}
