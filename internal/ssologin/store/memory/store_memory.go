// Package memory holds SSO login sessions in process memory for tests and
// single-instance deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mirpass/internal/ssologin/models"
	"mirpass/internal/ssologin/store"
	"mirpass/pkg/platform/sentinel"
)

// Store is the in-memory login session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.LoginSession
}

func New() *Store {
	return &Store{sessions: make(map[string]*models.LoginSession)}
}

func (s *Store) Create(_ context.Context, session *models.LoginSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("login session %s: %w", session.ID, sentinel.ErrConflict)
	}
	cloned := *session
	s.sessions[session.ID] = &cloned
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*models.LoginSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("login session not found: %w", sentinel.ErrNotFound)
	}
	cloned := *session
	return &cloned, nil
}

func (s *Store) Update(_ context.Context, id string, fn store.UpdateFunc) (*models.LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("login session not found: %w", sentinel.ErrNotFound)
	}

	working := *current
	if err := fn(&working); err != nil {
		if errors.Is(err, store.ErrNoChange) {
			unchanged := *current
			return &unchanged, nil
		}
		return nil, err
	}
	s.sessions[id] = &working
	committed := working
	return &committed, nil
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}
