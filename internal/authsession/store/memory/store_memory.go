// Package memory holds authorization sessions in process memory for tests
// and single-instance deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mirpass/internal/authsession/models"
	"mirpass/internal/authsession/store"
	"mirpass/pkg/platform/sentinel"
)

// Store is the in-memory session store. A single mutex guards the primary
// map and all secondary indexes, so every Update callback runs in a critical
// section and code consumption is at-most-once by construction.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	// Secondary indexes, all mapping to session IDs.
	byAuthCode   map[string]string
	byDeviceCode map[string]string
	byUserCode   map[string]string
}

// New constructs an empty in-memory session store.
func New() *Store {
	return &Store{
		sessions:     make(map[string]*models.Session),
		byAuthCode:   make(map[string]string),
		byDeviceCode: make(map[string]string),
		byUserCode:   make(map[string]string),
	}
}

func (s *Store) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrConflict)
	}
	if session.UserCode != "" {
		if otherID, taken := s.byUserCode[session.UserCode]; taken {
			if other := s.sessions[otherID]; other != nil && other.Status == models.StatusPending {
				return fmt.Errorf("user code in use: %w", sentinel.ErrConflict)
			}
		}
	}

	cloned := *session
	s.sessions[session.ID] = &cloned
	if session.AuthorizationCode != "" {
		s.byAuthCode[session.AuthorizationCode] = session.ID
	}
	if session.DeviceCode != "" {
		s.byDeviceCode[session.DeviceCode] = session.ID
	}
	if session.UserCode != "" {
		s.byUserCode[session.UserCode] = session.ID
	}
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

func (s *Store) FindByAuthCode(_ context.Context, code string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAuthCode[code]
	if !ok {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	return s.lookup(id)
}

func (s *Store) FindByDeviceCode(_ context.Context, deviceCode string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDeviceCode[deviceCode]
	if !ok {
		return nil, fmt.Errorf("device code not found: %w", sentinel.ErrNotFound)
	}
	return s.lookup(id)
}

func (s *Store) FindPendingByUserCode(_ context.Context, userCode string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUserCode[userCode]
	if !ok {
		return nil, fmt.Errorf("user code not found: %w", sentinel.ErrNotFound)
	}
	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusPending {
		return nil, fmt.Errorf("user code no longer active: %w", sentinel.ErrNotFound)
	}
	return session, nil
}

// lookup must be called with at least the read lock held. Returns a copy.
func (s *Store) lookup(id string) (*models.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	cloned := *session
	return &cloned, nil
}

func (s *Store) Update(_ context.Context, id string, fn store.UpdateFunc) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(id, fn)
}

func (s *Store) UpdateByAuthCode(_ context.Context, code string, fn store.UpdateFunc) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAuthCode[code]
	if !ok {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	return s.applyLocked(id, fn)
}

func (s *Store) UpdateByDeviceCode(_ context.Context, deviceCode string, fn store.UpdateFunc) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDeviceCode[deviceCode]
	if !ok {
		return nil, fmt.Errorf("device code not found: %w", sentinel.ErrNotFound)
	}
	return s.applyLocked(id, fn)
}

// applyLocked runs fn on a working copy and commits it only when fn
// succeeds, so aborted updates leave no partial mutation behind. Must be
// called with the write lock held.
func (s *Store) applyLocked(id string, fn store.UpdateFunc) (*models.Session, error) {
	current, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}

	working := *current
	if err := fn(&working); err != nil {
		if errors.Is(err, store.ErrNoChange) {
			unchanged := *current
			return &unchanged, nil
		}
		return nil, err
	}

	if working.AuthorizationCode != current.AuthorizationCode {
		if current.AuthorizationCode != "" {
			delete(s.byAuthCode, current.AuthorizationCode)
		}
		if working.AuthorizationCode != "" {
			s.byAuthCode[working.AuthorizationCode] = id
		}
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
		if !session.Expired(now) {
			continue
		}
		delete(s.sessions, id)
		// An index entry may have been re-pointed at a newer session (user
		// codes are reused once the old session is decided), so only drop
		// entries that still reference the session being swept.
		if session.AuthorizationCode != "" && s.byAuthCode[session.AuthorizationCode] == id {
			delete(s.byAuthCode, session.AuthorizationCode)
		}
		if session.DeviceCode != "" && s.byDeviceCode[session.DeviceCode] == id {
			delete(s.byDeviceCode, session.DeviceCode)
		}
		if session.UserCode != "" && s.byUserCode[session.UserCode] == id {
			delete(s.byUserCode, session.UserCode)
		}
		deleted++
	}
	return deleted, nil
}
