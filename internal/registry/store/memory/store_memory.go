package memory

import (
	"context"
	"fmt"
	"sync"

	"mirpass/internal/registry/models"
	"mirpass/pkg/platform/sentinel"
)

// Store keeps application registrations in memory for tests and development.
type Store struct {
	mu   sync.RWMutex
	apps map[string]*models.Application
}

// New constructs an empty in-memory registry store.
func New() *Store {
	return &Store{apps: make(map[string]*models.Application)}
}

func (s *Store) Create(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apps[app.ID]; exists {
		return fmt.Errorf("application %s: %w", app.ID, sentinel.ErrConflict)
	}
	cloned := *app
	s.apps[app.ID] = &cloned
	return nil
}

func (s *Store) Update(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apps[app.ID]; !exists {
		return fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
	}
	cloned := *app
	s.apps[app.ID] = &cloned
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
	}
	cloned := *app
	return &cloned, nil
}

func (s *Store) FindByAPIKeyHash(_ context.Context, keyHash string) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, app := range s.apps {
		if app.APIKeyHash != "" && app.APIKeyHash == keyHash {
			cloned := *app
			return &cloned, nil
		}
	}
	return nil, fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
}
