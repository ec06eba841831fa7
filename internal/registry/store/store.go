package store

import (
	"context"

	"mirpass/internal/registry/models"
)

// Store is the persistence boundary for application registrations.
//
// Error contract: implementations return sentinel.ErrNotFound when the
// requested application does not exist, nil on success, and wrapped errors
// for infrastructure failures.
type Store interface {
	Create(ctx context.Context, app *models.Application) error
	Update(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id string) (*models.Application, error)
	FindByAPIKeyHash(ctx context.Context, keyHash string) (*models.Application, error)
}
