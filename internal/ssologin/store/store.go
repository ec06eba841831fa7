// Package store defines the persistence boundary for SSO login sessions.
package store

import (
	"context"
	"errors"
	"time"

	"mirpass/internal/ssologin/models"
)

// ErrNoChange may be returned by an Update callback to abort the write while
// still reporting success.
var ErrNoChange = errors.New("no change")

// UpdateFunc mutates a login session in place. Returning an error (other
// than ErrNoChange) aborts the update.
type UpdateFunc func(*models.LoginSession) error

// Store persists SSO login sessions. Same contract as the authorization
// session store: sentinel.ErrNotFound for missing sessions, and Update runs
// its callback in a per-session critical section so the one-shot ticket
// claim cannot race.
type Store interface {
	Create(ctx context.Context, session *models.LoginSession) error
	FindByID(ctx context.Context, id string) (*models.LoginSession, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.LoginSession, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
