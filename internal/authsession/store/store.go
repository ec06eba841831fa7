// Package store defines the persistence boundary for authorization sessions.
package store

import (
	"context"
	"errors"
	"time"

	"mirpass/internal/authsession/models"
)

// ErrNoChange may be returned by an Update callback to abort the write while
// still reporting success. Used for idempotent replays: the caller observes
// the current session without mutating it.
var ErrNoChange = errors.New("no change")

// UpdateFunc mutates a session in place. Returning an error (other than
// ErrNoChange) aborts the update; nothing is persisted and the error is
// returned to the caller.
type UpdateFunc func(*models.Session) error

// Store persists authorization sessions.
//
// Error contract:
//   - sentinel.ErrNotFound when the requested session does not exist
//   - sentinel.ErrConflict when Create would violate pending user-code
//     uniqueness
//   - nil on success; wrapped errors for infrastructure failures
//
// Atomicity contract: each Update* call runs its callback inside a critical
// section for the addressed session. Concurrent updates to the same session
// serialize; the callback observes the latest committed state and its
// mutations commit as one unit. This is what makes at-most-once code
// consumption possible.
type Store interface {
	Create(ctx context.Context, session *models.Session) error

	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByAuthCode(ctx context.Context, code string) (*models.Session, error)
	FindByDeviceCode(ctx context.Context, deviceCode string) (*models.Session, error)
	// FindPendingByUserCode resolves a user code only while the session is
	// pending; sessions that left pending are not discoverable this way.
	FindPendingByUserCode(ctx context.Context, userCode string) (*models.Session, error)

	Update(ctx context.Context, id string, fn UpdateFunc) (*models.Session, error)
	UpdateByAuthCode(ctx context.Context, code string, fn UpdateFunc) (*models.Session, error)
	UpdateByDeviceCode(ctx context.Context, deviceCode string, fn UpdateFunc) (*models.Session, error)

	// DeleteExpired removes sessions whose deadline passed before now and
	// returns how many were removed. Safe to run concurrently with request
	// handling.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
