// Package postgres persists application registrations in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"mirpass/internal/registry/models"
	"mirpass/pkg/platform/sentinel"
)

// Store is the PostgreSQL-backed registry store.
//
// Schema:
//
//	CREATE TABLE applications (
//	    id                  TEXT PRIMARY KEY,
//	    name                TEXT NOT NULL,
//	    logo_url            TEXT NOT NULL DEFAULT '',
//	    trusted_uris        TEXT[] NOT NULL DEFAULT '{}',
//	    device_flow_enabled BOOLEAN NOT NULL DEFAULT FALSE,
//	    suspended_until     TIMESTAMPTZ,
//	    api_key_hash        TEXT NOT NULL DEFAULT '',
//	    secret_hash         TEXT NOT NULL DEFAULT '',
//	    created_at          TIMESTAMPTZ NOT NULL,
//	    updated_at          TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX applications_api_key_hash_idx ON applications (api_key_hash)
//	    WHERE api_key_hash <> '';
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed registry store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const appColumns = `id, name, logo_url, trusted_uris, device_flow_enabled,
	suspended_until, api_key_hash, secret_hash, created_at, updated_at`

func (s *Store) Create(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO applications (` + appColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		app.ID,
		app.Name,
		app.LogoURL,
		pq.Array(app.TrustedURIs),
		app.DeviceFlowEnabled,
		app.SuspendedUntil,
		app.APIKeyHash,
		app.SecretHash,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, app *models.Application) error {
	query := `
		UPDATE applications
		SET name = $2, logo_url = $3, trusted_uris = $4, device_flow_enabled = $5,
			suspended_until = $6, api_key_hash = $7, secret_hash = $8, updated_at = $9
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		app.ID,
		app.Name,
		app.LogoURL,
		pq.Array(app.TrustedURIs),
		app.DeviceFlowEnabled,
		app.SuspendedUntil,
		app.APIKeyHash,
		app.SecretHash,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) FindByAPIKeyHash(ctx context.Context, keyHash string) (*models.Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE api_key_hash = $1 AND api_key_hash <> ''`
	return s.scanOne(s.db.QueryRowContext(ctx, query, keyHash))
}

func (s *Store) scanOne(row *sql.Row) (*models.Application, error) {
	var app models.Application
	var trustedURIs pq.StringArray
	err := row.Scan(
		&app.ID,
		&app.Name,
		&app.LogoURL,
		&trustedURIs,
		&app.DeviceFlowEnabled,
		&app.SuspendedUntil,
		&app.APIKeyHash,
		&app.SecretHash,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}
	app.TrustedURIs = trustedURIs
	return &app, nil
}
