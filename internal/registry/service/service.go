// Package service exposes the application registry operations the
// authorization flows depend on: resolving an application, authenticating
// its API key, and verifying its client secret.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mirpass/internal/registry/models"
	"mirpass/internal/registry/store"
	dErrors "mirpass/pkg/domain-errors"
	"mirpass/pkg/platform/sentinel"
)

// Service is the registry façade used by the session manager and the SSO
// login flow.
type Service struct {
	store   store.Store
	nowTime func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithNowTime sets the clock function (primarily for testing).
func WithNowTime(now func() time.Time) Option {
	return func(s *Service) {
		s.nowTime = now
	}
}

// New constructs a registry Service.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, nowTime: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the application for clientAppID. Unknown or suspended
// applications fail with invalid_client: flows must not distinguish the two
// cases for callers.
func (s *Service) Resolve(ctx context.Context, clientAppID string) (*models.Application, error) {
	app, err := s.store.FindByID(ctx, clientAppID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidClient, "unknown client application")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry lookup failed")
	}
	if app.Suspended(s.nowTime()) {
		return nil, dErrors.New(dErrors.CodeInvalidClient, "client application is suspended")
	}
	return app, nil
}

// ResolveByAPIKey authenticates a raw API key and returns the owning
// application's ID. Keys are stored as sha256 hex digests, so the lookup
// never touches the raw key.
func (s *Service) ResolveByAPIKey(ctx context.Context, rawKey string) (string, error) {
	digest := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(digest[:])

	app, err := s.store.FindByAPIKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "registry lookup failed")
	}
	if app.Suspended(s.nowTime()) {
		return "", dErrors.New(dErrors.CodeForbidden, "client application is suspended")
	}
	return app.ID, nil
}

// VerifySecret compares a presented client secret against the application's
// bcrypt hash.
func (s *Service) VerifySecret(ctx context.Context, clientAppID, secret string) error {
	app, err := s.Resolve(ctx, clientAppID)
	if err != nil {
		return err
	}
	if app.SecretHash == "" {
		return dErrors.New(dErrors.CodeInvalidClient, "application has no client secret")
	}
	if bcrypt.CompareHashAndPassword([]byte(app.SecretHash), []byte(secret)) != nil {
		return dErrors.New(dErrors.CodeInvalidClient, "client secret incorrect")
	}
	return nil
}

// HashSecret produces the bcrypt hash stored for a client secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash secret")
	}
	return string(hash), nil
}

// HashAPIKey produces the sha256 hex digest stored for an API key.
func HashAPIKey(rawKey string) string {
	digest := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(digest[:])
}
