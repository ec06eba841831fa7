package models

import (
	"time"

	dErrors "mirpass/pkg/domain-errors"
)

// Application is the aggregate root for a registered client application.
//
// Invariants:
//   - ID and Name are non-empty
//   - TrustedURIs are matched exactly; no wildcard or prefix matching, so an
//     attacker can never widen the redirect surface through a lookalike URI
//   - SuspendedUntil, when set and in the future, blocks every flow for the
//     application
type Application struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	LogoURL           string     `json:"logo_url,omitempty"`
	TrustedURIs       []string   `json:"trusted_uris"`
	DeviceFlowEnabled bool       `json:"device_flow_enabled"`
	SuspendedUntil    *time.Time `json:"suspended_until,omitempty"`
	// APIKeyHash is the sha256 hex digest of the application's API key.
	// Never serialized.
	APIKeyHash string `json:"-"`
	// SecretHash is the bcrypt hash of the client secret used by
	// confidential clients at token exchange. Never serialized.
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewApplication validates and constructs an Application.
func NewApplication(id, name string, trustedURIs []string, now time.Time) (*Application, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "application id cannot be empty")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "application name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "application name must be 128 characters or less")
	}
	return &Application{
		ID:          id,
		Name:        name,
		TrustedURIs: trustedURIs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Suspended reports whether the application is currently suspended.
func (a *Application) Suspended(now time.Time) bool {
	return a.SuspendedUntil != nil && a.SuspendedUntil.After(now)
}

// TrustsURI checks exact-match membership of uri in the trusted list.
func (a *Application) TrustsURI(uri string) bool {
	for _, trusted := range a.TrustedURIs {
		if trusted == uri {
			return true
		}
	}
	return false
}
