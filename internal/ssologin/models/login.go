// Package models defines the server-to-server SSO login session: a short
// lived handshake that lets a client application's backend delegate a login
// to the broker without the browser ever carrying a code.
package models

import "time"

// Status is the login session state. The lifecycle is linear:
// pending -> confirmed -> claimed, with expiry cutting it short.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	// StatusClaimed means the one-shot ticket has been handed out; the
	// session is spent.
	StatusClaimed Status = "claimed"
)

// LoginSession tracks one delegated login.
type LoginSession struct {
	ID          string     `json:"id"`
	AppID       string     `json:"app_id"`
	Status      Status     `json:"status"`
	UserID      string     `json:"user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Expired reports whether the session deadline has passed.
func (s *LoginSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Details is the projection served to the login page.
type Details struct {
	SessionID string    `json:"sessionId"`
	AppID     string    `json:"appId"`
	AppName   string    `json:"appName,omitempty"`
	LogoURL   string    `json:"logoUrl,omitempty"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}
