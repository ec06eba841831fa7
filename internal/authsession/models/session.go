package models

import (
	"fmt"
	"time"
)

// Flow selects which grant an authorization session runs. Fixed at creation.
type Flow string

const (
	FlowAuthCode   Flow = "auth_code"
	FlowDeviceCode Flow = "device_code"
)

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool {
	return f == FlowAuthCode || f == FlowDeviceCode
}

// Status is the authorization session state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusDenied     Status = "denied"
	StatusConsumed   Status = "consumed"
	StatusExpired    Status = "expired"
)

// validTransitions is the authoritative transition table. Status never
// regresses: pending -> {authorized|denied} -> consumed (from authorized
// only), and any non-terminal state may expire.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusAuthorized, StatusDenied, StatusExpired},
	StatusAuthorized: {StatusConsumed, StatusExpired},
	StatusDenied:     {StatusExpired},
	StatusConsumed:   {},
	StatusExpired:    {},
}

// CanTransitionTo reports whether the transition s -> next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Session is the central entity of the authorization protocol.
//
// Invariants:
//   - Flow is immutable after creation and determines which optional field
//     group is populated; cross-flow fields are never both present
//   - Status only moves along validTransitions
//   - AuthorizationCode is minted exactly once, at decision time, and is
//     accepted at most once
//   - UserCode is unique among currently pending device sessions
type Session struct {
	ID          string `json:"id"`
	Flow        Flow   `json:"flow"`
	ClientAppID string `json:"client_app_id"`
	Status      Status `json:"status"`
	// UserID is set the moment an authenticated user is shown the consent
	// screen; it owns the eventual approve/deny decision.
	UserID string `json:"user_id,omitempty"`
	// DeviceDisplayName describes the initiating device ("Chrome on Mac OS X"),
	// shown on the consent screen.
	DeviceDisplayName string    `json:"device_display_name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`

	// Authorization-code flow fields.
	RedirectURI         string `json:"redirect_uri,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	AuthorizationCode   string `json:"authorization_code,omitempty"`
	State               string `json:"state,omitempty"`

	// Device-code flow fields.
	DeviceCode   string        `json:"device_code,omitempty"`
	UserCode     string        `json:"user_code,omitempty"`
	PollInterval time.Duration `json:"poll_interval,omitempty"`
	LastPolledAt time.Time     `json:"last_polled_at,omitempty"`
}

// Expired reports whether the session deadline has passed. Expiry is
// resolved lazily on every read and write; a stale stored Status never
// overrides the deadline.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// EffectiveStatus is the status callers observe: the stored status, unless
// the deadline has passed and the session was not already consumed.
func (s *Session) EffectiveStatus(now time.Time) Status {
	if s.Status != StatusConsumed && s.Expired(now) {
		return StatusExpired
	}
	return s.Status
}

// ValidateForDecision checks that a consent decision may be recorded.
func (s *Session) ValidateForDecision(now time.Time) error {
	if s.Expired(now) {
		return fmt.Errorf("session expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	if s.Status != StatusPending {
		return fmt.Errorf("session already decided: status is %s", s.Status)
	}
	return nil
}

// ValidateForConsume checks that the session may be redeemed for a
// credential right now.
func (s *Session) ValidateForConsume(now time.Time) error {
	if s.Status == StatusConsumed {
		return fmt.Errorf("session already used")
	}
	if s.Expired(now) {
		return fmt.Errorf("session expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	if s.Status != StatusAuthorized {
		return fmt.Errorf("session not authorized: status is %s", s.Status)
	}
	return nil
}

// MarkConsumed transitions the session to consumed. Callers must have
// validated first.
func (s *Session) MarkConsumed() {
	s.Status = StatusConsumed
}

// View is the read-only projection returned by status lookups. It never
// exposes codes or challenges.
type View struct {
	SessionID         string    `json:"sessionId"`
	AppID             string    `json:"appId"`
	AppName           string    `json:"appName,omitempty"`
	LogoURL           string    `json:"logoUrl,omitempty"`
	Flow              Flow      `json:"flow"`
	Status            Status    `json:"status"`
	UserID            string    `json:"userId,omitempty"`
	DeviceDisplayName string    `json:"deviceDisplayName,omitempty"`
	ExpiresAt         time.Time `json:"expiresAt"`
}
