// Package audit captures structured audit events for the broker's security
// sensitive actions. Events are transport-agnostic so sinks can fan out to
// memory, logs, or Kafka.
package audit

import "time"

// Action identifies what happened.
type Action string

const (
	ActionSessionInitiated Action = "session_initiated"
	ActionDecisionRecorded Action = "decision_recorded"
	ActionCodeRedeemed     Action = "code_redeemed"
	ActionRedemptionFailed Action = "redemption_failed"
	ActionSessionsSwept    Action = "sessions_swept"
	ActionSSOLoginStarted  Action = "sso_login_started"
	ActionSSOLoginApproved Action = "sso_login_approved"
	ActionSSOLoginVerified Action = "sso_login_verified"
)

// Event is emitted from domain logic to capture key actions.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	SessionID   string    `json:"session_id,omitempty"`
	ClientAppID string    `json:"client_app_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Flow        string    `json:"flow,omitempty"`
	Decision    string    `json:"decision,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}
