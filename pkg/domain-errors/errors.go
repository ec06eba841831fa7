// Package domainerrors provides coded errors for the service's domain layer.
//
// Services return these so transport layers can map failures onto HTTP
// statuses and OAuth error strings without string matching. Stores do NOT
// use this package; they return pkg/platform/sentinel errors and services
// translate at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure. The string value is the wire
// representation used in error envelopes and OAuth error bodies.
type Code string

const (
	// Protocol codes for the authorization session state machine.
	CodeInvalidClient        Code = "invalid_client"
	CodeInvalidRedirect      Code = "invalid_redirect"
	CodeSessionNotFound      Code = "session_not_found"
	CodeSessionExpired       Code = "session_expired"
	CodeInvalidState         Code = "invalid_state"
	CodeInvalidGrant         Code = "invalid_grant"
	CodeAuthorizationPending Code = "authorization_pending"
	CodeSlowDown             Code = "slow_down"
	CodeAccessDenied         Code = "access_denied"
	CodeExpiredToken         Code = "expired_token"

	// Ambient codes shared by every module.
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"
)

// Error carries a Code alongside a human-readable message and an optional
// wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through errors.Is/errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the domain code from err, or CodeInternal when err is not
// a domain error. A nil err yields the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the domain message of err, or a generic fallback for
// non-domain errors so internals never leak to clients.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// ToHTTPStatus maps a code onto the HTTP status the transport layer should
// answer with. OAuth poll outcomes (authorization_pending, slow_down, ...) are
// expected results of the device flow and deliberately map to 400 per RFC 8628.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidClient, CodeInvalidRedirect, CodeInvalidState,
		CodeInvalidGrant, CodeAuthorizationPending, CodeSlowDown,
		CodeAccessDenied, CodeExpiredToken, CodeBadRequest,
		CodeInvariantViolation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeSessionExpired:
		return http.StatusGone
	case CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
