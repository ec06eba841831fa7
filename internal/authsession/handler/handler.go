// Package handler exposes the authorization session protocol over HTTP: the
// OAuth endpoints spoken by client applications and the consent endpoints
// spoken by the first-party frontend.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"mirpass/internal/authsession/models"
	"mirpass/internal/authsession/service"
	"mirpass/internal/credential"
	"mirpass/internal/platform/middleware"
	dErrors "mirpass/pkg/domain-errors"
	"mirpass/pkg/platform/httputil"
	"mirpass/pkg/random"
)

// GrantTypeDeviceCode is the RFC 8628 grant type URN.
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// Service is the slice of the session manager the handler needs.
type Service interface {
	InitiateAuthCode(ctx context.Context, req service.InitiateAuthCodeRequest) (*models.Session, error)
	InitiateDeviceCode(ctx context.Context, req service.InitiateDeviceCodeRequest) (*models.Session, error)
	Decide(ctx context.Context, sessionID, userID string, approve bool) (*models.Session, error)
	GetStatus(ctx context.Context, sessionID string) (*models.View, error)
	GetStatusByUserCode(ctx context.Context, userCode string) (*models.View, error)
	RedeemAuthCode(ctx context.Context, req service.RedeemAuthCodeRequest) (*credential.Credential, error)
	RedeemDeviceCode(ctx context.Context, deviceCode, clientAppID string) (*credential.Credential, error)
}

// Handler handles the session protocol endpoints.
type Handler struct {
	sessions    Service
	logger      *slog.Logger
	validator   middleware.TokenValidator
	frontendURL string
	backendURL  string
}

// New creates a session protocol Handler. frontendURL hosts the consent and
// device verification pages; backendURL is the public base of this service.
func New(sessions Service, validator middleware.TokenValidator, logger *slog.Logger, frontendURL, backendURL string) *Handler {
	return &Handler{
		sessions:    sessions,
		logger:      logger,
		validator:   validator,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		backendURL:  strings.TrimRight(backendURL, "/"),
	}
}

// Register registers the protocol routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/oauth2/authorize", h.handleAuthorize)
	r.Post("/oauth2/authorize", h.handleAuthorize)
	r.Post("/oauth2/devicecode", h.handleDeviceCode)
	r.Post("/oauth2/token", h.handleToken)
	r.Get("/.well-known/openid-configuration", h.handleDiscovery)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/authorize/request", h.handleGetRequest)
		r.Get("/authorize/request/by-user-code", h.handleGetRequestByUserCode)
		r.Post("/authorize/request/consent", h.handleConsent)
	})
}

// handleAuthorize starts an authorization-code session and redirects the
// browser to the consent page. Client and redirect failures are answered
// directly: redirecting to an unvalidated URI is exactly what the check
// prevents.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request parameters"))
		return
	}

	session, err := h.sessions.InitiateAuthCode(r.Context(), service.InitiateAuthCodeRequest{
		ClientAppID:         r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		State:               r.Form.Get("state"),
		UserAgent:           r.UserAgent(),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	target := fmt.Sprintf("%s/authorize?sessionId=%s", h.frontendURL, url.QueryEscape(session.ID))
	http.Redirect(w, r, target, http.StatusFound)
}

// deviceCodeResponse is the RFC 8628 device authorization response.
type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

func (h *Handler) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, dErrors.CodeBadRequest)
		return
	}

	session, err := h.sessions.InitiateDeviceCode(r.Context(), service.InitiateDeviceCodeRequest{
		ClientAppID: r.Form.Get("client_id"),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}

	userCode := random.FormatUserCode(session.UserCode)
	verificationURI := h.frontendURL + "/device"
	httputil.WriteJSON(w, http.StatusOK, deviceCodeResponse{
		DeviceCode:              session.DeviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?userCode=" + url.QueryEscape(userCode),
		ExpiresIn:               int(session.ExpiresAt.Sub(session.CreatedAt).Seconds()),
		Interval:                int(session.PollInterval.Seconds()),
	})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, dErrors.CodeBadRequest)
		return
	}

	var (
		cred *credential.Credential
		err  error
	)
	switch grantType := r.Form.Get("grant_type"); grantType {
	case "authorization_code":
		cred, err = h.sessions.RedeemAuthCode(r.Context(), service.RedeemAuthCodeRequest{
			Code:         r.Form.Get("code"),
			CodeVerifier: r.Form.Get("code_verifier"),
			ClientAppID:  r.Form.Get("client_id"),
			ClientSecret: r.Form.Get("client_secret"),
		})
	case GrantTypeDeviceCode:
		cred, err = h.sessions.RedeemDeviceCode(r.Context(), r.Form.Get("device_code"), r.Form.Get("client_id"))
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, cred)
}

// writeTokenError serializes a domain error in the OAuth body shape.
// Expected poll outcomes stay at 400 like every other grant failure;
// internal errors become an opaque server_error.
func (h *Handler) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		h.logger.ErrorContext(r.Context(), "token endpoint failure",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()))
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	httputil.WriteOAuthError(w, code)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "sessionId is required"))
		return
	}

	view, err := h.sessions.GetStatus(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleGetRequestByUserCode(w http.ResponseWriter, r *http.Request) {
	userCode := normalizeUserCode(r.URL.Query().Get("userCode"))
	if userCode == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "userCode is required"))
		return
	}

	view, err := h.sessions.GetStatusByUserCode(r.Context(), userCode)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// normalizeUserCode tolerates the display form: lowercase and the hyphen the
// verification page inserts.
func normalizeUserCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

type consentRequest struct {
	SessionID string `json:"sessionId"`
	Approve   bool   `json:"approve"`
}

type consentResponse struct {
	SessionID   string        `json:"sessionId"`
	Status      models.Status `json:"status"`
	RedirectURI string        `json:"redirectUri,omitempty"`
}

// handleConsent records the authenticated user's decision. For approved
// auth-code sessions the response carries the redirect target with code and
// state so the frontend can send the browser back to the application.
func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.SessionID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "sessionId is required"))
		return
	}

	session, err := h.sessions.Decide(r.Context(), req.SessionID, userID, req.Approve)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := consentResponse{SessionID: session.ID, Status: session.Status}
	if session.Status == models.StatusAuthorized && session.Flow == models.FlowAuthCode {
		resp.RedirectURI = buildRedirect(session)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// buildRedirect appends code and state to the trusted redirect URI.
func buildRedirect(session *models.Session) string {
	u, err := url.Parse(session.RedirectURI)
	if err != nil {
		return session.RedirectURI
	}
	q := u.Query()
	q.Set("code", session.AuthorizationCode)
	if session.State != "" {
		q.Set("state", session.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// handleDiscovery serves the subset of OpenID Provider metadata the broker
// implements.
func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"issuer":                         h.backendURL,
		"authorization_endpoint":         h.backendURL + "/oauth2/authorize",
		"token_endpoint":                 h.backendURL + "/oauth2/token",
		"device_authorization_endpoint":  h.backendURL + "/oauth2/devicecode",
		"response_types_supported":       []string{"code"},
		"grant_types_supported":          []string{"authorization_code", GrantTypeDeviceCode},
		"code_challenge_methods_supported": []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post"},
	})
}
