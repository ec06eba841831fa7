// Package handler exposes the server-to-server SSO login flow over HTTP.
// Application backends authenticate with their API key; the confirm endpoint
// is called by the broker's own frontend with the user's bearer token.
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

	"mirpass/internal/platform/middleware"
	"mirpass/internal/ssologin/models"
	"mirpass/internal/ssologin/service"
	dErrors "mirpass/pkg/domain-errors"
	"mirpass/pkg/platform/httputil"
)

// Service is the slice of the SSO login service the handler needs.
type Service interface {
	Init(ctx context.Context, appID string) (*models.LoginSession, error)
	Details(ctx context.Context, sessionID string) (*models.Details, error)
	Confirm(ctx context.Context, sessionID, userID string) error
	Poll(ctx context.Context, sessionID, appID string) (*service.PollResult, error)
	Verify(ctx context.Context, ticket, appID string) (string, error)
}

// Handler handles the /sso endpoints.
type Handler struct {
	logins      Service
	logger      *slog.Logger
	validator   middleware.TokenValidator
	apiKeys     middleware.APIKeyResolver
	frontendURL string
}

// New creates an SSO login Handler.
func New(logins Service, validator middleware.TokenValidator, apiKeys middleware.APIKeyResolver, logger *slog.Logger, frontendURL string) *Handler {
	return &Handler{
		logins:      logins,
		logger:      logger,
		validator:   validator,
		apiKeys:     apiKeys,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// Register registers the /sso routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sso", func(r chi.Router) {
		r.Get("/details", h.handleDetails)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(h.apiKeys, h.logger))
			r.Post("/init", h.handleInit)
			r.Get("/poll", h.handlePoll)
			r.Post("/verify", h.handleVerify)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.validator, h.logger))
			r.Post("/confirm", h.handleConfirm)
		})
	})
}

type initResponse struct {
	SessionID string `json:"session_id"`
	LoginURL  string `json:"login_url"`
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	appID := middleware.GetAppID(r.Context())
	if appID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	session, err := h.logins.Init(r.Context(), appID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, initResponse{
		SessionID: session.ID,
		LoginURL:  fmt.Sprintf("%s/sso/login?session_id=%s", h.frontendURL, url.QueryEscape(session.ID)),
	})
}

func (h *Handler) handleDetails(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session_id is required"))
		return
	}

	details, err := h.logins.Details(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.SessionID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session_id is required"))
		return
	}

	if err := h.logins.Confirm(r.Context(), req.SessionID, userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	appID := middleware.GetAppID(r.Context())
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session_id is required"))
		return
	}

	result, err := h.logins.Poll(r.Context(), sessionID, appID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type verifyRequest struct {
	Ticket string `json:"ticket"`
}

type verifyResponse struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	appID := middleware.GetAppID(r.Context())

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Ticket == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "ticket is required"))
		return
	}

	userID, err := h.logins.Verify(r.Context(), req.Ticket, appID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{UserID: userID})
}
