package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "mirpass/pkg/domain-errors"
	"mirpass/pkg/platform/httputil"
)

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*TokenClaims, error)
}

// TokenClaims are the claims handlers rely on after authentication.
type TokenClaims struct {
	UserID   string
	ClientID string
}

// APIKeyResolver resolves a raw application API key to the owning
// application's ID.
type APIKeyResolver interface {
	ResolveByAPIKey(ctx context.Context, rawKey string) (string, error)
}

type contextKeyUserID struct{}
type contextKeyAppID struct{}

var (
	ContextKeyUserID = contextKeyUserID{}
	ContextKeyAppID  = contextKeyAppID{}
)

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(ContextKeyUserID).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetAppID retrieves the API-key-authenticated application ID from the context.
func GetAppID(ctx context.Context) string {
	appID, ok := ctx.Value(ContextKeyAppID).(string)
	if !ok {
		return ""
	}
	return appID
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated user in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAPIKey authenticates server-to-server calls through the X-Api-Key
// header and stores the resolved application ID in the request context.
func RequireAPIKey(resolver APIKeyResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-Api-Key")
			if rawKey == "" {
				writeUnauthorized(w)
				return
			}

			appID, err := resolver.ResolveByAPIKey(r.Context(), rawKey)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid api key",
					"request_id", GetRequestID(r.Context()),
				)
				// A suspended application authenticates but is forbidden; that
				// distinction must survive to the response.
				if dErrors.Is(err, dErrors.CodeForbidden) {
					httputil.WriteError(w, err)
					return
				}
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAppID, appID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired credentials"}`))
}
