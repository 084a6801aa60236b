package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"acero-store/internal/observability"
)

type contextKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}

// Middleware is the access gate for protected routes: a missing bearer token
// is 401, a bad or expired signature 403, and a token for a missing or
// deactivated user 401.
func Middleware(service *Service, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r)
		if err != nil {
			writeError(w, statusFor(err), "Access token required")
			return
		}

		userID, err := service.Tokens().VerifyAccessToken(token)
		if err != nil {
			writeError(w, statusFor(err), "Invalid or expired token")
			return
		}

		user, err := service.store.FindByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			sentry.CaptureException(err)
			logger.Error("auth_gate_lookup_failed", map[string]any{"error": err, "user_id": userID})
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !user.IsActive {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// BearerToken extracts the access token from the Authorization header and
// returns ErrUnauthorized when there is none.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrUnauthorized
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrUnauthorized
	}
	return token, nil
}

// statusFor maps access gate failures: no credentials is 401, credentials
// that fail verification are 403.
func statusFor(err error) int {
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return http.StatusForbidden
}

// RequireRole must run behind Middleware.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}
		if !user.HasRole(role) {
			writeError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}
