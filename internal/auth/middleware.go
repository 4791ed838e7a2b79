package auth

import (
	"context"
	"net/http"
	"strings"

	"authgate/internal/observability"
)

type contextKey struct{}

var userContextKey = contextKey{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey).(User)
	return user, ok
}

// Middleware resolves the bearer access token to an active user and stores it
// in the request context.
func Middleware(service *Service, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeUnauthorized(w, "missing authorization token")
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "invalid authorization format")
			return
		}

		user, err := service.Authenticate(r.Context(), token)
		if err != nil {
			if isCredentialError(err) {
				writeUnauthorized(w, "invalid or expired token")
				return
			}
			logger.Error("authenticate_failed", map[string]any{"error": err.Error()})
			observability.CaptureError(err, map[string]string{"operation": "authenticate"})
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireRole must sit behind Middleware.
func RequireRole(role Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeUnauthorized(w, "not authenticated")
			return
		}
		if err := authorize(user, role); err != nil {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authorize(user User, role Role) error {
	if user.Role != role {
		return ErrForbidden
	}
	return nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}
