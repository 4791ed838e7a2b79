package csrf

import (
	"encoding/json"
	"net/http"
	"strings"

	"authgate/internal/observability"
)

func Middleware(guard *Guard, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		var cookieToken string
		if cookie, err := r.Cookie(CookieName); err == nil {
			cookieToken = cookie.Value
		}

		if err := guard.Validate(cookieToken, r.Header.Get(HeaderName)); err != nil {
			logger.Warn("csrf_validation_failed", map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"ip":     observability.ClientIP(r),
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "CSRF token validation failed"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// exempt skips safe methods and bearer-authenticated API calls. Bearer
// headers are never attached by browsers on their own, so they cannot be
// forged cross-site. Auth endpoints stay guarded regardless.
func exempt(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	if strings.HasPrefix(r.URL.Path, "/auth/") {
		return false
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	return len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ")
}
