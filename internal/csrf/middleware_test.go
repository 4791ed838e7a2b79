package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/internal/observability"
)

func TestMiddleware(t *testing.T) {
	guard := newTestGuard(t)
	token, err := guard.Issue()
	require.NoError(t, err)

	handler := Middleware(guard, observability.NewNopLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		method string
		path   string
		cookie string
		header string
		bearer bool
		want   int
	}{
		{"safe method", http.MethodGet, "/auth/csrf-token", "", "", false, http.StatusNoContent},
		{"options preflight", http.MethodOptions, "/auth/login", "", "", false, http.StatusNoContent},
		{"valid pair", http.MethodPost, "/auth/login", token, token, false, http.StatusNoContent},
		{"missing header", http.MethodPost, "/auth/login", token, "", false, http.StatusForbidden},
		{"missing cookie", http.MethodPost, "/auth/register", "", token, false, http.StatusForbidden},
		{"bearer outside auth", http.MethodPost, "/api/things", "", "", true, http.StatusNoContent},
		{"bearer on auth path", http.MethodPost, "/auth/logout", "", "", true, http.StatusForbidden},
		{"no bearer outside auth", http.MethodDelete, "/api/things", "", "", false, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(HeaderName, tt.header)
			}
			if tt.bearer {
				req.Header.Set("Authorization", "Bearer some-access-token")
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
