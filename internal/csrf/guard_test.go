package csrf

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	guard, err := NewGuard("csrf-secret", true)
	require.NoError(t, err)
	return guard
}

func TestGuardValidate(t *testing.T) {
	guard := newTestGuard(t)
	token, err := guard.Issue()
	require.NoError(t, err)

	other, err := NewGuard("other-secret", true)
	require.NoError(t, err)
	forged, err := other.Issue()
	require.NoError(t, err)

	second, err := guard.Issue()
	require.NoError(t, err)

	assert.NoError(t, guard.Validate(token, token))

	tests := []struct {
		name   string
		cookie string
		header string
	}{
		{"missing cookie", "", token},
		{"missing header", token, ""},
		{"mismatch", token, second},
		{"forged cookie", forged, forged},
		{"garbage", "abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, guard.Validate(tt.cookie, tt.header), ErrValidationFailed)
		})
	}
}

func TestGuardRejectsExpiredToken(t *testing.T) {
	guard := newTestGuard(t)
	past := time.Now().Add(-2 * time.Hour)
	guard.now = func() time.Time { return past }
	token, err := guard.Issue()
	require.NoError(t, err)

	guard.now = time.Now
	assert.ErrorIs(t, guard.Validate(token, token), ErrValidationFailed)
}

func TestGuardServeToken(t *testing.T) {
	guard := newTestGuard(t)
	rec := httptest.NewRecorder()
	guard.ServeToken(rec, httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, CookieName, cookie.Name)
	assert.Equal(t, body["csrf_token"], cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 3600, cookie.MaxAge)

	assert.NoError(t, guard.Validate(cookie.Value, body["csrf_token"]))
}

func TestNewGuardRequiresSecret(t *testing.T) {
	_, err := NewGuard("", false)
	assert.Error(t, err)
}
