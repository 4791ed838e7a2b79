package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"authgate/internal/observability"
)

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (Counter, error) {
	return Counter{}, errors.New("store unavailable")
}

func TestClassify(t *testing.T) {
	tests := map[string]Class{
		"/auth/login":      Login,
		"/auth/refresh":    General,
		"/api/me":          API,
		"/api/admin/users": API,
		"/health":          General,
		"/apiary":          General,
	}
	for path, want := range tests {
		assert.Equal(t, want, Classify(path), path)
	}
}

func TestMiddlewareBlocksOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore(0), map[Class]int{Login: 2, General: 100})
	handler := Middleware(limiter, observability.NewNopLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("/auth/login", "10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, send("/auth/login", "10.0.0.1").Code)

	rec := send("/auth/login", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, send("/auth/login", "10.0.0.2").Code)
	assert.Equal(t, http.StatusNoContent, send("/health", "10.0.0.1").Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	limiter := New(failingStore{}, time.Minute, nil)
	called := false
	handler := Middleware(limiter, observability.NewNopLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
