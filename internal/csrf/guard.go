// Package csrf implements the signed double-submit cookie check.
package csrf

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	CookieName = "csrf_token"
	HeaderName = "X-CSRF-Token"

	tokenType = "csrf"
	tokenTTL  = time.Hour
)

var ErrValidationFailed = errors.New("csrf validation failed")

type claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

type Guard struct {
	secret       []byte
	cookieSecure bool
	now          func() time.Time
}

func NewGuard(secret string, cookieSecure bool) (*Guard, error) {
	if secret == "" {
		return nil, errors.New("csrf: empty secret")
	}
	return &Guard{secret: []byte(secret), cookieSecure: cookieSecure, now: time.Now}, nil
}

func (g *Guard) Issue() (string, error) {
	now := g.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})

	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign csrf token: %w", err)
	}
	return signed, nil
}

// Validate accepts the pair only when both are present, the cookie token is
// an unexpired CSRF token signed by this guard, and the header echoes it.
func (g *Guard) Validate(cookieToken, headerToken string) error {
	if cookieToken == "" || headerToken == "" {
		return ErrValidationFailed
	}

	parsed := claims{}
	_, err := jwt.ParseWithClaims(cookieToken, &parsed, func(token *jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil || parsed.Type != tokenType {
		return ErrValidationFailed
	}

	if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
		return ErrValidationFailed
	}
	return nil
}

func (g *Guard) IssueCookie(w http.ResponseWriter) (string, error) {
	token, err := g.Issue()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   g.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// ServeToken hands out a fresh token in both the cookie and the body.
func (g *Guard) ServeToken(w http.ResponseWriter, r *http.Request) {
	token, err := g.IssueCookie(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"csrf_token": token})
}
