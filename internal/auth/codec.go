package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type tokenClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Claims is the verified view of a bearer token.
type Claims struct {
	Subject   string
	Kind      TokenKind
	ID        string
	ExpiresAt time.Time
}

// TokenCodec signs and verifies HS256 bearer tokens. Claims are not encrypted,
// so nothing beyond the subject and kind belongs in them.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

func NewTokenCodec(secret string) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is empty")
	}
	return &TokenCodec{secret: []byte(secret), now: time.Now}, nil
}

func (c *TokenCodec) Issue(subject string, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is empty")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", time.Time{}, fmt.Errorf("unsupported token kind %d", kind)
	}

	jti, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}

	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	claims := tokenClaims{
		Type: kind.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}

	// NumericDate truncates to whole seconds; report what the token carries.
	return signed, claims.ExpiresAt.Time, nil
}

func (c *TokenCodec) Verify(token string, expected TokenKind) (Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrMalformedToken
	}

	kind, ok := parseTokenKind(claims.Type)
	if !ok {
		return Claims{}, ErrMalformedToken
	}
	if kind != expected {
		return Claims{}, ErrTokenKindMismatch
	}

	return Claims{
		Subject:   claims.Subject,
		Kind:      kind,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
