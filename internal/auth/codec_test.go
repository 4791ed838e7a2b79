package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCodecRoundTrip(t *testing.T) {
	codec, err := NewTokenCodec("secret")
	require.NoError(t, err)

	token, expiresAt, err := codec.Issue("user-1", KindAccess, 15*time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 2*time.Second)

	claims, err := codec.Verify(token, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, KindAccess, claims.Kind)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestTokenCodecTokensAreUnique(t *testing.T) {
	codec, err := NewTokenCodec("secret")
	require.NoError(t, err)

	first, _, err := codec.Issue("user-1", KindRefresh, time.Hour)
	require.NoError(t, err)
	second, _, err := codec.Issue("user-1", KindRefresh, time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestTokenCodecRejections(t *testing.T) {
	codec, err := NewTokenCodec("secret")
	require.NoError(t, err)
	other, err := NewTokenCodec("another-secret")
	require.NoError(t, err)

	refresh, _, err := codec.Issue("user-1", KindRefresh, time.Hour)
	require.NoError(t, err)
	forged, _, err := other.Issue("user-1", KindAccess, time.Hour)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	expiredCodec := &TokenCodec{secret: []byte("secret"), now: func() time.Time { return past }}
	expired, _, err := expiredCodec.Issue("user-1", KindAccess, time.Minute)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "user-1",
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		kind  TokenKind
		want  error
	}{
		{"wrong kind", refresh, KindAccess, ErrTokenKindMismatch},
		{"other secret", forged, KindAccess, ErrMalformedToken},
		{"expired", expired, KindAccess, ErrTokenExpired},
		{"alg none", unsigned, KindAccess, ErrMalformedToken},
		{"garbage", "a.b.c", KindAccess, ErrMalformedToken},
		{"tampered", refresh + "x", KindRefresh, ErrMalformedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tt.token, tt.kind)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenCodecRejectsUnknownType(t *testing.T) {
	codec, err := NewTokenCodec("secret")
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"type": "csrf",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = codec.Verify(token, KindAccess)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestNewTokenCodecRequiresSecret(t *testing.T) {
	_, err := NewTokenCodec("")
	assert.Error(t, err)
}
