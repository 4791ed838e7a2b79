package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	maxUserAgentLength = 255
	maxIPAddressLength = 45
)

// Ledger is the durable registry of issued token pairs. The signature decides
// integrity and expiry; the ledger decides whether a token was revoked.
type Ledger struct {
	codec *TokenCodec
	store TokenStore
	now   func() time.Time
}

func NewLedger(codec *TokenCodec, store TokenStore) *Ledger {
	return &Ledger{codec: codec, store: store, now: time.Now}
}

func (l *Ledger) IssuePair(ctx context.Context, userID string, accessTTL, refreshTTL time.Duration, meta ClientMeta) (TokenPair, error) {
	pair, err := l.mint(userID, accessTTL, refreshTTL, meta)
	if err != nil {
		return TokenPair{}, err
	}

	if err := l.store.InsertPair(ctx, pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Rotate revokes old and issues its replacement atomically. ErrTokenNotFound
// means old was already revoked by someone else.
func (l *Ledger) Rotate(ctx context.Context, old TokenPair, accessTTL, refreshTTL time.Duration, meta ClientMeta) (TokenPair, error) {
	next, err := l.mint(old.UserID, accessTTL, refreshTTL, meta)
	if err != nil {
		return TokenPair{}, err
	}

	if err := l.store.RotatePair(ctx, old.ID, next, l.now().UTC()); err != nil {
		return TokenPair{}, err
	}
	return next, nil
}

func (l *Ledger) FindActiveByRefreshToken(ctx context.Context, token string) (TokenPair, error) {
	if token == "" {
		return TokenPair{}, ErrTokenNotFound
	}
	return l.store.FindActiveByRefreshToken(ctx, token)
}

func (l *Ledger) FindActiveByAccessToken(ctx context.Context, token string) (TokenPair, error) {
	if token == "" {
		return TokenPair{}, ErrTokenNotFound
	}
	return l.store.FindActiveByAccessToken(ctx, token)
}

// Revoke is idempotent: revoking an already revoked pair is not an error.
func (l *Ledger) Revoke(ctx context.Context, pair TokenPair) error {
	if _, err := l.store.RevokePair(ctx, pair.ID, l.now().UTC()); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return l.store.RevokeAllForUser(ctx, userID, l.now().UTC())
}

func (l *Ledger) mint(userID string, accessTTL, refreshTTL time.Duration, meta ClientMeta) (TokenPair, error) {
	if userID == "" {
		return TokenPair{}, errors.New("ledger: empty user id")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate ledger id: %w", err)
	}

	access, accessExp, err := l.codec.Issue(userID, KindAccess, accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := l.codec.Issue(userID, KindRefresh, refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	now := l.now().UTC()
	return TokenPair{
		ID:               id.String(),
		UserID:           userID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		UserAgent:        truncate(meta.UserAgent, maxUserAgentLength),
		IPAddress:        truncate(meta.IPAddress, maxIPAddressLength),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
