package auth

import (
	"context"
	"time"
)

// UserStore is the credential store. Lockout counters are mutated in place and
// persisted immediately.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, user User) error
	ListUsers(ctx context.Context, limit int) ([]User, error)
	RecordFailedLogin(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (LoginState, error)
	RecordSuccessfulLogin(ctx context.Context, userID string, now time.Time) error
}

// TokenStore persists ledger entries.
//
// RotatePair is the refresh concurrency contract: it revokes oldID only if it
// is currently non-revoked and inserts next in the same transaction. When the
// conditional revoke touches no row the caller lost the race (or is replaying)
// and gets ErrTokenNotFound; nothing is inserted.
type TokenStore interface {
	InsertPair(ctx context.Context, pair TokenPair) error
	FindActiveByRefreshToken(ctx context.Context, token string) (TokenPair, error)
	FindActiveByAccessToken(ctx context.Context, token string) (TokenPair, error)
	RevokePair(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	RotatePair(ctx context.Context, oldID string, next TokenPair, now time.Time) error
}

// RateGate is the abstract per-key throttle the service consults before
// touching the credential store.
type RateGate interface {
	Allow(ctx context.Context, key string) (bool, error)
}
