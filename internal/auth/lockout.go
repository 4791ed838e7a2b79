package auth

import "time"

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

type LockoutPolicy struct {
	MaxAttempts int
	LockFor     time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: defaultMaxAttempts, LockFor: defaultLockWindow}
}

// LoginState is the lockout-relevant slice of a user row.
type LoginState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

func (s LoginState) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// RegisterFailure returns the state after one more failed login. A lock that
// has already expired is forgotten, so counting restarts from one.
func (p LockoutPolicy) RegisterFailure(state LoginState, now time.Time) LoginState {
	failed := state.FailedAttempts
	lockedUntil := state.LockedUntil

	if lockedUntil != nil && !now.Before(*lockedUntil) {
		failed = 0
		lockedUntil = nil
	}

	failed++
	if failed >= p.MaxAttempts && lockedUntil == nil {
		until := now.UTC().Add(p.LockFor)
		lockedUntil = &until
	}

	return LoginState{FailedAttempts: failed, LockedUntil: lockedUntil}
}
