package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrTooManyAttempts    = errors.New("too many login attempts")

	ErrTokenExpired          = errors.New("token expired")
	ErrTokenRevokedOrUnknown = errors.New("token revoked or unknown")
	ErrTokenKindMismatch     = errors.New("token kind mismatch")
	ErrMalformedToken        = errors.New("malformed or forged token")

	ErrDuplicateUsername = errors.New("username already registered")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrWeakPassword      = errors.New("password does not meet strength requirements")
	ErrInvalidInput      = errors.New("invalid input")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")

	// ErrTokenNotFound is what the ledger reports for any lookup that finds no
	// non-revoked row. Callers treat it exactly like an invalid credential.
	ErrTokenNotFound = errors.New("token not found")
	ErrUserNotFound  = errors.New("user not found")
)
