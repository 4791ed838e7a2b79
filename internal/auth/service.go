package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"authgate/internal/observability"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

type Service struct {
	users      UserStore
	codec      *TokenCodec
	ledger     *Ledger
	hasher     *PasswordHasher
	logger     *observability.Logger
	loginGate  RateGate
	lockout    LockoutPolicy
	accessTTL  time.Duration
	refreshTTL time.Duration
	// dummyHash is verified against when the username is unknown, so both
	// outcomes cost one argon2 derivation.
	dummyHash PasswordHash
	now       func() time.Time
}

func NewService(users UserStore, codec *TokenCodec, ledger *Ledger, hasher *PasswordHasher, logger *observability.Logger) (*Service, error) {
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("derive dummy password hash: %w", err)
	}

	return &Service{
		users:      users,
		codec:      codec,
		ledger:     ledger,
		hasher:     hasher,
		logger:     logger,
		lockout:    DefaultLockoutPolicy(),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		dummyHash:  dummy,
		now:        time.Now,
	}, nil
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, accessTTL time.Duration, refreshTTL time.Duration) {
	if maxAttempts > 0 {
		s.lockout.MaxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockout.LockFor = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

// WithLoginGate throttles login attempts per username before any store access.
// The key is the trimmed username as typed, matching the case-sensitive lookup.
func (s *Service) WithLoginGate(gate RateGate) {
	s.loginGate = gate
}

func (s *Service) Login(ctx context.Context, username, password string, meta ClientMeta) (Tokens, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	if s.loginGate != nil {
		allowed, err := s.loginGate.Allow(ctx, username)
		if err != nil {
			s.logger.Error("login_rate_gate_failed", map[string]any{"error": err.Error()})
		} else if !allowed {
			s.logger.Warn("login_rate_limited", map[string]any{"username": username, "ip": meta.IPAddress})
			return Tokens{}, ErrTooManyAttempts
		}
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.dummyHash.Verify(password)
			s.logger.Warn("login_failed", map[string]any{"reason": "unknown_username", "username": username, "ip": meta.IPAddress})
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}

	now := s.now().UTC()
	state := LoginState{FailedAttempts: user.FailedLoginAttempts, LockedUntil: user.LockedUntil}
	if state.LockedAt(now) {
		s.logger.Warn("login_failed", map[string]any{
			"reason":       "account_locked",
			"user_id":      user.ID,
			"locked_until": state.LockedUntil.Format(time.RFC3339),
			"ip":           meta.IPAddress,
		})
		return Tokens{}, ErrAccountLocked
	}

	if !user.Password.Verify(password) {
		next, err := s.users.RecordFailedLogin(ctx, user.ID, s.lockout, now)
		if err != nil {
			return Tokens{}, err
		}
		s.logger.Warn("login_failed", map[string]any{
			"reason":          "bad_password",
			"user_id":         user.ID,
			"failed_attempts": next.FailedAttempts,
			"ip":              meta.IPAddress,
		})
		if next.LockedAt(now) {
			s.logger.Warn("account_locked", map[string]any{
				"user_id":      user.ID,
				"locked_until": next.LockedUntil.Format(time.RFC3339),
			})
		}
		return Tokens{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.logger.Warn("login_failed", map[string]any{"reason": "inactive", "user_id": user.ID, "ip": meta.IPAddress})
		return Tokens{}, ErrAccountInactive
	}

	if err := s.users.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return Tokens{}, err
	}

	pair, err := s.ledger.IssuePair(ctx, user.ID, s.accessTTL, s.refreshTTL, meta)
	if err != nil {
		return Tokens{}, err
	}

	s.logger.Info("login_succeeded", map[string]any{"user_id": user.ID, "ip": meta.IPAddress})
	return tokensFromPair(pair, now), nil
}

// Refresh exchanges a refresh token for a new pair. Refresh tokens are single
// use: the presented pair is revoked in the same transaction that stores the
// replacement.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrMalformedToken
	}

	claims, err := s.codec.Verify(refreshToken, KindRefresh)
	if err != nil {
		s.logger.Warn("refresh_rejected", map[string]any{"reason": err.Error(), "ip": meta.IPAddress})
		if errors.Is(err, ErrTokenExpired) {
			s.revokeLapsed(ctx, refreshToken)
		}
		return Tokens{}, err
	}

	pair, err := s.ledger.FindActiveByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			// A correctly signed refresh token with no active entry has been
			// rotated or revoked already: either a replay or a stolen token.
			s.logger.Warn("refresh_token_reuse_detected", map[string]any{"user_id": claims.Subject, "jti": claims.ID, "ip": meta.IPAddress})
			return Tokens{}, ErrTokenRevokedOrUnknown
		}
		return Tokens{}, err
	}
	if pair.UserID != claims.Subject {
		s.logger.Warn("refresh_rejected", map[string]any{"reason": "subject_mismatch", "pair_id": pair.ID})
		return Tokens{}, ErrTokenRevokedOrUnknown
	}

	now := s.now().UTC()
	if !now.Before(pair.RefreshExpiresAt) {
		if err := s.ledger.Revoke(ctx, pair); err != nil {
			s.logger.Error("revoke_expired_pair_failed", map[string]any{"pair_id": pair.ID, "error": err.Error()})
		}
		return Tokens{}, ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, pair.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrAccountInactive
		}
		return Tokens{}, err
	}
	if !user.IsActive {
		s.logger.Warn("refresh_rejected", map[string]any{"reason": "inactive", "user_id": user.ID})
		return Tokens{}, ErrAccountInactive
	}

	next, err := s.ledger.Rotate(ctx, pair, s.accessTTL, s.refreshTTL, meta)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			s.logger.Warn("refresh_token_reuse_detected", map[string]any{"user_id": user.ID, "pair_id": pair.ID, "ip": meta.IPAddress})
			return Tokens{}, ErrTokenRevokedOrUnknown
		}
		return Tokens{}, err
	}

	s.logger.Info("refresh_succeeded", map[string]any{"user_id": user.ID, "old_pair_id": pair.ID, "new_pair_id": next.ID})
	return tokensFromPair(next, now), nil
}

// revokeLapsed retires the ledger entry of a refresh token whose signature is
// valid but whose expiry has passed. The token string is unique in the
// ledger, so a hit belongs to the presenter's pair.
func (s *Service) revokeLapsed(ctx context.Context, refreshToken string) {
	pair, err := s.ledger.FindActiveByRefreshToken(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			s.logger.Error("lookup_expired_pair_failed", map[string]any{"error": err.Error()})
		}
		return
	}
	if err := s.ledger.Revoke(ctx, pair); err != nil {
		s.logger.Error("revoke_expired_pair_failed", map[string]any{"pair_id": pair.ID, "error": err.Error()})
		return
	}
	s.logger.Info("expired_pair_revoked", map[string]any{"pair_id": pair.ID, "user_id": pair.UserID})
}

// Logout never fails. A valid access token revokes every pair of its owner;
// anything else is a no-op.
func (s *Service) Logout(ctx context.Context, accessToken string) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return
	}

	claims, err := s.codec.Verify(accessToken, KindAccess)
	if err != nil {
		s.logger.Info("logout_without_valid_token", map[string]any{"reason": err.Error()})
		return
	}

	revoked, err := s.ledger.RevokeAllForUser(ctx, claims.Subject)
	if err != nil {
		s.logger.Error("logout_revoke_failed", map[string]any{"user_id": claims.Subject, "error": err.Error()})
		observability.CaptureError(err, map[string]string{"operation": "logout"})
		return
	}

	s.logger.Info("logout_succeeded", map[string]any{"user_id": claims.Subject, "revoked_pairs": revoked})
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	input = normalizeRegisterInput(input)
	if err := validateRegisterInput(input); err != nil {
		return User{}, err
	}

	role, err := ParseRole(input.Role)
	if err != nil {
		return User{}, ErrInvalidInput
	}

	taken, err := s.users.UsernameExists(ctx, input.Username)
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrDuplicateUsername
	}

	taken, err = s.users.EmailExists(ctx, input.Email)
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrDuplicateEmail
	}

	password, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now().UTC()
	user := User{
		ID:        id.String(),
		Username:  input.Username,
		Email:     input.Email,
		FullName:  input.FullName,
		Password:  password,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return User{}, err
	}

	s.logger.Info("user_registered", map[string]any{"user_id": user.ID, "username": user.Username, "role": string(user.Role)})
	return user, nil
}

// Authenticate resolves a bearer access token to its active owner.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (User, error) {
	claims, err := s.codec.Verify(accessToken, KindAccess)
	if err != nil {
		return User{}, err
	}

	pair, err := s.ledger.FindActiveByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return User{}, ErrTokenRevokedOrUnknown
		}
		return User{}, err
	}
	if pair.UserID != claims.Subject {
		return User{}, ErrTokenRevokedOrUnknown
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrUnauthenticated
		}
		return User{}, err
	}
	if !user.IsActive {
		return User{}, ErrAccountInactive
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, limit int) ([]User, error) {
	return s.users.ListUsers(ctx, limit)
}

// BootstrapAdmin creates the configured admin account once. An existing
// account with that username is left untouched.
func (s *Service) BootstrapAdmin(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" && email == "" && password == "" {
		return nil
	}
	if username == "" || email == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME, ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	_, err := s.Register(ctx, RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
		Role:     string(RoleAdmin),
	})
	if errors.Is(err, ErrDuplicateUsername) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create admin %q: %w", username, err)
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"username": username})
	return nil
}
