package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repository is the PostgreSQL credential store and token ledger. Both tables
// live in app_schema.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, username, email, COALESCE(full_name, ''), hashed_password, role, is_active,
	failed_login_attempts, locked_until, last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var role string
	var lockedUntil, lastLogin sql.NullTime
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.Password, &role, &user.IsActive,
		&user.FailedLoginAttempts, &lockedUntil, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	user.Role = Role(role)
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		user.LockedUntil = &value
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		user.LastLogin = &value
	}
	return user, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM app_schema.users
		WHERE username = $1
	`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}
	return user, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM app_schema.users
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return user, nil
}

func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM app_schema.users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM app_schema.users WHERE email = $1)`, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

func (r *Repository) CreateUser(ctx context.Context, user User) error {
	var fullName any
	if user.FullName != "" {
		fullName = user.FullName
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_schema.users (id, username, email, full_name, hashed_password, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, user.ID, user.Username, user.Email, fullName, user.Password, string(user.Role), user.IsActive, user.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case "users_username_key":
				return ErrDuplicateUsername
			case "users_email_key":
				return ErrDuplicateEmail
			}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) ListUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM app_schema.users
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// RecordFailedLogin locks the user row, applies the policy and writes the new
// counter before returning, so concurrent failures never lose an increment.
func (r *Repository) RecordFailedLogin(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (LoginState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoginState{}, fmt.Errorf("begin failed login tx: %w", err)
	}
	defer tx.Rollback()

	var state LoginState
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_login_attempts, locked_until
		FROM app_schema.users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&state.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginState{}, ErrUserNotFound
		}
		return LoginState{}, fmt.Errorf("lock user row: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		state.LockedUntil = &value
	}

	next := policy.RegisterFailure(state, now)

	var nextLock any
	if next.LockedUntil != nil {
		nextLock = next.LockedUntil.UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE app_schema.users
		SET failed_login_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, userID, next.FailedAttempts, nextLock, now.UTC()); err != nil {
		return LoginState{}, fmt.Errorf("update failed login: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LoginState{}, fmt.Errorf("commit failed login tx: %w", err)
	}
	return next, nil
}

func (r *Repository) RecordSuccessfulLogin(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE app_schema.users
		SET failed_login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = $2
		WHERE id = $1
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	return nil
}

const pairColumns = `id, user_id, access_token, refresh_token, access_token_expires_at, refresh_token_expires_at,
	is_revoked, COALESCE(user_agent, ''), COALESCE(ip_address, ''), created_at, updated_at`

func scanPair(row rowScanner) (TokenPair, error) {
	var pair TokenPair
	err := row.Scan(
		&pair.ID, &pair.UserID, &pair.AccessToken, &pair.RefreshToken, &pair.AccessExpiresAt, &pair.RefreshExpiresAt,
		&pair.Revoked, &pair.UserAgent, &pair.IPAddress, &pair.CreatedAt, &pair.UpdatedAt,
	)
	if err != nil {
		return TokenPair{}, err
	}
	pair.AccessExpiresAt = pair.AccessExpiresAt.UTC()
	pair.RefreshExpiresAt = pair.RefreshExpiresAt.UTC()
	return pair, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPair(ctx context.Context, db execer, pair TokenPair) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO app_schema.tokens (
			id, user_id, access_token, refresh_token, access_token_expires_at, refresh_token_expires_at,
			is_revoked, user_agent, ip_address, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NULLIF($7, ''), NULLIF($8, ''), $9, $9)
	`, pair.ID, pair.UserID, pair.AccessToken, pair.RefreshToken, pair.AccessExpiresAt.UTC(), pair.RefreshExpiresAt.UTC(),
		pair.UserAgent, pair.IPAddress, pair.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert token pair: %w", err)
	}
	return nil
}

func (r *Repository) InsertPair(ctx context.Context, pair TokenPair) error {
	return insertPair(ctx, r.db, pair)
}

func (r *Repository) FindActiveByRefreshToken(ctx context.Context, token string) (TokenPair, error) {
	return r.findActive(ctx, "refresh_token", token)
}

func (r *Repository) FindActiveByAccessToken(ctx context.Context, token string) (TokenPair, error) {
	return r.findActive(ctx, "access_token", token)
}

func (r *Repository) findActive(ctx context.Context, column, token string) (TokenPair, error) {
	pair, err := scanPair(r.db.QueryRowContext(ctx, `
		SELECT `+pairColumns+`
		FROM app_schema.tokens
		WHERE `+column+` = $1 AND is_revoked = FALSE
	`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TokenPair{}, ErrTokenNotFound
		}
		return TokenPair{}, fmt.Errorf("query token by %s: %w", column, err)
	}
	return pair, nil
}

func (r *Repository) RevokePair(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE app_schema.tokens
		SET is_revoked = TRUE, updated_at = $2
		WHERE id = $1 AND is_revoked = FALSE
	`, id, now.UTC())
	if err != nil {
		return false, fmt.Errorf("revoke token pair: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke token pair rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *Repository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE app_schema.tokens
		SET is_revoked = TRUE, updated_at = $2
		WHERE user_id = $1 AND is_revoked = FALSE
	`, userID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) RotatePair(ctx context.Context, oldID string, next TokenPair, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE app_schema.tokens
		SET is_revoked = TRUE, updated_at = $2
		WHERE id = $1 AND is_revoked = FALSE
	`, oldID, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke rotated pair: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke rotated pair rows affected: %w", err)
	}
	if affected != 1 {
		return ErrTokenNotFound
	}

	if err := insertPair(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation tx: %w", err)
	}
	return nil
}

// RevokeExpiredPairs flips the revoked flag on entries whose refresh token has
// lapsed. Rows are kept for audit.
func (r *Repository) RevokeExpiredPairs(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM app_schema.tokens
			WHERE is_revoked = FALSE AND refresh_token_expires_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		UPDATE app_schema.tokens t
		SET is_revoked = TRUE, updated_at = $1
		FROM stale
		WHERE t.id = stale.id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("revoke expired token pairs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired token pairs rows affected: %w", err)
	}
	return affected, nil
}
