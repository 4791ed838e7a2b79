package auth

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RolePractice Role = "practice"
)

// DefaultRole is the least-privileged role.
const DefaultRole = RolePractice

func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case "":
		return DefaultRole, nil
	case RoleAdmin, RolePractice:
		return Role(value), nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

type User struct {
	ID                  string
	Username            string
	Email               string
	FullName            string
	Password            PasswordHash
	Role                Role
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UserView is the shape returned to clients. It never carries the password.
type UserView struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name,omitempty"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func (u User) View() UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		LastLogin: u.LastLogin,
	}
}

// TokenKind is closed: the wire string only exists inside the codec.
type TokenKind int

const (
	KindAccess TokenKind = iota + 1
	KindRefresh
)

func (k TokenKind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

func parseTokenKind(value string) (TokenKind, bool) {
	switch value {
	case "access":
		return KindAccess, true
	case "refresh":
		return KindRefresh, true
	default:
		return 0, false
	}
}

type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// TokenPair is one ledger entry. The only mutation it ever sees is Revoked
// going from false to true.
type TokenPair struct {
	ID               string
	UserID           string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Revoked          bool
	UserAgent        string
	IPAddress        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func tokensFromPair(pair TokenPair, now time.Time) Tokens {
	expiresIn := int64(pair.AccessExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return Tokens{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
	}
}

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=100"`
	FullName string `json:"full_name" validate:"omitempty,min=1,max=100"`
	Password string `json:"password" validate:"required,min=8,max=100"`
	Role     string `json:"role" validate:"omitempty,oneof=admin practice"`
}
