package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authgate/internal/observability"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]User)}
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *memUserStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return ErrDuplicateUsername
		}
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *memUserStore) ListUsers(_ context.Context, limit int) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *memUserStore) RecordFailedLogin(_ context.Context, userID string, policy LockoutPolicy, now time.Time) (LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return LoginState{}, ErrUserNotFound
	}
	next := policy.RegisterFailure(LoginState{FailedAttempts: user.FailedLoginAttempts, LockedUntil: user.LockedUntil}, now)
	user.FailedLoginAttempts = next.FailedAttempts
	user.LockedUntil = next.LockedUntil
	s.users[userID] = user
	return next, nil
}

func (s *memUserStore) RecordSuccessfulLogin(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now
	s.users[userID] = user
	return nil
}

func (s *memUserStore) update(t *testing.T, userID string, fn func(*User)) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	require.True(t, ok, "unknown user %s", userID)
	fn(&user)
	s.users[userID] = user
}

type memTokenStore struct {
	mu    sync.Mutex
	pairs map[string]TokenPair
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{pairs: make(map[string]TokenPair)}
}

func (s *memTokenStore) InsertPair(_ context.Context, pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pair.ID] = pair
	return nil
}

func (s *memTokenStore) FindActiveByRefreshToken(_ context.Context, token string) (TokenPair, error) {
	return s.findActive(func(p TokenPair) bool { return p.RefreshToken == token })
}

func (s *memTokenStore) FindActiveByAccessToken(_ context.Context, token string) (TokenPair, error) {
	return s.findActive(func(p TokenPair) bool { return p.AccessToken == token })
}

func (s *memTokenStore) findActive(match func(TokenPair) bool) (TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range s.pairs {
		if !pair.Revoked && match(pair) {
			return pair, nil
		}
	}
	return TokenPair{}, ErrTokenNotFound
}

func (s *memTokenStore) RevokePair(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairs[id]
	if !ok || pair.Revoked {
		return false, nil
	}
	pair.Revoked = true
	pair.UpdatedAt = now
	s.pairs[id] = pair
	return true, nil
}

func (s *memTokenStore) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked int64
	for id, pair := range s.pairs {
		if pair.UserID == userID && !pair.Revoked {
			pair.Revoked = true
			pair.UpdatedAt = now
			s.pairs[id] = pair
			revoked++
		}
	}
	return revoked, nil
}

func (s *memTokenStore) RotatePair(_ context.Context, oldID string, next TokenPair, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.pairs[oldID]
	if !ok || old.Revoked {
		return ErrTokenNotFound
	}
	old.Revoked = true
	old.UpdatedAt = now
	s.pairs[oldID] = old
	s.pairs[next.ID] = next
	return nil
}

func (s *memTokenStore) activeFor(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active int
	for _, pair := range s.pairs {
		if pair.UserID == userID && !pair.Revoked {
			active++
		}
	}
	return active
}

type stubGate struct {
	allowed bool
	err     error
	keys    []string
}

func (g *stubGate) Allow(_ context.Context, key string) (bool, error) {
	g.keys = append(g.keys, key)
	return g.allowed, g.err
}

const testPassword = "GoodP@ss1"

type testEnv struct {
	service *Service
	codec   *TokenCodec
	users   *memUserStore
	tokens  *memTokenStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	codec, err := NewTokenCodec("test-signing-secret")
	require.NoError(t, err)

	users := newMemUserStore()
	tokens := newMemTokenStore()
	hasher := NewPasswordHasher(HasherParams{Time: 1, MemoryKiB: 1024, Parallelism: 1})
	service, err := NewService(users, codec, NewLedger(codec, tokens), hasher, observability.NewNopLogger())
	require.NoError(t, err)

	return &testEnv{service: service, codec: codec, users: users, tokens: tokens}
}

// advance moves the service and codec clocks together.
func (e *testEnv) advance(d time.Duration) {
	later := time.Now().Add(d)
	clock := func() time.Time { return later }
	e.service.now = clock
	e.codec.now = clock
}

func (e *testEnv) register(t *testing.T, username string) User {
	t.Helper()
	user, err := e.service.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) login(t *testing.T, username string) Tokens {
	t.Helper()
	tokens, err := e.service.Login(context.Background(), username, testPassword, ClientMeta{UserAgent: "test", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	return tokens
}
