package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/storage"
)

const lockDuration = 15 * time.Minute

var _ Store = (*storage.PostgresClient)(nil)

var accountNamespace = uuid.MustParse("6f1c1a52-9a4e-4d7e-8f5b-2b1f0c6d7a11")

// StaticStore serves the users and API tokens listed in the config file.
// Lockout state is kept in memory.
type StaticStore struct {
	mu     sync.Mutex
	users  map[string]*storage.User
	tokens map[string]*storage.MachineToken
	now    func() time.Time
}

func NewStaticStore(cfg config.AuthConfig) (*StaticStore, error) {
	s := &StaticStore{
		users:  make(map[string]*storage.User, len(cfg.Users)),
		tokens: make(map[string]*storage.MachineToken, len(cfg.APITokens)),
		now:    time.Now,
	}
	for _, u := range cfg.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("auth.users: username and password_hash are required")
		}
		if err := CheckHash(u.PasswordHash); err != nil {
			return nil, fmt.Errorf("auth.users %q: %w", u.Username, err)
		}
		role := u.Role
		if role == "" {
			role = RoleViewer
		}
		s.users[u.Username] = &storage.User{
			ID:           uuid.NewSHA1(accountNamespace, []byte("user:"+u.Username)),
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         role,
		}
	}
	for _, t := range cfg.APITokens {
		if t.TokenHash == "" {
			return nil, fmt.Errorf("auth.api_tokens %q: token_hash is required", t.Name)
		}
		perms, err := ParsePermissions(t.Permissions)
		if err != nil {
			return nil, fmt.Errorf("auth.api_tokens %q: %w", t.Name, err)
		}
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = string(p)
		}
		s.tokens[t.TokenHash] = &storage.MachineToken{
			ID:          uuid.NewSHA1(accountNamespace, []byte("token:"+t.TokenHash)),
			TokenHash:   t.TokenHash,
			Name:        t.Name,
			Permissions: names,
		}
	}
	return s, nil
}

func (s *StaticStore) GetUserByUsername(_ context.Context, username string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *StaticStore) GetMachineTokenByHash(_ context.Context, tokenHash string) (*storage.MachineToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("token: %w", storage.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *StaticStore) IncrementFailedLoginAttempts(_ context.Context, userID uuid.UUID, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID != userID {
			continue
		}
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= maxAttempts {
			until := s.now().Add(lockDuration)
			u.LockedUntil = &until
		}
	}
	return nil
}

func (s *StaticStore) ResetFailedLoginAttempts(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == userID {
			u.FailedLoginAttempts = 0
			u.LockedUntil = nil
		}
	}
	return nil
}

func (s *StaticStore) UpdateLastLogin(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, u := range s.users {
		if u.ID == userID {
			u.LastLoginAt = &now
		}
	}
	return nil
}

func (s *StaticStore) UpdateMachineTokenLastUsed(_ context.Context, tokenID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, t := range s.tokens {
		if t.ID == tokenID {
			t.LastUsedAt = &now
		}
	}
	return nil
}

// LogAuthEvent is a no-op; static deployments rely on the process log.
func (s *StaticStore) LogAuthEvent(context.Context, string, *uuid.UUID, *uuid.UUID, string, string, bool, string) error {
	return nil
}
