// Package auth issues and checks credentials for the REST, WebSocket and
// gRPC surfaces: JWT access tokens for users, hashed API tokens for
// machines.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/storage"
)

type Permission string

const (
	PermRead    Permission = "read"
	PermCommand Permission = "command:send"
	PermAdmin   Permission = "admin"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid token")
)

// Store holds accounts and API tokens. PostgresClient implements it, as
// does StaticStore for accounts listed in the config file.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	GetMachineTokenByHash(ctx context.Context, tokenHash string) (*storage.MachineToken, error)
	IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, maxAttempts int) error
	ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	UpdateMachineTokenLastUsed(ctx context.Context, tokenID uuid.UUID) error
	LogAuthEvent(ctx context.Context, eventType string, userID, machineTokenID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error
}

type AuthService struct {
	store           Store
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator
	maxFailed       int
}

func NewAuthService(store Store, cfg config.AuthConfig) *AuthService {
	maxFailed := cfg.MaxFailedLoginAttempts
	if maxFailed <= 0 {
		maxFailed = 5
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{
		store:           store,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), ttl),
		passwordHasher:  NewPasswordHasher(),
		machineTokenGen: NewMachineTokenGenerator(),
		maxFailed:       maxFailed,
	}
}

// LoginUser authenticates a user and returns an access token with its
// expiry.
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (string, time.Time, error) {
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		a.logAuthEvent(ctx, "user_login_failed", nil, nil, ipAddress, userAgent, false, "user not found")
		return "", time.Time{}, ErrInvalidCredentials
	}

	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		return "", time.Time{}, fmt.Errorf("%w until %s", ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		_ = a.store.IncrementFailedLoginAttempts(ctx, user.ID, a.maxFailed)
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, nil, ipAddress, userAgent, false, "invalid password")
		return "", time.Time{}, ErrInvalidCredentials
	}

	_ = a.store.ResetFailedLoginAttempts(ctx, user.ID)

	token, expires, err := a.jwtHandler.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	_ = a.store.UpdateLastLogin(ctx, user.ID)
	a.logAuthEvent(ctx, "user_login_success", &user.ID, nil, ipAddress, userAgent, true, "")

	return token, expires, nil
}

// ValidateMachineToken checks an API token and returns its permissions.
func (a *AuthService) ValidateMachineToken(ctx context.Context, token, ipAddress, userAgent string) ([]Permission, error) {
	if !a.machineTokenGen.ValidateTokenFormat(token) {
		return nil, ErrInvalidToken
	}

	machineToken, err := a.store.GetMachineTokenByHash(ctx, a.machineTokenGen.HashToken(token))
	if err != nil {
		a.logAuthEvent(ctx, "machine_token_failed", nil, nil, ipAddress, userAgent, false, "token not found")
		return nil, ErrInvalidToken
	}

	_ = a.store.UpdateMachineTokenLastUsed(ctx, machineToken.ID)
	a.logAuthEvent(ctx, "machine_token_success", nil, &machineToken.ID, ipAddress, userAgent, true, "")

	permissions := make([]Permission, len(machineToken.Permissions))
	for i, p := range machineToken.Permissions {
		permissions[i] = Permission(p)
	}
	return permissions, nil
}

// ValidateToken accepts either a JWT or an API token.
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress, userAgent string) ([]Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return RolePermissions(claims.Role), nil
	}
	return a.ValidateMachineToken(ctx, token, ipAddress, userAgent)
}

// HashPassword produces an argon2id hash for the users section of the
// config file.
func (a *AuthService) HashPassword(password string) (string, error) {
	return a.passwordHasher.HashPassword(password)
}

// RolePermissions expands a role into its permissions.
func RolePermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermRead, PermCommand, PermAdmin}
	case RoleOperator:
		return []Permission{PermRead, PermCommand}
	default:
		return []Permission{PermRead}
	}
}

// HasPermission reports whether perms grants required. Admin grants all.
func HasPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p == required || p == PermAdmin {
			return true
		}
	}
	return false
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType string, userID, machineTokenID *uuid.UUID, ip, userAgent string, success bool, reason string) {
	_ = a.store.LogAuthEvent(ctx, eventType, userID, machineTokenID, ip, userAgent, success, reason)
}
