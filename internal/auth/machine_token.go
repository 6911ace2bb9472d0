package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// API tokens look like orv_<uuid>_<64 hex chars>. Only the SHA-256 of the
// whole string is stored.
const (
	machineTokenPrefix = "orv_"
	tokenSecretBytes   = 32
)

// IssuedToken is a freshly generated API token. Token is shown to the
// operator once; Hash and Permissions go into auth.api_tokens.
type IssuedToken struct {
	Name        string
	Token       string
	Hash        string
	Permissions []Permission
}

type MachineTokenGenerator struct{}

func NewMachineTokenGenerator() *MachineTokenGenerator {
	return &MachineTokenGenerator{}
}

// ParsePermissions checks names against the permissions the gateway
// enforces and drops duplicates, keeping the first occurrence.
func ParsePermissions(names []string) ([]Permission, error) {
	out := make([]Permission, 0, len(names))
	seen := make(map[Permission]bool, len(names))
	for _, n := range names {
		p := Permission(strings.TrimSpace(n))
		switch p {
		case PermRead, PermCommand, PermAdmin:
		default:
			return nil, fmt.Errorf("unknown permission %q", n)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Issue generates a token scoped to the given permissions. Granting
// command:send without read is allowed: a pure command sender never needs
// to list entities.
func (m *MachineTokenGenerator) Issue(name string, permissions []string) (*IssuedToken, error) {
	if name == "" {
		return nil, fmt.Errorf("token name must not be empty")
	}
	perms, err := ParsePermissions(permissions)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, fmt.Errorf("token %q needs at least one permission", name)
	}

	token, hash, err := m.GenerateMachineToken()
	if err != nil {
		return nil, err
	}
	return &IssuedToken{Name: name, Token: token, Hash: hash, Permissions: perms}, nil
}

// GenerateMachineToken returns a new token and its storage hash.
func (m *MachineTokenGenerator) GenerateMachineToken() (string, string, error) {
	secret := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token := machineTokenPrefix + uuid.New().String() + "_" + hex.EncodeToString(secret)
	return token, m.HashToken(token), nil
}

func (m *MachineTokenGenerator) HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateTokenFormat rejects anything that could not have come from
// GenerateMachineToken, so JWTs and junk never reach the store lookup.
func (m *MachineTokenGenerator) ValidateTokenFormat(token string) bool {
	rest, ok := strings.CutPrefix(token, machineTokenPrefix)
	if !ok {
		return false
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok {
		return false
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return false
	}
	raw, err := hex.DecodeString(secret)
	return err == nil && len(raw) == tokenSecretBytes
}
