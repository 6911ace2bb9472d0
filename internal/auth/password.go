package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Upper bounds accepted when reading a stored hash. A hash pasted into
// auth.users with huge parameters would otherwise let every login attempt
// allocate that much memory on the gateway.
const (
	maxHashMemoryKiB  = 256 * 1024
	maxHashIterations = 16
)

var ErrEmptyPassword = errors.New("password must not be empty")

type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{
		memory:      64 * 1024, // 64 MB, sized for the small boards these run on
		iterations:  3,
		parallelism: 2,
		saltLength:  16,
		keyLength:   32,
	}
}

// argon2Hash is the decoded form of $argon2id$v=19$m=..,t=..,p=..$salt$key.
type argon2Hash struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (h argon2Hash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key))
}

func decodeArgon2Hash(encoded string) (argon2Hash, error) {
	var h argon2Hash

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return h, fmt.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return h, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.iterations, &h.parallelism); err != nil {
		return h, fmt.Errorf("failed to parse parameters: %w", err)
	}
	if h.memory == 0 || h.memory > maxHashMemoryKiB || h.iterations == 0 || h.iterations > maxHashIterations || h.parallelism == 0 {
		return h, fmt.Errorf("argon2 parameters %s out of bounds", parts[3])
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, fmt.Errorf("failed to decode salt: %w", err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return h, fmt.Errorf("failed to decode hash: %w", err)
	}
	if len(h.key) == 0 {
		return h, fmt.Errorf("empty hash")
	}
	return h, nil
}

// CheckHash reports whether encoded is an argon2id hash this gateway can
// verify against. Used when loading auth.users.
func CheckHash(encoded string) error {
	_, err := decodeArgon2Hash(encoded)
	return err
}

// HashPassword hashes a password using Argon2id
func (ph *PasswordHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	h := argon2Hash{
		memory:      ph.memory,
		iterations:  ph.iterations,
		parallelism: ph.parallelism,
		salt:        make([]byte, ph.saltLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	h.key = argon2.IDKey([]byte(password), h.salt, h.iterations, h.memory, h.parallelism, ph.keyLength)

	return h.String(), nil
}

// VerifyPassword verifies a password against its hash. The parameters
// recorded in the hash are used, not the hasher's own.
func (ph *PasswordHasher) VerifyPassword(password, encodedHash string) (bool, error) {
	h, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), h.salt, h.iterations, h.memory, h.parallelism, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(h.key, computed) == 1, nil
}
