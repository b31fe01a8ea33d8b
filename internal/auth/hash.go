package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for agent API keys. Keys are verified once per
// token exchange, not per request, so the 64 MB memory cost is paid rarely.
const (
	hashScheme  = "argon2id"
	hashTime    = 1
	hashMemory  = 64 * 1024 // KiB
	hashThreads = 4
	hashKeyLen  = 32
	hashSaltLen = 16
)

// HashAPIKey derives an Argon2id hash of the key under a fresh random salt
// and encodes it as scheme$salt$hash with unpadded base64.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(apiKey), salt, hashTime, hashMemory, hashThreads, hashKeyLen)

	return strings.Join([]string{
		hashScheme,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	}, "$"), nil
}

// VerifyAPIKey reports whether apiKey matches an encoded hash produced by
// HashAPIKey. The comparison is constant time.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != hashScheme {
		return false, fmt.Errorf("auth: malformed key hash")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(apiKey), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns one Argon2id derivation at the standard cost. Auth
// failure paths that never checked a real hash call it so response timing
// does not reveal whether an agent_id exists.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, hashSaltLen), hashTime, hashMemory, hashThreads, hashKeyLen)
}
