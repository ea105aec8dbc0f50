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

// Argon2id cost parameters. The hash is computed once at startup and on each
// /auth/token attempt, so the memory-hard setting mostly prices brute-forcing
// the operator key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

var errMalformedHash = errors.New("auth: malformed key hash")

// HashAPIKey hashes the operator API key with Argon2id. The result encodes
// salt and digest as base64, separated by '$'.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	digest := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(digest), nil
}

// VerifyAPIKey checks a presented key against a stored hash in constant time.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	salt, digest, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(digest, computed) == 1, nil
}

// DummyVerify burns one Argon2id computation with the real cost parameters.
// Call it on auth failure paths where no hash was actually checked (no admin
// key configured, empty request), so response timing does not reveal which
// failure happened.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

func decodeHash(encoded string) (salt, digest []byte, err error) {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return nil, nil, errMalformedHash
	}
	salt, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("auth: decode salt: %w", err)
	}
	digest, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("auth: decode digest: %w", err)
	}
	return salt, digest, nil
}
