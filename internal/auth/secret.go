// Package auth provides authentication primitives for docgate: API token
// secret generation and digesting, bearer header parsing, provider credential
// verification, and the resolver that turns a raw credential into an Identity.
// See internal/middleware/auth.go for the request-time wiring.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// MinSecretBytes is the minimum number of random bytes in a token secret.
	MinSecretBytes = 32
)

// GenerateTokenSecret creates a new high-entropy API token secret with the
// given prefix and returns both the plaintext (shown to the caller exactly
// once) and its digest (the only form that is ever persisted).
func GenerateTokenSecret(prefix string, numBytes int) (secret, digest string, err error) {
	if numBytes < MinSecretBytes {
		return "", "", fmt.Errorf("token secret requires at least %d random bytes, got %d", MinSecretBytes, numBytes)
	}

	randomBytes := make([]byte, numBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// URL-safe so the secret survives copy-paste into headers and env vars.
	secret = prefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	return secret, DigestSecret(secret), nil
}

// DigestSecret returns the hex-encoded SHA-256 digest of a token secret.
// The digest is deterministic on purpose: verification looks tokens up by
// digest through a unique index, never by token ID, so a salted hash would
// break the lookup. The secret itself carries the entropy.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer dg_abc123xyz..." — the same header carries both
// API token secrets and provider-issued tokens; the resolver disambiguates.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}

	return token, nil
}
