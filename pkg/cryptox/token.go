package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
	// TokenSize384 provides 384 bits of entropy (64 chars base64url). Used
	// for every bearer credential handed to a client.
	TokenSize384 = 48
)

// Purpose tags appended to the configured prefix so a leaked string tells
// you what it is without a database lookup.
const (
	TagAccess  = "at_"
	TagRefresh = "rt_"
	TagSession = "st_"
	TagMachine = "mt_"
)

// GenerateToken creates a cryptographically secure random token of the
// specified byte length, base64url-encoded without padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewBearerToken returns prefix+tag followed by 64 random characters along
// with the fingerprint that gets persisted. The plaintext must only ever be
// returned to the caller.
func NewBearerToken(prefix, tag string) (plain, fingerprint string, err error) {
	body, err := GenerateToken(TokenSize384)
	if err != nil {
		return "", "", err
	}
	plain = prefix + tag + body
	return plain, FingerprintToken(plain), nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token,
// base64url-encoded (43 chars). Only fingerprints are stored, never tokens.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
