package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Service credential sizes in random bytes (hex doubles the length).
const (
	APIKeyBytes = 32
	SecretBytes = 48
)

// NewServiceCredentials returns a fresh hex API key and secret.
func NewServiceCredentials() (apiKey, secret string, err error) {
	k, err := RandBytes(APIKeyBytes)
	if err != nil {
		return "", "", err
	}
	s, err := RandBytes(SecretBytes)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(k), hex.EncodeToString(s), nil
}

// HashSecret returns the SHA-256 digest of a service secret for storage.
func HashSecret(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}

// TokenFingerprint returns the hex SHA-256 of a raw token.
func TokenFingerprint(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
