package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// apiKeyPrefix marks keys issued by this service so they are recognizable
// in configs and bug reports without revealing anything about the owner.
const apiKeyPrefix = "gsc_"

// apiKeyBytes is the entropy per key. 32 random bytes makes enumeration and
// collisions equally hopeless; the key is the sole credential for the
// streaming endpoint.
const apiKeyBytes = 32

// NewAPIKey generates an opaque, collision-resistant API key. Keys are never
// derived from user attributes.
func NewAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewStateNonce generates a single-use random state value for CSRF
// protection on the OAuth redirect.
func NewStateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
