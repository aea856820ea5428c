package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultAPIKeyCost is the bcrypt cost used by HashAPIKey.
const DefaultAPIKeyCost = bcrypt.DefaultCost

// APIKeyVerifier checks API keys against a fixed set of bcrypt hashes.
type APIKeyVerifier struct {
	hashes [][]byte
}

// NewAPIKeyVerifier validates and stores the configured hashes.
func NewAPIKeyVerifier(hashes []string) (*APIKeyVerifier, error) {
	v := &APIKeyVerifier{}
	for i, h := range hashes {
		h = strings.TrimSpace(h)
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("api key hash %d is not a bcrypt hash: %w", i, err)
		}
		v.hashes = append(v.hashes, []byte(h))
	}
	return v, nil
}

// Len returns the number of configured keys.
func (v *APIKeyVerifier) Len() int {
	return len(v.hashes)
}

// Verify returns nil when key matches one of the hashes.
func (v *APIKeyVerifier) Verify(key string) error {
	if key == "" {
		return ErrInvalidAPIKey
	}
	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return nil
		}
	}
	return ErrInvalidAPIKey
}

// HashAPIKey returns the bcrypt hash of key at the given cost.
func HashAPIKey(key string, cost int) (string, error) {
	if key == "" {
		return "", fmt.Errorf("api key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}
