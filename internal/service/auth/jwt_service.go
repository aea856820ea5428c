// Package auth authenticates task producers with HS256 JWTs or API keys
// checked against bcrypt hashes.
package auth

import (
	"context"
	"time"
)

// Issuer is the iss claim of every token minted by this service.
const Issuer = "taskqueue"

// JWTService defines operations for managing producer tokens.
type JWTService interface {
	// GenerateToken creates a signed token for subject, usually the name of
	// the producing service.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken validates the provided token string and extracts the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken on failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the validated content of a producer token.
type Claims struct {
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	ID        string    `json:"jti"`
}
