package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/taskqueue/internal/api/shared"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/phrazzld/taskqueue/internal/service/auth"
)

// APIKeyHeader carries a producer API key.
const APIKeyHeader = "X-API-Key"

// APIKeySubject is the subject recorded for requests authenticated by API key.
const APIKeySubject = "api-key"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// KeyVerifier verifies API keys.
type KeyVerifier interface {
	Verify(key string) error
}

// AuthMiddleware authenticates producers with a bearer JWT or an API key.
// Either method may be disabled by passing nil.
type AuthMiddleware struct {
	tokens TokenValidator
	keys   KeyVerifier
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(tokens TokenValidator, keys KeyVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, keys: keys}
}

// Authenticate rejects requests without valid credentials and records the
// authenticated subject in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(APIKeyHeader); key != "" && m.keys != nil {
			if err := m.keys.Verify(key); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid API key", err,
					shared.WithElevatedLogLevel())
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.WithSubject(r.Context(), APIKeySubject)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || m.tokens == nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.tokens.ValidateToken(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrExpiredToken):
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Token expired", err)
			return
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenNotYetValid):
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid token", err,
				shared.WithElevatedLogLevel())
			return
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err)
			return
		}

		ctx := shared.WithSubject(r.Context(), claims.Subject)
		ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("subject", claims.Subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
