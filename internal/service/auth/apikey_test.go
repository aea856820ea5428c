package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAPIKeyVerifier(t *testing.T) {
	t.Parallel()

	hashA, err := HashAPIKey("key-a", bcrypt.MinCost)
	require.NoError(t, err)
	hashB, err := HashAPIKey("key-b", bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewAPIKeyVerifier([]string{hashA, " " + hashB + " "})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Len())

	assert.NoError(t, v.Verify("key-a"))
	assert.NoError(t, v.Verify("key-b"))
	assert.ErrorIs(t, v.Verify("key-c"), ErrInvalidAPIKey)
	assert.ErrorIs(t, v.Verify(""), ErrInvalidAPIKey)
}

func TestNewAPIKeyVerifier_RejectsPlaintext(t *testing.T) {
	t.Parallel()

	_, err := NewAPIKeyVerifier([]string{"plaintext-key"})
	assert.Error(t, err)
}

func TestHashAPIKey(t *testing.T) {
	t.Parallel()

	_, err := HashAPIKey("", bcrypt.MinCost)
	assert.Error(t, err)

	hash, err := HashAPIKey("secret-key", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret-key")))
}
