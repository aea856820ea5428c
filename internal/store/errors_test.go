package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrTaskNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrTaskNotFound, ErrNotFound)
	assert.ErrorIs(t, fmt.Errorf("get task: %w", ErrTaskNotFound), ErrNotFound)
	assert.NotErrorIs(t, ErrTransient, ErrNotFound)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(ErrTransient))
	assert.True(t, IsTransientError(NewStoreError("task", "claim", "connection lost", ErrTransient)))
	assert.False(t, IsTransientError(ErrTaskNotFound))
	assert.False(t, IsTransientError(nil))
}

func TestStoreError(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := NewStoreError("task", "update", "write failed", cause)

	assert.Equal(t, "update operation on task failed: write failed: driver: bad connection", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NewStoreError("task", "list", "scan failed", nil)
	assert.Equal(t, "list operation on task failed: scan failed", bare.Error())
	assert.Nil(t, bare.Unwrap())
}
