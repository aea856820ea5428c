package memory_test

import (
	"context"
	"testing"

	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/platform/memory"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/phrazzld/taskqueue/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TaskStore {
		return memory.NewTaskStore()
	})
}

func TestTaskStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.NewTaskStore()
	task := storetest.NewTask(t, "job", 5, storetest.Base)
	require.NoError(t, s.Create(ctx, task))

	task.Status = domain.TaskStatusFailed
	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status, "mutating the caller's task must not affect the store")

	got.Priority = 0
	again, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, again.Priority)
}

func TestTaskStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := memory.NewTaskStore()
	task := storetest.NewTask(t, "job", 5, storetest.Base)
	require.NoError(t, s.Create(ctx, task))

	dup := *task
	assert.ErrorIs(t, s.Create(ctx, &dup), store.ErrDuplicate)
}

func TestTaskStore_ClaimHonorsCancelledContext(t *testing.T) {
	s := memory.NewTaskStore()
	require.NoError(t, s.Create(context.Background(), storetest.NewTask(t, "job", 5, storetest.Base)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ClaimNext(ctx, "worker-1", storetest.Base)
	assert.ErrorIs(t, err, context.Canceled)
}
