package store_test

import (
	"testing"

	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestTaskFilter_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     store.TaskFilter
		limit  int
		offset int
	}{
		{"defaults", store.TaskFilter{}, store.DefaultListLimit, 0},
		{"keeps valid values", store.TaskFilter{Limit: 10, Offset: 20}, 10, 20},
		{"caps limit", store.TaskFilter{Limit: 10_000}, store.MaxListLimit, 0},
		{"clamps negative offset", store.TaskFilter{Limit: 5, Offset: -3}, 5, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Normalize()
			assert.Equal(t, tc.limit, got.Limit)
			assert.Equal(t, tc.offset, got.Offset)
		})
	}
}

func TestEmptyStatusCounts(t *testing.T) {
	t.Parallel()

	counts := store.EmptyStatusCounts()
	assert.Len(t, counts, len(domain.AllTaskStatuses))
	for _, s := range domain.AllTaskStatuses {
		v, ok := counts[s]
		assert.True(t, ok, "missing status %s", s)
		assert.Zero(t, v)
	}
}
