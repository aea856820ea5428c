package metrics_test

import (
	"testing"

	"github.com/phrazzld/taskqueue/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	metrics.TasksEnqueuedTotal.WithLabelValues("metrics.test").Inc()
	metrics.TaskAttemptsTotal.WithLabelValues("metrics.test", metrics.OutcomeCompleted).Inc()
	metrics.Tasks.WithLabelValues("pending").Set(3)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"taskqueue_tasks_enqueued_total",
		"taskqueue_task_attempts_total",
		"taskqueue_tasks",
		"taskqueue_claim_errors_total",
		"taskqueue_workers_busy",
	} {
		assert.True(t, names[name], "%s not registered", name)
	}

	assert.InDelta(t, 3, testutil.ToFloat64(metrics.Tasks.WithLabelValues("pending")), 1e-9)
}
