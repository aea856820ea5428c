package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BaseDelay: 5 * time.Second, MaxDelay: time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{200, time.Minute},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, p.Delay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestRetryPolicy_Jitter(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: time.Hour, Jitter: 0.5, random: func() float64 { return 0.5 }}
	assert.Equal(t, 12500*time.Millisecond, p.Delay(1))

	p.random = nil
	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 20*time.Second)
		assert.Less(t, d, 30*time.Second)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	p.Jitter = 0
	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Minute, p.Delay(30))
}

func TestExponential_NoMax(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 800*time.Millisecond, exponential(100*time.Millisecond, 0, 4))
	assert.Zero(t, exponential(0, time.Second, 3))
}
