package task

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy computes how long a failed task waits before it becomes
// eligible again:
//
//	delay(attempt) = min(BaseDelay * 2^(attempt-1), MaxDelay) + rand[0, Jitter*delay)
//
// attempt is the task's retry_count after the failure, starting at 1.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64

	// random returns a value in [0, 1). Tests replace it.
	random func() float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 5 * time.Second, MaxDelay: 10 * time.Minute, Jitter: 0.2}
}

// Delay returns the wait before the task's next attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := exponential(p.BaseDelay, p.MaxDelay, attempt)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	random := p.random
	if random == nil {
		random = rand.Float64
	}
	return d + time.Duration(random()*p.Jitter*float64(d))
}

// exponential returns base*2^(attempt-1) capped at max, without overflowing.
func exponential(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if max > 0 && d >= max/2 {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
