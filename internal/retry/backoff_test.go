package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/retry"
)

func TestBackoffZeroAttempt(t *testing.T) {
	assert.Equal(t, time.Duration(0), retry.Backoff(0, time.Second, time.Minute))
	assert.Equal(t, time.Duration(0), retry.Backoff(-3, time.Second, time.Minute))
}

func TestBackoffBounds(t *testing.T) {
	base := 1000 * time.Millisecond
	max := 60000 * time.Millisecond

	for attempt := 1; attempt <= 5; attempt++ {
		exp := base << uint(attempt-1)
		upper := exp + exp/4

		// Jitter is random; sample a few times per attempt.
		for i := 0; i < 20; i++ {
			got := retry.Backoff(attempt, base, max)
			assert.GreaterOrEqual(t, got, exp, "attempt %d", attempt)
			assert.LessOrEqual(t, got, upper, "attempt %d", attempt)
			assert.LessOrEqual(t, got, max)
		}
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	// 10s * 2^9 is far past the cap; the result must be exactly max.
	got := retry.Backoff(10, 10*time.Second, 60*time.Second)
	assert.Equal(t, 60*time.Second, got)
}

func TestBackoffSaturatesOnHugeAttempts(t *testing.T) {
	// Shifts that would overflow int64 must clamp, not panic.
	for _, attempt := range []int{63, 64, 100, 1 << 20} {
		got := retry.Backoff(attempt, time.Second, time.Minute)
		assert.Equal(t, time.Minute, got, "attempt %d", attempt)
	}
}
