package retry_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/retry"
)

func TestRecordFailureSequence(t *testing.T) {
	const maxRetries = 3
	tracker := retry.NewTracker(maxRetries)
	cause := errors.New("db timeout")

	// Retry(1) .. Retry(maxRetries), then one step past the bound exhausts.
	for want := 1; want <= maxRetries; want++ {
		out := tracker.RecordFailure("msg-1", cause)
		assert.False(t, out.Exhausted, "attempt %d should still retry", want)
		assert.Equal(t, want, out.Attempt)
		assert.Len(t, out.History, want)
		assert.Equal(t, want, tracker.GetAttempt("msg-1"))
	}

	out := tracker.RecordFailure("msg-1", cause)
	assert.True(t, out.Exhausted)
	assert.Equal(t, maxRetries+1, out.Attempt)
	require.Len(t, out.History, maxRetries+1)

	for i, a := range out.History {
		assert.Equal(t, i+1, a.Attempt)
		assert.Equal(t, "db timeout", a.Error)
		assert.False(t, a.Timestamp.IsZero())
	}

	// Exhaustion removes the entry so memory stays bounded.
	assert.Equal(t, 0, tracker.GetAttempt("msg-1"))
	assert.Equal(t, 0, tracker.Len())
}

func TestRecordFailureZeroBudgetExhaustsImmediately(t *testing.T) {
	tracker := retry.NewTracker(0)

	out := tracker.RecordFailure("msg-1", errors.New("boom"))
	assert.True(t, out.Exhausted)
	assert.Equal(t, 1, out.Attempt)
	assert.Len(t, out.History, 1)
}

func TestRecordFailureNilCause(t *testing.T) {
	tracker := retry.NewTracker(2)

	out := tracker.RecordFailure("msg-1", nil)
	require.Len(t, out.History, 1)
	assert.Equal(t, "unknown error", out.History[0].Error)
}

func TestClear(t *testing.T) {
	tracker := retry.NewTracker(5)
	tracker.RecordFailure("msg-1", errors.New("x"))
	tracker.RecordFailure("msg-2", errors.New("x"))

	tracker.Clear("msg-1")

	assert.Equal(t, 0, tracker.GetAttempt("msg-1"))
	assert.Equal(t, 1, tracker.GetAttempt("msg-2"))

	// Clearing an absent id is a no-op.
	tracker.Clear("msg-unknown")
	assert.Equal(t, 1, tracker.Len())
}

func TestCleanupStale(t *testing.T) {
	tracker := retry.NewTracker(5)
	tracker.RecordFailure("msg-1", errors.New("x"))
	tracker.RecordFailure("msg-2", errors.New("x"))

	assert.Equal(t, 0, tracker.CleanupStale(time.Hour), "fresh entries survive")
	assert.Equal(t, 2, tracker.Len())

	assert.Equal(t, 2, tracker.CleanupStale(0), "zero max age drops everything")
	assert.Equal(t, 0, tracker.Len())
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tracker := retry.NewTracker(1000)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("msg-%d", n%4)
			for j := 0; j < 50; j++ {
				tracker.RecordFailure(id, errors.New("x"))
				tracker.GetAttempt(id)
			}
		}(i)
	}
	wg.Wait()

	// 8 goroutines x 50 failures spread over 4 ids.
	total := 0
	for i := 0; i < 4; i++ {
		total += tracker.GetAttempt(fmt.Sprintf("msg-%d", i))
	}
	assert.Equal(t, 400, total)
}

func TestCleanupGuard(t *testing.T) {
	t.Run("clears unless defused", func(t *testing.T) {
		tracker := retry.NewTracker(5)
		tracker.RecordFailure("msg-1", errors.New("x"))

		g := retry.NewCleanupGuard(tracker, "msg-1")
		g.Cleanup()

		assert.Equal(t, 0, tracker.GetAttempt("msg-1"))
	})

	t.Run("defused guard leaves state alone", func(t *testing.T) {
		tracker := retry.NewTracker(5)
		tracker.RecordFailure("msg-1", errors.New("x"))

		g := retry.NewCleanupGuard(tracker, "msg-1")
		g.Defuse()
		g.Cleanup()

		assert.Equal(t, 1, tracker.GetAttempt("msg-1"))
	})

	t.Run("survives the panic path", func(t *testing.T) {
		tracker := retry.NewTracker(5)
		tracker.RecordFailure("msg-1", errors.New("x"))

		func() {
			defer func() { _ = recover() }()
			g := retry.NewCleanupGuard(tracker, "msg-1")
			defer g.Cleanup()
			panic("handler blew up")
		}()

		assert.Equal(t, 0, tracker.GetAttempt("msg-1"), "panic exit must clear the entry")
	})
}
