package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff returns the sleep before retry number attempt (1-based):
// min(base * 2^(attempt-1) + jitter, max) with jitter uniform in
// [0, exponential/4]. Attempt 0 sleeps nothing. The shift saturates
// instead of overflowing, so absurd attempt numbers just hit the cap.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}

	exp := base
	if shift := uint(attempt - 1); shift > 0 {
		if shift >= 63 || base > math.MaxInt64>>shift {
			exp = math.MaxInt64
		} else {
			exp = base << shift
		}
	}

	delay := exp
	if quarter := int64(exp / 4); quarter > 0 {
		jitter := time.Duration(rand.Int63n(quarter + 1))
		if delay > math.MaxInt64-jitter {
			delay = math.MaxInt64
		} else {
			delay += jitter
		}
	}

	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
