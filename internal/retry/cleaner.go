package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
)

// Cleaner periodically drops tracker entries that have been idle past
// maxAge. It is the backstop for entries orphaned by handler paths the
// cleanup guard could not cover.
type Cleaner struct {
	tracker  *Tracker
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
}

func NewCleaner(tracker *Tracker, interval, maxAge time.Duration, log zerolog.Logger) *Cleaner {
	return &Cleaner{
		tracker:  tracker,
		interval: interval,
		maxAge:   maxAge,
		log:      log.With().Str("component", "retry-cleaner").Logger(),
	}
}

// Run ticks until ctx is canceled.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.Info().
		Dur("interval", c.interval).
		Dur("max_age", c.maxAge).
		Msg("retry cleaner started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("retry cleaner stopped")
			return
		case <-ticker.C:
			dropped := c.tracker.CleanupStale(c.maxAge)
			remaining := c.tracker.Len()
			metrics.SetRetryTrackerEntries(remaining)

			ev := c.log.Debug()
			if dropped > 0 {
				ev = c.log.Info()
			}
			ev.Int("dropped", dropped).Int("remaining", remaining).Msg("cleaned stale retry entries")
		}
	}
}
