// Package retry keeps per-message attempt state for the consumer loops:
// an in-memory tracker with exponential backoff, a cleanup guard for the
// handler scope, and a background cleaner that drops stale entries.
package retry

import (
	"sync"
	"time"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
)

// Outcome is the tracker's verdict after a recorded failure. While
// Exhausted is false the caller should sleep Backoff(Attempt, ...) and try
// again.
type Outcome struct {
	Attempt   int
	Exhausted bool
	History   []domain.RetryAttempt
}

type state struct {
	attempt     int
	history     []domain.RetryAttempt
	lastUpdated time.Time
}

// Tracker maps message_id to retry state under a single mutex. Critical
// sections are O(1) appends; never hold the lock across I/O.
type Tracker struct {
	mu         sync.Mutex
	maxRetries int
	entries    map[string]*state
}

func NewTracker(maxRetries int) *Tracker {
	return &Tracker{
		maxRetries: maxRetries,
		entries:    make(map[string]*state),
	}
}

// RecordFailure increments the attempt count and appends to the history.
// attempt <= maxRetries still retries, so a message gets maxRetries+1
// total attempts before exhaustion; operators count on that off-by-one.
// The exhausted entry is removed immediately so memory stays bounded and
// GetAttempt reads 0 afterwards.
func (t *Tracker) RecordFailure(id string, cause error) Outcome {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.entries[id]
	if !ok {
		st = &state{}
		t.entries[id] = st
	}

	st.attempt++
	st.history = append(st.history, domain.RetryAttempt{
		Attempt:   st.attempt,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	})
	st.lastUpdated = time.Now()

	if st.attempt <= t.maxRetries {
		return Outcome{Attempt: st.attempt, History: st.history}
	}

	delete(t.entries, id)
	return Outcome{Attempt: st.attempt, Exhausted: true, History: st.history}
}

// Clear drops the entry; the success path calls this.
func (t *Tracker) Clear(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// GetAttempt returns the current attempt count, 0 when absent.
func (t *Tracker) GetAttempt(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.entries[id]; ok {
		return st.attempt
	}
	return 0
}

// CleanupStale drops entries idle for maxAge or longer and returns how
// many were removed.
func (t *Tracker) CleanupStale(maxAge time.Duration) int {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for id, st := range t.entries {
		if now.Sub(st.lastUpdated) >= maxAge {
			delete(t.entries, id)
			dropped++
		}
	}
	return dropped
}

// Len reports the live entry count.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
