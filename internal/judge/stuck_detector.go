package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/hooks"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/infrastructure/postgres"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

// stuckSnapshot is the compact payload stored on a stuck-job DLQ entry,
// enough for an operator to re-dispatch by hand.
type stuckSnapshot struct {
	SubmissionID int32     `json:"submission_id"`
	ProblemID    int32     `json:"problem_id"`
	UserID       int32     `json:"user_id"`
	Language     string    `json:"language"`
	ContestID    *int32    `json:"contest_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StuckDetector is the safety net for every dispatch path that can lose
// a message between the submission-row commit and the broker ack: it
// periodically flags Pending submissions older than the timeout.
type StuckDetector struct {
	db       postgres.DB
	subs     *postgres.SubmissionStore
	dlq      *postgres.DLQStore
	registry *hooks.Registry
	timeout  time.Duration
	interval time.Duration
	log      zerolog.Logger
}

func NewStuckDetector(db postgres.DB, subs *postgres.SubmissionStore, dlq *postgres.DLQStore, reg *hooks.Registry, timeout, interval time.Duration) *StuckDetector {
	return &StuckDetector{
		db:       db,
		subs:     subs,
		dlq:      dlq,
		registry: reg,
		timeout:  timeout,
		interval: interval,
		log:      logger.Component("stuck-detector"),
	}
}

// Run scans on the configured interval until ctx ends.
func (d *StuckDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info().
		Dur("interval", d.interval).
		Dur("timeout", d.timeout).
		Msg("stuck-job detector started")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("stuck-job detector stopped")
			return
		case <-ticker.C:
			n, err := d.Tick(ctx)
			if err != nil {
				d.log.Error().Err(err).Msg("stuck-job scan failed")
				continue
			}
			if n > 0 {
				d.log.Warn().Int("flagged", n).Msg("stuck submissions reaped")
			}
		}
	}
}

// Tick runs one scan pass and returns how many submissions it flagged.
// Per-candidate failures are logged and skipped so one bad row cannot
// stall the rest of the sweep.
func (d *StuckDetector) Tick(ctx context.Context) (int, error) {
	ids, err := d.subs.FindStuckPending(ctx, d.timeout)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, id := range ids {
		ok, err := d.reap(ctx, id)
		if err != nil {
			d.log.Error().Err(err).Int32("submission_id", id).Msg("stuck-job reap failed")
			continue
		}
		if ok {
			flagged++
		}
	}
	return flagged, nil
}

// reap flags one candidate in its own transaction. Returns false with no
// error when the candidate no longer qualifies: the result consumer may
// have won the race between the scan and the lock.
func (d *StuckDetector) reap(ctx context.Context, id int32) (bool, error) {
	tx, err := d.db.Begin(ctx)
	if err != nil {
		return false, domain.NewTransientError("begin stuck-reap tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1. Re-read under lock and re-check the status.
	sub, err := d.subs.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if sub.Status != domain.StatusPending {
		return false, nil
	}

	errorMessage := fmt.Sprintf("no judge result after %s", d.timeout)

	// 2. One DLQ row per stranded submission; redetection after an
	// operator resolves the first row is a fresh failure.
	hasEntry, err := d.dlq.HasUnresolvedEntryTx(ctx, tx, id)
	if err != nil {
		return false, err
	}

	var entry *domain.DLQEntry
	if !hasEntry {
		payload, err := json.Marshal(stuckSnapshot{
			SubmissionID: sub.ID,
			ProblemID:    sub.ProblemID,
			UserID:       sub.UserID,
			Language:     sub.Language,
			ContestID:    sub.ContestID,
			CreatedAt:    sub.CreatedAt,
		})
		if err != nil {
			return false, fmt.Errorf("marshal stuck snapshot: %w", err)
		}
		entry, err = d.dlq.CreateEntryTx(ctx, tx,
			fmt.Sprintf("stuck-submission-%d", id), message.TypeJudgeJob,
			&id, payload, domain.FailureStuckJob, errorMessage)
		if err != nil {
			return false, err
		}
	}

	// 3. Terminal-state the row even when a DLQ entry already existed.
	if err := d.subs.MarkSystemErrorTx(ctx, tx, id, domain.FailureStuckJob, errorMessage); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, domain.NewTransientError("commit stuck-reap tx", err)
	}

	metrics.RecordStuckJob()
	d.log.Warn().
		Int32("submission_id", id).
		Time("created_at", sub.CreatedAt).
		Msg("stuck submission flagged")

	triggerHook(ctx, d.registry, d.log, hooks.SubmissionStuck{
		SubmissionID: id,
		CreatedAt:    sub.CreatedAt,
	})
	if entry != nil {
		triggerHook(ctx, d.registry, d.log, hooks.DLQEntryRecorded{
			MessageID:    entry.MessageID,
			MessageType:  entry.MessageType,
			ErrorCode:    entry.ErrorCode,
			SubmissionID: entry.SubmissionID,
		})
	}
	return true, nil
}
