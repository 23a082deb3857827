package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/hooks"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/retry"
)

// ResultHandler ingests judge results from the results queue. The
// contract with the broker adapter: nil and ErrDiscard both ack, any
// other error redelivers. Nothing is acked unless the outcome is durable,
// either as committed submission rows or as a dead-letter record.
type ResultHandler struct {
	subs     SubmissionStore
	dlq      DLQWriter
	tracker  *retry.Tracker
	registry *hooks.Registry
	base     time.Duration
	max      time.Duration
	log      zerolog.Logger
}

func NewResultHandler(subs SubmissionStore, dlq DLQWriter, tracker *retry.Tracker, reg *hooks.Registry, base, max time.Duration) *ResultHandler {
	return &ResultHandler{
		subs:     subs,
		dlq:      dlq,
		tracker:  tracker,
		registry: reg,
		base:     base,
		max:      max,
		log:      logger.Component("result-consumer"),
	}
}

// Handle processes one delivery from the results queue.
func (h *ResultHandler) Handle(ctx context.Context, body []byte) error {
	env, err := message.Unmarshal(body)
	if err != nil {
		return h.deadLetterPoison(ctx, fallbackMessageID(body), nil, rawAsJSON(body), err)
	}
	if env.MessageID == "" {
		env.MessageID = fallbackMessageID(body)
	}

	var result domain.JudgeResult
	if err := env.Decode(message.TypeJudgeResult, &result); err != nil {
		return h.deadLetterPoison(ctx, env.MessageID, extractSubmissionID(env.Payload), env.Payload, err)
	}

	jobID := result.JobID
	if jobID == "" {
		jobID = env.MessageID
	}

	guard := retry.NewCleanupGuard(h.tracker, jobID)
	defer guard.Cleanup()

	for {
		err := h.subs.ApplyResult(ctx, &result)
		if err == nil {
			h.tracker.Clear(jobID)
			guard.Defuse()
			h.log.Info().
				Str("job_id", jobID).
				Int32("submission_id", result.SubmissionID).
				Str("status", string(result.Status)).
				Msg("judge result ingested")
			triggerHook(ctx, h.registry, h.log, hooks.ResultIngested{
				SubmissionID: result.SubmissionID,
				JobID:        jobID,
				Status:       result.Status,
				Verdict:      result.Verdict,
			})
			return nil
		}

		if !domain.IsRetryable(err) {
			return h.deadLetterPoison(ctx, env.MessageID, &result.SubmissionID, env.Payload, err)
		}

		outcome := h.tracker.RecordFailure(jobID, err)
		metrics.RecordRetryAttempt()

		if !outcome.Exhausted {
			delay := retry.Backoff(outcome.Attempt, h.base, h.max)
			h.log.Warn().
				Err(err).
				Str("job_id", jobID).
				Int32("submission_id", result.SubmissionID).
				Int("attempt", outcome.Attempt).
				Dur("backoff", delay).
				Msg("result processing failed, retrying")
			if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
				// Shutdown mid-backoff: hand the message back undone.
				return sleepErr
			}
			continue
		}

		metrics.RecordRetriesExhausted()
		return h.exhausted(ctx, env, &result, outcome)
	}
}

// exhausted runs the give-up sequence: dead-letter commit first, then the
// submission update. The two are deliberately not one transaction; the
// DLQ record is the system of record for the failure, and a missed
// submission update is reconciled from it by operators.
func (h *ResultHandler) exhausted(ctx context.Context, env *message.Envelope, result *domain.JudgeResult, outcome retry.Outcome) error {
	lastErr := "unknown error"
	if n := len(outcome.History); n > 0 {
		lastErr = outcome.History[n-1].Error
	}

	entry, err := h.dlq.SendToDLQ(ctx, &domain.DLQEnvelope{
		MessageID:    env.MessageID,
		MessageType:  message.TypeJudgeResult,
		SubmissionID: &result.SubmissionID,
		Payload:      env.Payload,
		ErrorCode:    domain.FailureMaxRetriesExceeded,
		ErrorMessage: fmt.Sprintf("gave up after %d attempts: %s", outcome.Attempt, lastErr),
		RetryCount:   outcome.Attempt,
		RetryHistory: outcome.History,
	})
	if err != nil {
		// Acking now would lose the message entirely.
		h.log.Error().
			Err(err).
			Str("severity", "critical").
			Str("message_id", env.MessageID).
			Int32("submission_id", result.SubmissionID).
			RawJSON("payload", env.Payload).
			Msg("dead-letter write failed after retries exhausted, message will be redelivered")
		return domain.NewCriticalPersistenceError("dead-letter result "+env.MessageID, err)
	}
	triggerHook(ctx, h.registry, h.log, hooks.DLQEntryRecorded{
		MessageID:    entry.MessageID,
		MessageType:  entry.MessageType,
		ErrorCode:    entry.ErrorCode,
		SubmissionID: entry.SubmissionID,
	})

	if err := h.subs.MarkSystemError(ctx, result.SubmissionID, domain.FailureResultProcessing,
		fmt.Sprintf("result processing exhausted retries: %s", lastErr)); err != nil {
		h.log.Warn().
			Err(err).
			Int32("submission_id", result.SubmissionID).
			Int64("dlq_id", entry.ID).
			Msg("submission update after dead-letter commit failed, reconcile from the DLQ record")
	}

	triggerHook(ctx, h.registry, h.log, hooks.SubmissionFailed{
		SubmissionID: result.SubmissionID,
		MessageID:    env.MessageID,
		ErrorCode:    domain.FailureResultProcessing,
	})

	h.log.Error().
		Str("job_id", result.JobID).
		Int32("submission_id", result.SubmissionID).
		Int("attempts", outcome.Attempt).
		Int64("dlq_id", entry.ID).
		Msg("retries exhausted, result dead-lettered")
	return fmt.Errorf("retries exhausted for %s: %w", env.MessageID, domain.ErrDiscard)
}

// deadLetterPoison records an undecodable message and acks it; retrying
// bytes that cannot parse only loops.
func (h *ResultHandler) deadLetterPoison(ctx context.Context, messageID string, submissionID *int32, payload json.RawMessage, cause error) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	entry, err := h.dlq.SendToDLQ(ctx, &domain.DLQEnvelope{
		MessageID:    messageID,
		MessageType:  message.TypeJudgeResult,
		SubmissionID: submissionID,
		Payload:      payload,
		ErrorCode:    domain.FailureDeserialization,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		h.log.Error().
			Err(err).
			Str("severity", "critical").
			Str("message_id", messageID).
			RawJSON("payload", payload).
			Msg("dead-letter write failed for poison message, message will be redelivered")
		return domain.NewCriticalPersistenceError("dead-letter poison message "+messageID, err)
	}

	h.log.Warn().
		Err(cause).
		Str("message_id", messageID).
		Int64("dlq_id", entry.ID).
		Msg("undecodable result dead-lettered")
	triggerHook(ctx, h.registry, h.log, hooks.DLQEntryRecorded{
		MessageID:    entry.MessageID,
		MessageType:  entry.MessageType,
		ErrorCode:    entry.ErrorCode,
		SubmissionID: entry.SubmissionID,
	})
	return fmt.Errorf("poison result %s dead-lettered: %w", messageID, domain.ErrDiscard)
}
