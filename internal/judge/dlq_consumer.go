package judge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/hooks"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

// DLQHandler drains the jobs DLQ queue into the durable dead-letter
// store. Two body shapes arrive here: failure envelopes workers publish
// themselves, and original job envelopes the broker dead-letters when a
// worker rejects without requeue. Both become one store row each.
type DLQHandler struct {
	subs     SubmissionStore
	dlq      DLQWriter
	registry *hooks.Registry
	log      zerolog.Logger
}

func NewDLQHandler(subs SubmissionStore, dlq DLQWriter, reg *hooks.Registry) *DLQHandler {
	return &DLQHandler{
		subs:     subs,
		dlq:      dlq,
		registry: reg,
		log:      logger.Component("dlq-consumer"),
	}
}

// Handle persists one dead-lettered message. The store write must
// succeed before the ack; the submission update afterwards is
// best-effort, reconciled from the DLQ record when it fails.
func (h *DLQHandler) Handle(ctx context.Context, body []byte) error {
	var env domain.DLQEnvelope
	malformed := false
	if err := json.Unmarshal(body, &env); err != nil {
		// Even unparseable bytes get a durable record.
		malformed = true
		env = domain.DLQEnvelope{
			Payload:      rawAsJSON(body),
			ErrorCode:    domain.FailureDeserialization,
			ErrorMessage: err.Error(),
		}
	}

	if env.MessageID == "" {
		env.MessageID = fallbackMessageID(body)
	}
	if env.MessageType == "" {
		env.MessageType = message.TypeJudgeJob
	}
	if env.ErrorCode == "" {
		// Broker-level dead-lettering delivers the original job envelope
		// with no failure fields on it.
		env.ErrorCode = domain.FailureWorkerProcessing
	}
	if env.ErrorMessage == "" {
		env.ErrorMessage = "worker rejected job"
	}
	if env.SubmissionID == nil {
		env.SubmissionID = extractSubmissionID(env.Payload)
	}

	entry, err := h.dlq.SendToDLQ(ctx, &env)
	if err != nil {
		h.log.Error().
			Err(err).
			Str("severity", "critical").
			Str("message_id", env.MessageID).
			Msg("dead-letter write failed, message will be redelivered")
		return domain.NewCriticalPersistenceError("persist worker dead letter "+env.MessageID, err)
	}
	triggerHook(ctx, h.registry, h.log, hooks.DLQEntryRecorded{
		MessageID:    entry.MessageID,
		MessageType:  entry.MessageType,
		ErrorCode:    entry.ErrorCode,
		SubmissionID: entry.SubmissionID,
	})

	if entry.SubmissionID != nil {
		if err := h.subs.MarkSystemError(ctx, *entry.SubmissionID, domain.FailureWorkerProcessing, env.ErrorMessage); err != nil {
			h.log.Warn().
				Err(err).
				Int32("submission_id", *entry.SubmissionID).
				Int64("dlq_id", entry.ID).
				Msg("submission update after dead-letter commit failed, reconcile from the DLQ record")
		} else {
			triggerHook(ctx, h.registry, h.log, hooks.SubmissionFailed{
				SubmissionID: *entry.SubmissionID,
				MessageID:    entry.MessageID,
				ErrorCode:    domain.FailureWorkerProcessing,
			})
		}
	}

	h.log.Warn().
		Str("message_id", entry.MessageID).
		Str("error_code", entry.ErrorCode).
		Int64("dlq_id", entry.ID).
		Msg("worker dead letter recorded")

	if malformed {
		return fmt.Errorf("malformed dead letter %s recorded: %w", entry.MessageID, domain.ErrDiscard)
	}
	return nil
}
