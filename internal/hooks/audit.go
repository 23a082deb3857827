package hooks

import (
	"context"

	"github.com/rs/zerolog"
)

// AuditHook writes one structured log line per pipeline event and always
// passes. It is the built-in subscriber wired up at startup.
type AuditHook struct {
	log zerolog.Logger
}

func NewAuditHook(log zerolog.Logger) *AuditHook {
	return &AuditHook{log: log.With().Bool("audit", true).Logger()}
}

func (h *AuditHook) Name() string { return "audit" }

func (h *AuditHook) Topics() []string {
	return []string{
		TopicSubmissionDispatched,
		TopicResultIngested,
		TopicSubmissionFailed,
		TopicSubmissionStuck,
		TopicDLQEntryRecorded,
	}
}

func (h *AuditHook) Handle(_ context.Context, e Event) (Action, error) {
	switch ev := e.(type) {
	case SubmissionDispatched:
		h.log.Info().
			Str("action", "submission_dispatched").
			Int32("submission_id", ev.SubmissionID).
			Str("job_id", ev.JobID).
			Str("queue", ev.Queue).
			Msg("Judge job dispatched")
	case ResultIngested:
		ev2 := h.log.Info().
			Str("action", "result_ingested").
			Int32("submission_id", ev.SubmissionID).
			Str("job_id", ev.JobID).
			Str("status", ev.Status.String())
		if ev.Verdict != nil {
			ev2 = ev2.Str("verdict", ev.Verdict.String())
		}
		ev2.Msg("Judge result applied")
	case SubmissionFailed:
		h.log.Warn().
			Str("action", "submission_failed").
			Int32("submission_id", ev.SubmissionID).
			Str("message_id", ev.MessageID).
			Str("error_code", ev.ErrorCode).
			Msg("Submission marked failed")
	case SubmissionStuck:
		h.log.Warn().
			Str("action", "submission_stuck").
			Int32("submission_id", ev.SubmissionID).
			Time("created_at", ev.CreatedAt).
			Msg("Stuck submission reaped")
	case DLQEntryRecorded:
		ev2 := h.log.Warn().
			Str("action", "dlq_entry_recorded").
			Str("message_id", ev.MessageID).
			Str("message_type", ev.MessageType).
			Str("error_code", ev.ErrorCode)
		if ev.SubmissionID != nil {
			ev2 = ev2.Int32("submission_id", *ev.SubmissionID)
		}
		ev2.Msg("Dead-letter entry recorded")
	}
	return PassAction(), nil
}
