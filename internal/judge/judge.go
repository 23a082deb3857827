// Package judge is the pipeline core: submissions out to the jobs queue,
// results back into Postgres, every failure path into the dead-letter
// store, and stranded rows reaped by the stuck-job detector.
package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/blob"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/hooks"
)

// SubmissionStore is the submission persistence surface the pipeline
// needs; *postgres.SubmissionStore implements it.
type SubmissionStore interface {
	Create(ctx context.Context, sub *domain.Submission) error
	GetByID(ctx context.Context, id int32) (*domain.Submission, error)
	ApplyResult(ctx context.Context, result *domain.JudgeResult) error
	MarkSystemError(ctx context.Context, id int32, errorCode, errorMessage string) error
	CountRecentByUser(ctx context.Context, userID int32, window time.Duration) (int, error)
}

// DLQWriter records a failed message durably in its own transaction.
type DLQWriter interface {
	SendToDLQ(ctx context.Context, env *domain.DLQEnvelope) (*domain.DLQEntry, error)
}

// Publisher places an envelope on a queue. A nil return means the broker
// confirmed the message; every error means it must be treated as not
// delivered.
type Publisher interface {
	Publish(ctx context.Context, queue, routingKey string, env *message.Envelope) error
}

// FileAttacher offloads file contents into content-addressed storage and
// records the owning reference; *postgres.BlobRefStore implements it.
type FileAttacher interface {
	AttachFile(ctx context.Context, ownerType string, ownerID int32, path, filename string, contentType *string, data []byte) (*blob.Ref, error)
}

// triggerHook dispatches an event and logs instead of failing: by the
// time a pipeline event fires, the work it describes is already
// committed, so a broken subscriber must not fail the handler.
func triggerHook(ctx context.Context, reg *hooks.Registry, log zerolog.Logger, e hooks.Event) {
	if reg == nil {
		return
	}
	if _, err := reg.Trigger(ctx, e); err != nil {
		log.Warn().Err(err).Str("topic", e.Topic()).Msg("hook chain failed")
	}
}

// fallbackMessageID derives a stable id for bodies that carry none, so
// redeliveries of the same broken bytes dedupe onto one DLQ row.
func fallbackMessageID(body []byte) string {
	sum := sha256.Sum256(body)
	return "hash:" + hex.EncodeToString(sum[:])
}

// rawAsJSON makes arbitrary bytes storable in the JSONB payload column:
// valid JSON passes through, anything else is kept as a JSON string.
func rawAsJSON(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return json.RawMessage("null")
	}
	return quoted
}

// extractSubmissionID is the best-effort probe for poison payloads.
func extractSubmissionID(payload json.RawMessage) *int32 {
	if len(payload) == 0 {
		return nil
	}
	var probe struct {
		SubmissionID *int32 `json:"submission_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil
	}
	return probe.SubmissionID
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
