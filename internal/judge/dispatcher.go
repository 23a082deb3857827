package judge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/blob"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/hooks"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

// Dispatcher persists new submissions and places their judge jobs on the
// queue. There is no outbox: the row commits first, and the stuck-job
// detector covers anything lost between that commit and the broker ack.
type Dispatcher struct {
	subs            SubmissionStore
	files           FileAttacher
	publisher       Publisher
	registry        *hooks.Registry
	queue           string
	maxSize         int64
	inlineThreshold int64
	log             zerolog.Logger
}

func NewDispatcher(subs SubmissionStore, files FileAttacher, pub Publisher, reg *hooks.Registry, queue string, maxSize, inlineThreshold int64) *Dispatcher {
	return &Dispatcher{
		subs:            subs,
		files:           files,
		publisher:       pub,
		registry:        reg,
		queue:           queue,
		maxSize:         maxSize,
		inlineThreshold: inlineThreshold,
		log:             logger.Component("dispatcher"),
	}
}

// Dispatch stores sub as Pending and publishes its judge job, returning
// the job id the result will be keyed by. File contents over the inline
// threshold are swapped for blob markers in the stored row; the job keeps
// the original bytes so workers never read the blob store. A publish
// failure marks the row SystemError/MQ_ERROR and is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *domain.Submission, snap *domain.ProblemSnapshot) (string, error) {
	if d.maxSize > 0 && sub.TotalFileSize() > d.maxSize {
		return "", fmt.Errorf("%w: submission files total %d bytes, limit %d",
			domain.ErrSizeLimitExceeded, sub.TotalFileSize(), d.maxSize)
	}

	jobFiles := make([]domain.SubmissionFile, len(sub.Files))
	copy(jobFiles, sub.Files)

	var offload []domain.SubmissionFile
	for i, f := range sub.Files {
		if d.inlineThreshold > 0 && int64(len(f.Content)) > d.inlineThreshold {
			offload = append(offload, f)
			sub.Files[i] = domain.SubmissionFile{
				Filename: f.Filename,
				Blob:     blob.Sum([]byte(f.Content)).Hex(),
			}
		}
	}

	if err := d.subs.Create(ctx, sub); err != nil {
		return "", err
	}

	for _, f := range offload {
		// Failure here leaves the row Pending with the bytes unwritten;
		// the stuck detector reaps it like any other lost dispatch.
		if _, err := d.files.AttachFile(ctx, blob.OwnerSubmission, sub.ID, f.Filename, f.Filename, nil, []byte(f.Content)); err != nil {
			return "", fmt.Errorf("offload %s for submission %d: %w", f.Filename, sub.ID, err)
		}
	}

	job := &domain.JudgeJob{
		JobID:         uuid.NewString(),
		SubmissionID:  sub.ID,
		ProblemID:     sub.ProblemID,
		Language:      sub.Language,
		Files:         jobFiles,
		TimeLimitMS:   snap.TimeLimitMS,
		MemoryLimitKB: snap.MemoryLimitKB,
		TestCases:     snap.TestCases,
	}

	env, err := message.Wrap(message.TypeJudgeJob, job, message.WithSource("judged"))
	if err != nil {
		return "", err
	}

	if err := d.publisher.Publish(ctx, d.queue, "", env); err != nil {
		d.log.Error().
			Err(err).
			Int32("submission_id", sub.ID).
			Str("job_id", job.JobID).
			Msg("judge job publish failed")
		if markErr := d.subs.MarkSystemError(ctx, sub.ID, domain.FailureMQError,
			fmt.Sprintf("publish judge job: %s", err)); markErr != nil {
			d.log.Warn().
				Err(markErr).
				Int32("submission_id", sub.ID).
				Msg("failed to mark submission after publish failure")
		}
		return "", err
	}

	d.log.Info().
		Int32("submission_id", sub.ID).
		Str("job_id", job.JobID).
		Str("queue", d.queue).
		Int("files", len(jobFiles)).
		Int("offloaded", len(offload)).
		Msg("submission dispatched")

	triggerHook(ctx, d.registry, d.log, hooks.SubmissionDispatched{
		SubmissionID: sub.ID,
		JobID:        job.JobID,
		Queue:        d.queue,
	})

	return job.JobID, nil
}
