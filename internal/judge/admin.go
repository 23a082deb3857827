package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/infrastructure/postgres"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

// AdminService backs the operator API: dead-letter triage plus a manual
// submission intake for debugging the pipeline end to end.
type AdminService struct {
	db          postgres.DB
	subs        *postgres.SubmissionStore
	dlq         *postgres.DLQStore
	dispatcher  *Dispatcher
	publisher   Publisher
	jobQueue    string
	resultQueue string
	ratePerMin  int
	log         zerolog.Logger
}

func NewAdminService(db postgres.DB, subs *postgres.SubmissionStore, dlq *postgres.DLQStore, dispatcher *Dispatcher, pub Publisher, jobQueue, resultQueue string, ratePerMin int) *AdminService {
	return &AdminService{
		db:          db,
		subs:        subs,
		dlq:         dlq,
		dispatcher:  dispatcher,
		publisher:   pub,
		jobQueue:    jobQueue,
		resultQueue: resultQueue,
		ratePerMin:  ratePerMin,
		log:         logger.Component("admin"),
	}
}

// ListDLQ pages through dead-letter entries, newest first.
func (s *AdminService) ListDLQ(ctx context.Context, filter domain.DLQFilter, page, perPage int) ([]domain.DLQEntry, int64, error) {
	return s.dlq.List(ctx, filter, page, perPage)
}

// GetDLQEntry loads one entry; domain.ErrNotFound when absent.
func (s *AdminService) GetDLQEntry(ctx context.Context, id int64) (*domain.DLQEntry, error) {
	return s.dlq.GetByID(ctx, id)
}

// DLQStats summarizes the dead-letter table.
func (s *AdminService) DLQStats(ctx context.Context) (*domain.DLQStats, error) {
	return s.dlq.Stats(ctx)
}

// Resolve marks one entry handled.
func (s *AdminService) Resolve(ctx context.Context, id int64, resolvedBy string) error {
	return s.dlq.Resolve(ctx, id, resolvedBy)
}

// ResolveMany marks a batch handled and returns how many rows changed.
func (s *AdminService) ResolveMany(ctx context.Context, ids []int64, resolvedBy string) (int64, error) {
	return s.dlq.ResolveMany(ctx, ids, resolvedBy)
}

// RetryEntry republishes a dead-lettered payload to the queue its message
// type maps to and resolves the entry, all under the entry's row lock so
// concurrent retries serialize. The fresh envelope starts with a clean
// retry budget and records the lineage in x-dlq-retry-of. A publish
// failure rolls back and leaves the entry retryable; a commit failure
// after a confirmed publish can duplicate the message, which downstream
// ingestion dedupes.
func (s *AdminService) RetryEntry(ctx context.Context, id int64, resolvedBy string) (*domain.DLQEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.NewTransientError("begin dlq-retry tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1. Lock the entry.
	entry, err := s.dlq.GetByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if entry.Resolved {
		return nil, domain.ErrAlreadyResolved
	}

	// 2. Route by stored message type.
	var queue string
	switch entry.MessageType {
	case message.TypeJudgeJob:
		queue = s.jobQueue
	case message.TypeJudgeResult:
		queue = s.resultQueue
	default:
		return nil, domain.NewInvalidInput(
			fmt.Sprintf("entry %d has unroutable message type %q", id, entry.MessageType))
	}

	env, err := message.Wrap(entry.MessageType, json.RawMessage(entry.Payload),
		message.WithSource("dlq-retry"),
		message.WithHeader("x-dlq-retry-of", entry.MessageID),
	)
	if err != nil {
		return nil, err
	}

	// 3. Publish before resolving; only a confirmed message may flip the
	// entry.
	if err := s.publisher.Publish(ctx, queue, "", env); err != nil {
		return nil, err
	}

	by := resolvedBy
	if by == "" {
		by = "dlq-retry"
	}
	if err := s.dlq.ResolveTx(ctx, tx, id, by); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.NewTransientError("commit dlq-retry tx", err)
	}

	s.log.Info().
		Int64("dlq_id", id).
		Str("queue", queue).
		Str("message_id", env.MessageID).
		Str("retry_of", entry.MessageID).
		Msg("dead-letter entry republished")

	now := time.Now().UTC()
	entry.Resolved = true
	entry.ResolvedAt = &now
	entry.ResolvedBy = &by
	return entry, nil
}

// SubmitAndDispatch is the operator intake: enforce the per-user rate
// limit, then hand off to the dispatcher. The count is an optimistic read
// on the (user_id, created_at) index; a burst racing the check can exceed
// the limit by a few, which is acceptable for an operator surface.
func (s *AdminService) SubmitAndDispatch(ctx context.Context, sub *domain.Submission, snap *domain.ProblemSnapshot) (string, error) {
	if s.ratePerMin > 0 {
		n, err := s.subs.CountRecentByUser(ctx, sub.UserID, time.Minute)
		if err != nil {
			return "", err
		}
		if n >= s.ratePerMin {
			return "", fmt.Errorf("%w: user %d exceeded %d submissions per minute",
				domain.ErrRateLimited, sub.UserID, s.ratePerMin)
		}
	}
	return s.dispatcher.Dispatch(ctx, sub, snap)
}

// GetSubmission loads one submission for the operator status view.
func (s *AdminService) GetSubmission(ctx context.Context, id int32) (*domain.Submission, error) {
	return s.subs.GetByID(ctx, id)
}
