package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

const submissionColumns = `id, problem_id, user_id, contest_id, language, files, status, verdict,
       score, time_used, memory_used, compile_output, error_code, error_message,
       created_at, judged_at`

// SubmissionStore drives submission rows from Pending to a terminal state.
type SubmissionStore struct {
	db  DB
	log zerolog.Logger
}

func NewSubmissionStore(db DB) *SubmissionStore {
	return &SubmissionStore{db: db, log: logger.Component("submission-store")}
}

// Create inserts a Pending submission and fills in its id and created_at.
func (s *SubmissionStore) Create(ctx context.Context, sub *domain.Submission) error {
	files, err := json.Marshal(sub.Files)
	if err != nil {
		return fmt.Errorf("marshal submission files: %w", err)
	}
	if sub.Files == nil {
		files = []byte("[]")
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO submission (problem_id, user_id, contest_id, language, files, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`, sub.ProblemID, sub.UserID, sub.ContestID, sub.Language, files, string(sub.Status)).
		Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// GetByID loads one submission; domain.ErrNotFound when absent.
func (s *SubmissionStore) GetByID(ctx context.Context, id int32) (*domain.Submission, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM submission
		WHERE id = $1
	`, id)
	return scanSubmission(row)
}

// GetForUpdateTx loads one submission under a row lock inside the caller's
// transaction. The stuck detector uses it to serialize against the result
// consumer.
func (s *SubmissionStore) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int32) (*domain.Submission, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM submission
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSubmission(row)
}

// ApplyResult applies a judge result in one transaction. Safe under
// at-least-once delivery: the row lock serializes per-submission writes
// and the test-case-result probe turns duplicates into committed no-ops.
func (s *SubmissionStore) ApplyResult(ctx context.Context, result *domain.JudgeResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.NewTransientError("begin result tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Lock the submission row. Not found is retryable: dispatch commits
	// the row before publishing, but a read replica or a racing insert can
	// lag behind the broker.
	var status string
	err = tx.QueryRow(ctx, `
		SELECT status
		FROM submission
		WHERE id = $1
		FOR UPDATE
	`, result.SubmissionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewBusinessError(
				fmt.Sprintf("submission %d not visible yet", result.SubmissionID), err)
		}
		return fmt.Errorf("lock submission %d: %w", result.SubmissionID, err)
	}

	// 2) Terminal rows never change again. A late result racing the stuck
	// detector lands here and is dropped.
	if domain.SubmissionStatus(status).IsTerminal() {
		s.log.Warn().
			Int32("submission_id", result.SubmissionID).
			Str("job_id", result.JobID).
			Str("status", status).
			Msg("result for terminal submission dropped")
		return tx.Commit(ctx)
	}

	// 3) Existing test-case rows mean this result already applied
	// (duplicate delivery); commit the no-op.
	var existing int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM test_case_result
		WHERE submission_id = $1
	`, result.SubmissionID).Scan(&existing)
	if err != nil {
		return fmt.Errorf("count test case results for %d: %w", result.SubmissionID, err)
	}
	if existing > 0 {
		s.log.Debug().
			Int32("submission_id", result.SubmissionID).
			Str("job_id", result.JobID).
			Int("existing_rows", existing).
			Msg("duplicate result delivery ignored")
		return tx.Commit(ctx)
	}

	// 4) Apply the aggregate outcome.
	_, err = tx.Exec(ctx, `
		UPDATE submission
		SET status = $2, verdict = $3, score = $4, time_used = $5,
		    memory_used = $6, compile_output = $7, error_code = $8,
		    error_message = $9, judged_at = NOW()
		WHERE id = $1
	`, result.SubmissionID, string(result.Status), verdictText(result.Verdict),
		result.Score, result.TimeUsed, result.MemoryUsed,
		result.CompileOutput, result.ErrorCode, result.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update submission %d: %w", result.SubmissionID, err)
	}

	// 5) One row per test case.
	for _, tcr := range result.TestCaseResults {
		_, err = tx.Exec(ctx, `
			INSERT INTO test_case_result (submission_id, test_case_id, verdict, score,
			       time_used, memory_used, stdout, stderr, checker_output, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		`, result.SubmissionID, tcr.TestCaseID, string(tcr.Verdict), tcr.Score,
			tcr.TimeUsed, tcr.MemoryUsed, tcr.Stdout, tcr.Stderr, tcr.CheckerOutput)
		if err != nil {
			return fmt.Errorf("insert test case result for %d: %w", result.SubmissionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewTransientError("commit result tx", err)
	}
	return nil
}

// MarkSystemError moves a non-terminal submission to SystemError. Zero
// rows affected means the row is already terminal (or gone); both are
// fine for every caller, so it is not an error.
func (s *SubmissionStore) MarkSystemError(ctx context.Context, id int32, errorCode, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE submission
		SET status = 'SystemError', error_code = $2, error_message = $3, judged_at = NOW()
		WHERE id = $1 AND status IN ('Pending', 'Compiling', 'Running')
	`, id, errorCode, errorMessage)
	if err != nil {
		return fmt.Errorf("mark submission %d system error: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug().
			Int32("submission_id", id).
			Str("error_code", errorCode).
			Msg("system error skipped, submission already terminal or missing")
	}
	return nil
}

// MarkSystemErrorTx is MarkSystemError inside the caller's transaction;
// the stuck detector composes it with the DLQ insert.
func (s *SubmissionStore) MarkSystemErrorTx(ctx context.Context, tx pgx.Tx, id int32, errorCode, errorMessage string) error {
	_, err := tx.Exec(ctx, `
		UPDATE submission
		SET status = 'SystemError', error_code = $2, error_message = $3, judged_at = NOW()
		WHERE id = $1 AND status IN ('Pending', 'Compiling', 'Running')
	`, id, errorCode, errorMessage)
	if err != nil {
		return fmt.Errorf("mark submission %d system error: %w", id, err)
	}
	return nil
}

// FindStuckPending returns ids of submissions still Pending after
// olderThan, oldest first.
func (s *SubmissionStore) FindStuckPending(ctx context.Context, olderThan time.Duration) ([]int32, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM submission
		WHERE status = 'Pending' AND created_at < $1
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stuck submissions: %w", err)
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stuck submission id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find stuck submissions: %w", err)
	}
	return ids, nil
}

// CountRecentByUser counts a user's submissions inside the window. An
// optimistic, non-locking read for the intake rate limit.
func (s *SubmissionStore) CountRecentByUser(ctx context.Context, userID int32, window time.Duration) (int, error) {
	since := time.Now().Add(-window)
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM submission
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent submissions for user %d: %w", userID, err)
	}
	return n, nil
}

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var (
		sub     domain.Submission
		files   []byte
		status  string
		verdict *string
	)
	err := row.Scan(
		&sub.ID, &sub.ProblemID, &sub.UserID, &sub.ContestID, &sub.Language,
		&files, &status, &verdict,
		&sub.Score, &sub.TimeUsed, &sub.MemoryUsed,
		&sub.CompileOutput, &sub.ErrorCode, &sub.ErrorMessage,
		&sub.CreatedAt, &sub.JudgedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}

	if len(files) > 0 {
		if err := json.Unmarshal(files, &sub.Files); err != nil {
			return nil, fmt.Errorf("unmarshal submission files: %w", err)
		}
	}
	sub.Status = domain.SubmissionStatus(status)
	if verdict != nil {
		v := domain.Verdict(*verdict)
		sub.Verdict = &v
	}
	return &sub, nil
}

func verdictText(v *domain.Verdict) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
