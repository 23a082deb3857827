//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/infrastructure/postgres"
)

// Helper: fresh schema plus both stores against a live database.
func setupStores(t *testing.T) (*postgres.SubmissionStore, *postgres.DLQStore, *pgxpool.Pool) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	WipeDB(t, pool)
	ApplyMigrations(t, pool, "../../../migrations")

	return postgres.NewSubmissionStore(pool), postgres.NewDLQStore(pool), pool
}

func createPending(t *testing.T, subs *postgres.SubmissionStore) *domain.Submission {
	t.Helper()
	sub := domain.NewSubmission(7, 3, nil, "cpp", []domain.SubmissionFile{
		{Filename: "main.cpp", Content: "int main(){}"},
	})
	require.NoError(t, subs.Create(context.Background(), sub))
	return sub
}

func TestIntegration_ApplyResult_HappyPathThenDuplicate(t *testing.T) {
	subs, _, pool := setupStores(t)
	ctx := context.Background()

	sub := createPending(t, subs)

	verdict := domain.VerdictAccepted
	result := &domain.JudgeResult{
		JobID:        "job-a",
		SubmissionID: sub.ID,
		Status:       domain.StatusJudged,
		Verdict:      &verdict,
		Score:        ptr(int32(100)),
		TimeUsed:     ptr(int32(230)),
		MemoryUsed:   ptr(int32(10240)),
		TestCaseResults: []domain.TestCaseJudgeResult{
			{TestCaseID: 1, Verdict: domain.VerdictAccepted, Score: 50},
			{TestCaseID: 2, Verdict: domain.VerdictAccepted, Score: 50},
		},
	}

	// First delivery applies everything.
	require.NoError(t, subs.ApplyResult(ctx, result))

	got, err := subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusJudged, got.Status)
	require.NotNil(t, got.Verdict)
	assert.Equal(t, domain.VerdictAccepted, *got.Verdict)
	require.NotNil(t, got.JudgedAt)

	var tcCount int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM test_case_result WHERE submission_id = $1", sub.ID).Scan(&tcCount))
	assert.Equal(t, 2, tcCount)

	// Second delivery is a committed no-op: same rows, same count.
	require.NoError(t, subs.ApplyResult(ctx, result))
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM test_case_result WHERE submission_id = $1", sub.ID).Scan(&tcCount))
	assert.Equal(t, 2, tcCount)
}

func TestIntegration_MarkSystemError_DoesNotTouchTerminalRows(t *testing.T) {
	subs, _, _ := setupStores(t)
	ctx := context.Background()

	sub := createPending(t, subs)
	require.NoError(t, subs.MarkSystemError(ctx, sub.ID, domain.FailureMQError, "publish failed"))

	got, err := subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSystemError, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, domain.FailureMQError, *got.ErrorCode)
	firstJudgedAt := got.JudgedAt
	require.NotNil(t, firstJudgedAt)

	// A second mark must not move judged_at or overwrite the code.
	require.NoError(t, subs.MarkSystemError(ctx, sub.ID, domain.FailureStuckJob, "late reap"))
	got, err = subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureMQError, *got.ErrorCode)
	assert.Equal(t, *firstJudgedAt, *got.JudgedAt)
}

func TestIntegration_SendToDLQ_KeepsOneRowPerMessageID(t *testing.T) {
	_, dlq, pool := setupStores(t)
	ctx := context.Background()

	env := &domain.DLQEnvelope{
		MessageID:    "msg-dup",
		MessageType:  "judge_result",
		Payload:      json.RawMessage(`{"job_id":"job-a"}`),
		ErrorCode:    domain.FailureMaxRetriesExceeded,
		ErrorMessage: "db down",
		RetryCount:   3,
	}

	first, err := dlq.SendToDLQ(ctx, env)
	require.NoError(t, err)
	second, err := dlq.SendToDLQ(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var n int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM dead_letter_message WHERE message_id = 'msg-dup'").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestIntegration_ResolveIsOneShot(t *testing.T) {
	_, dlq, _ := setupStores(t)
	ctx := context.Background()

	entry, err := dlq.SendToDLQ(ctx, &domain.DLQEnvelope{
		MessageID:    "msg-r",
		MessageType:  "judge_job",
		Payload:      json.RawMessage(`{}`),
		ErrorCode:    domain.FailureStuckJob,
		ErrorMessage: "stuck",
	})
	require.NoError(t, err)

	require.NoError(t, dlq.Resolve(ctx, entry.ID, "ops"))
	assert.ErrorIs(t, dlq.Resolve(ctx, entry.ID, "ops"), domain.ErrAlreadyResolved)
	assert.ErrorIs(t, dlq.Resolve(ctx, entry.ID+1000, "ops"), domain.ErrNotFound)

	got, err := dlq.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, "ops", *got.ResolvedBy)
}

func TestIntegration_FindStuckPending_RespectsThreshold(t *testing.T) {
	subs, _, pool := setupStores(t)
	ctx := context.Background()

	fresh := createPending(t, subs)
	old := createPending(t, subs)
	_, err := pool.Exec(ctx,
		"UPDATE submission SET created_at = NOW() - INTERVAL '20 minutes' WHERE id = $1", old.ID)
	require.NoError(t, err)

	ids, err := subs.FindStuckPending(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, ids, old.ID)
	assert.NotContains(t, ids, fresh.ID)
}
