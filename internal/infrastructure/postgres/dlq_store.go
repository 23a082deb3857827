package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

const dlqColumns = `id, message_id, message_type, submission_id, payload, error_code,
       error_message, retry_count, retry_history, first_failed_at, created_at,
       resolved, resolved_at, resolved_by`

// DLQStore is the durable dead-letter record. Mutations that must be
// atomic with submission updates take the caller's transaction; the
// non-Tx variants are single-statement conveniences on the pool.
type DLQStore struct {
	db  DB
	log zerolog.Logger
}

func NewDLQStore(db DB) *DLQStore {
	return &DLQStore{db: db, log: logger.Component("dlq-store")}
}

// SendToDLQTx inserts a dead-letter row inside the caller's transaction.
// message_id collisions return the existing row instead of failing, which
// makes redelivered exhaustion paths idempotent. first_failed_at falls
// back from the envelope to the first retry attempt to now.
func (s *DLQStore) SendToDLQTx(ctx context.Context, tx pgx.Tx, env *domain.DLQEnvelope) (*domain.DLQEntry, error) {
	firstFailed := time.Now().UTC()
	if env.FirstFailedAt != nil {
		firstFailed = *env.FirstFailedAt
	} else if len(env.RetryHistory) > 0 {
		firstFailed = env.RetryHistory[0].Timestamp
	}

	history, err := json.Marshal(env.RetryHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal retry history: %w", err)
	}
	if env.RetryHistory == nil {
		history = []byte("[]")
	}
	payload := []byte(env.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO dead_letter_message (message_id, message_type, submission_id, payload,
		       error_code, error_message, retry_count, retry_history, first_failed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (message_id) DO NOTHING
		RETURNING `+dlqColumns+`
	`, env.MessageID, env.MessageType, env.SubmissionID, payload,
		env.ErrorCode, env.ErrorMessage, env.RetryCount, history, firstFailed)

	entry, err := scanDLQEntry(row)
	if err == nil {
		metrics.RecordDLQEntry(entry.ErrorCode)
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("insert dlq entry %s: %w", env.MessageID, err)
	}

	// Conflict: a row with this message_id already exists, return it.
	entry, err = scanDLQEntry(tx.QueryRow(ctx, `
		SELECT `+dlqColumns+`
		FROM dead_letter_message
		WHERE message_id = $1
	`, env.MessageID))
	if err != nil {
		return nil, fmt.Errorf("fetch existing dlq entry %s: %w", env.MessageID, err)
	}
	s.log.Debug().
		Str("message_id", env.MessageID).
		Int64("dlq_id", entry.ID).
		Msg("dlq insert hit existing row")
	return entry, nil
}

// SendToDLQ runs SendToDLQTx in its own transaction.
func (s *DLQStore) SendToDLQ(ctx context.Context, env *domain.DLQEnvelope) (*domain.DLQEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin dlq tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry, err := s.SendToDLQTx(ctx, tx, env)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dlq tx: %w", err)
	}
	return entry, nil
}

// CreateEntryTx builds the envelope from raw components; the stuck-job
// detector uses it since it never held a broker envelope.
func (s *DLQStore) CreateEntryTx(ctx context.Context, tx pgx.Tx, messageID, messageType string, submissionID *int32, payload json.RawMessage, errorCode, errorMessage string) (*domain.DLQEntry, error) {
	return s.SendToDLQTx(ctx, tx, &domain.DLQEnvelope{
		MessageID:    messageID,
		MessageType:  messageType,
		SubmissionID: submissionID,
		Payload:      payload,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
}

// List returns entries ordered created_at DESC plus the total count for
// the filter. per_page is clamped to [1, 100].
func (s *DLQStore) List(ctx context.Context, filter domain.DLQFilter, page, perPage int) ([]domain.DLQEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	var conds []string
	var args []any
	argN := 1
	if filter.MessageType != nil {
		conds = append(conds, fmt.Sprintf("message_type = $%d", argN))
		args = append(args, *filter.MessageType)
		argN++
	}
	if filter.Resolved != nil {
		conds = append(conds, fmt.Sprintf("resolved = $%d", argN))
		args = append(args, *filter.Resolved)
		argN++
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_message`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count dlq entries: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT `+dlqColumns+`
		FROM dead_letter_message%s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d
	`, where, perPage, (page-1)*perPage)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list dlq entries: %w", err)
	}
	defer rows.Close()

	var out []domain.DLQEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan dlq entry: %w", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list dlq entries: %w", err)
	}
	return out, total, nil
}

// GetByID loads one entry; domain.ErrNotFound when absent.
func (s *DLQStore) GetByID(ctx context.Context, id int64) (*domain.DLQEntry, error) {
	entry, err := scanDLQEntry(s.db.QueryRow(ctx, `
		SELECT `+dlqColumns+`
		FROM dead_letter_message
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get dlq entry %d: %w", id, err)
	}
	return entry, nil
}

// GetByIDForUpdateTx loads one entry under a row lock; the retry endpoint
// uses it to fence concurrent retries of the same entry.
func (s *DLQStore) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.DLQEntry, error) {
	entry, err := scanDLQEntry(tx.QueryRow(ctx, `
		SELECT `+dlqColumns+`
		FROM dead_letter_message
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get dlq entry %d for update: %w", id, err)
	}
	return entry, nil
}

// ResolveTx flips resolved once. The conditional update decides the
// outcome: zero rows affected means either a lost race (ErrAlreadyResolved)
// or a missing id (ErrNotFound).
func (s *DLQStore) ResolveTx(ctx context.Context, tx pgx.Tx, id int64, resolvedBy string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE dead_letter_message
		SET resolved = TRUE, resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved = FALSE
	`, id, textOrNil(resolvedBy))
	if err != nil {
		return fmt.Errorf("resolve dlq entry %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM dead_letter_message WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check dlq entry %d: %w", id, err)
	}
	if exists {
		return domain.ErrAlreadyResolved
	}
	return domain.ErrNotFound
}

// Resolve runs ResolveTx in its own transaction.
func (s *DLQStore) Resolve(ctx context.Context, id int64, resolvedBy string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.ResolveTx(ctx, tx, id, resolvedBy); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolve tx: %w", err)
	}
	return nil
}

// ResolveMany resolves every unresolved id in the set and reports how
// many rows actually flipped. Already-resolved and unknown ids are
// silently skipped.
func (s *DLQStore) ResolveMany(ctx context.Context, ids []int64, resolvedBy string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE dead_letter_message
		SET resolved = TRUE, resolved_at = NOW(), resolved_by = $2
		WHERE id = ANY($1) AND resolved = FALSE
	`, ids, textOrNil(resolvedBy))
	if err != nil {
		return 0, fmt.Errorf("bulk resolve dlq entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats reads the unresolved set once and aggregates in memory, plus one
// count of the resolved set.
func (s *DLQStore) Stats(ctx context.Context) (*domain.DLQStats, error) {
	stats := &domain.DLQStats{UnresolvedByErrorCode: make(map[string]int64)}

	rows, err := s.db.Query(ctx, `
		SELECT message_type, error_code
		FROM dead_letter_message
		WHERE resolved = FALSE
	`)
	if err != nil {
		return nil, fmt.Errorf("read unresolved dlq entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageType, errorCode string
		if err := rows.Scan(&messageType, &errorCode); err != nil {
			return nil, fmt.Errorf("scan dlq stats row: %w", err)
		}
		stats.TotalUnresolved++
		switch messageType {
		case message.TypeJudgeJob:
			stats.JudgeJobCount++
		case message.TypeJudgeResult:
			stats.JudgeResultCount++
		}
		stats.UnresolvedByErrorCode[errorCode]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read unresolved dlq entries: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM dead_letter_message WHERE resolved = TRUE
	`).Scan(&stats.TotalResolved)
	if err != nil {
		return nil, fmt.Errorf("count resolved dlq entries: %w", err)
	}
	return stats, nil
}

// HasUnresolvedEntryTx reports whether a submission already has an open
// dead-letter record; the stuck detector checks it before inserting.
func (s *DLQStore) HasUnresolvedEntryTx(ctx context.Context, tx pgx.Tx, submissionID int32) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dead_letter_message
			WHERE submission_id = $1 AND resolved = FALSE
		)
	`, submissionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unresolved dlq entries for %d: %w", submissionID, err)
	}
	return exists, nil
}

// HasUnresolvedEntry is HasUnresolvedEntryTx on the pool.
func (s *DLQStore) HasUnresolvedEntry(ctx context.Context, submissionID int32) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dead_letter_message
			WHERE submission_id = $1 AND resolved = FALSE
		)
	`, submissionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unresolved dlq entries for %d: %w", submissionID, err)
	}
	return exists, nil
}

func scanDLQEntry(row pgx.Row) (*domain.DLQEntry, error) {
	var (
		e       domain.DLQEntry
		payload []byte
		history []byte
	)
	err := row.Scan(
		&e.ID, &e.MessageID, &e.MessageType, &e.SubmissionID,
		&payload, &e.ErrorCode, &e.ErrorMessage, &e.RetryCount,
		&history, &e.FirstFailedAt, &e.CreatedAt,
		&e.Resolved, &e.ResolvedAt, &e.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &e.RetryHistory); err != nil {
			return nil, fmt.Errorf("unmarshal retry history: %w", err)
		}
	}
	return &e, nil
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
