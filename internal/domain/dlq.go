package domain

import (
	"encoding/json"
	"time"
)

// RetryAttempt is one failed attempt in a message's retry history.
type RetryAttempt struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// DLQEnvelope is the failure record as it travels: built locally when
// retries exhaust and consumed from the jobs DLQ queue when a worker gives
// up. FirstFailedAt defaults to the first retry attempt's timestamp; the
// store falls back to now when the history is empty.
type DLQEnvelope struct {
	MessageID     string          `json:"message_id"`
	MessageType   string          `json:"message_type"`
	SubmissionID  *int32          `json:"submission_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	ErrorCode     string          `json:"error_code"`
	ErrorMessage  string          `json:"error_message"`
	RetryCount    int             `json:"retry_count"`
	RetryHistory  []RetryAttempt  `json:"retry_history"`
	FirstFailedAt *time.Time      `json:"first_failed_at,omitempty"`
}

// DLQEntry is the durable dead-letter row. message_id is globally unique;
// re-insertion returns the existing row. resolved never flips back to
// false.
type DLQEntry struct {
	ID            int64           `json:"id"`
	MessageID     string          `json:"message_id"`
	MessageType   string          `json:"message_type"`
	SubmissionID  *int32          `json:"submission_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	ErrorCode     string          `json:"error_code"`
	ErrorMessage  string          `json:"error_message"`
	RetryCount    int             `json:"retry_count"`
	RetryHistory  []RetryAttempt  `json:"retry_history"`
	FirstFailedAt time.Time       `json:"first_failed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	Resolved      bool            `json:"resolved"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy    *string         `json:"resolved_by,omitempty"`
}

// DLQFilter narrows List; nil fields mean no filter.
type DLQFilter struct {
	MessageType *string
	Resolved    *bool
}

// DLQStats summarizes the dead-letter table for operators. Type and
// error-code splits cover the unresolved set only.
type DLQStats struct {
	TotalUnresolved       int64            `json:"total_unresolved"`
	TotalResolved         int64            `json:"total_resolved"`
	JudgeJobCount         int64            `json:"judge_job_count"`
	JudgeResultCount      int64            `json:"judge_result_count"`
	UnresolvedByErrorCode map[string]int64 `json:"unresolved_by_error_code"`
}
