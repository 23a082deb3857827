package hooks

import (
	"time"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
)

// Topics emitted by the judging pipeline.
const (
	TopicSubmissionDispatched = "submission.dispatched"
	TopicResultIngested       = "result.ingested"
	TopicSubmissionFailed     = "submission.failed"
	TopicSubmissionStuck      = "submission.stuck"
	TopicDLQEntryRecorded     = "dlq.entry_recorded"
)

// SubmissionDispatched fires after a judge job is on the queue.
type SubmissionDispatched struct {
	SubmissionID int32
	JobID        string
	Queue        string
}

func (SubmissionDispatched) Topic() string { return TopicSubmissionDispatched }

// ResultIngested fires after a judge result is committed.
type ResultIngested struct {
	SubmissionID int32
	JobID        string
	Status       domain.SubmissionStatus
	Verdict      *domain.Verdict
}

func (ResultIngested) Topic() string { return TopicResultIngested }

// SubmissionFailed fires when a submission is marked SystemError by any
// failure path.
type SubmissionFailed struct {
	SubmissionID int32
	MessageID    string
	ErrorCode    string
}

func (SubmissionFailed) Topic() string { return TopicSubmissionFailed }

// SubmissionStuck fires when the detector reaps a stranded submission.
type SubmissionStuck struct {
	SubmissionID int32
	CreatedAt    time.Time
}

func (SubmissionStuck) Topic() string { return TopicSubmissionStuck }

// DLQEntryRecorded fires after a dead-letter row is committed.
type DLQEntryRecorded struct {
	MessageID    string
	MessageType  string
	ErrorCode    string
	SubmissionID *int32
}

func (DLQEntryRecorded) Topic() string { return TopicDLQEntryRecorded }
