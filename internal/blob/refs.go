package blob

import (
	"time"

	"github.com/google/uuid"
)

// Object is the database record of a stored blob: one row per distinct
// content hash, never mutated after insert.
type Object struct {
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref ties a blob to an external owner (problem, submission) at a logical
// path. (owner_type, owner_id, path) is unique; replacing a ref at the
// same path rewrites the row and leaves the underlying blob alone — blob
// garbage collection is external policy.
type Ref struct {
	ID          uuid.UUID `json:"id"`
	OwnerType   string    `json:"owner_type"`
	OwnerID     int32     `json:"owner_id"`
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	Filename    string    `json:"filename"`
	ContentType *string   `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Owner types used by the judging pipeline.
const (
	OwnerSubmission = "submission"
	OwnerProblem    = "problem"
)
