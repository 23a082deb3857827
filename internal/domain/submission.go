package domain

import "time"

// SubmissionFile is one source file of a submission. The pipeline treats
// contents as opaque; files above the configured inline threshold carry a
// content-hash marker instead of inline content, with the bytes living in
// the blob store.
type SubmissionFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// Submission is the persistent record the pipeline drives from Pending to
// a terminal state.
type Submission struct {
	ID            int32
	ProblemID     int32
	UserID        int32
	ContestID     *int32
	Language      string
	Files         []SubmissionFile
	Status        SubmissionStatus
	Verdict       *Verdict
	Score         *int32
	TimeUsed      *int32
	MemoryUsed    *int32
	CompileOutput *string
	ErrorCode     *string
	ErrorMessage  *string
	CreatedAt     time.Time
	JudgedAt      *time.Time
}

// NewSubmission builds a Pending submission ready for Create.
func NewSubmission(problemID, userID int32, contestID *int32, language string, files []SubmissionFile) *Submission {
	return &Submission{
		ProblemID: problemID,
		UserID:    userID,
		ContestID: contestID,
		Language:  language,
		Files:     files,
		Status:    StatusPending,
	}
}

// TotalFileSize sums the inline content bytes across files.
func (s *Submission) TotalFileSize() int64 {
	var n int64
	for _, f := range s.Files {
		n += int64(len(f.Content))
	}
	return n
}
