package domain

import "fmt"

// SubmissionStatus is the lifecycle state of a submission. The string
// values double as the wire and database codec (PascalCase).
type SubmissionStatus string

const (
	StatusPending          SubmissionStatus = "Pending"
	StatusCompiling        SubmissionStatus = "Compiling"
	StatusRunning          SubmissionStatus = "Running"
	StatusJudged           SubmissionStatus = "Judged"
	StatusCompilationError SubmissionStatus = "CompilationError"
	StatusSystemError      SubmissionStatus = "SystemError"
)

// IsTerminal reports whether no further status transition is allowed.
// Terminal submissions must have judged_at set.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusJudged, StatusCompilationError, StatusSystemError:
		return true
	}
	return false
}

// IsJudged reports whether the submission completed normally.
func (s SubmissionStatus) IsJudged() bool {
	return s == StatusJudged
}

// IsError reports whether the submission ended in a failure state.
func (s SubmissionStatus) IsError() bool {
	return s == StatusCompilationError || s == StatusSystemError
}

func (s SubmissionStatus) String() string {
	return string(s)
}

// ParseStatusError reports a string that is not a valid status.
type ParseStatusError struct {
	Invalid string
}

func (e *ParseStatusError) Error() string {
	return fmt.Sprintf("invalid submission status %q", e.Invalid)
}

// ParseSubmissionStatus decodes the PascalCase codec form.
func ParseSubmissionStatus(s string) (SubmissionStatus, error) {
	switch SubmissionStatus(s) {
	case StatusPending, StatusCompiling, StatusRunning,
		StatusJudged, StatusCompilationError, StatusSystemError:
		return SubmissionStatus(s), nil
	}
	return "", &ParseStatusError{Invalid: s}
}
