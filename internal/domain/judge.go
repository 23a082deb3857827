package domain

// TestCase is the worker-facing snapshot of one test.
type TestCase struct {
	ID             int32  `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Score          int32  `json:"score"`
}

// ProblemSnapshot carries the judging parameters the dispatcher copies
// onto the job. The boundary loads it; problem CRUD is not our concern.
type ProblemSnapshot struct {
	TimeLimitMS   int32
	MemoryLimitKB int32
	TestCases     []TestCase
}

// JudgeJob is everything a worker needs, immutable once published.
type JudgeJob struct {
	JobID         string           `json:"job_id"`
	SubmissionID  int32            `json:"submission_id"`
	ProblemID     int32            `json:"problem_id"`
	Language      string           `json:"language"`
	Files         []SubmissionFile `json:"files"`
	TimeLimitMS   int32            `json:"time_limit_ms"`
	MemoryLimitKB int32            `json:"memory_limit_kb"`
	TestCases     []TestCase       `json:"test_cases"`
}

// TestCaseJudgeResult is the worker's outcome for a single test case.
type TestCaseJudgeResult struct {
	TestCaseID    int32   `json:"test_case_id"`
	Verdict       Verdict `json:"verdict"`
	Score         int32   `json:"score"`
	TimeUsed      *int32  `json:"time_used,omitempty"`
	MemoryUsed    *int32  `json:"memory_used,omitempty"`
	Stdout        *string `json:"stdout,omitempty"`
	Stderr        *string `json:"stderr,omitempty"`
	CheckerOutput *string `json:"checker_output,omitempty"`
}

// JudgeResult mirrors a submission's final shape plus per-test outcomes.
// Keyed by the job_id it answers.
type JudgeResult struct {
	JobID           string                `json:"job_id"`
	SubmissionID    int32                 `json:"submission_id"`
	Status          SubmissionStatus      `json:"status"`
	Verdict         *Verdict              `json:"verdict,omitempty"`
	Score           *int32                `json:"score,omitempty"`
	TimeUsed        *int32                `json:"time_used,omitempty"`
	MemoryUsed      *int32                `json:"memory_used,omitempty"`
	CompileOutput   *string               `json:"compile_output,omitempty"`
	ErrorCode       *string               `json:"error_code,omitempty"`
	ErrorMessage    *string               `json:"error_message,omitempty"`
	TestCaseResults []TestCaseJudgeResult `json:"test_case_results"`
}
