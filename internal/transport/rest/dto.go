package rest

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
)

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"max=128"`
}

type bulkResolveRequest struct {
	IDs        []int64 `json:"ids" validate:"required,min=1,max=100,dive,gt=0"`
	ResolvedBy string  `json:"resolved_by" validate:"max=128"`
}

type submitFile struct {
	Filename string `json:"filename" validate:"required,max=255"`
	Content  string `json:"content" validate:"required"`
}

type submitTestCase struct {
	ID             int32  `json:"id" validate:"gt=0"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Score          int32  `json:"score" validate:"gte=0"`
}

// submitRequest carries the submission plus the problem snapshot; problem
// CRUD lives elsewhere, so the operator supplies the judging parameters.
type submitRequest struct {
	ProblemID     int32            `json:"problem_id" validate:"gt=0"`
	UserID        int32            `json:"user_id" validate:"gt=0"`
	ContestID     *int32           `json:"contest_id" validate:"omitempty,gt=0"`
	Language      string           `json:"language" validate:"required,max=32"`
	Files         []submitFile     `json:"files" validate:"required,min=1,dive"`
	TimeLimitMS   int32            `json:"time_limit_ms" validate:"gt=0"`
	MemoryLimitKB int32            `json:"memory_limit_kb" validate:"gt=0"`
	TestCases     []submitTestCase `json:"test_cases" validate:"required,min=1,dive"`
}

func (req *submitRequest) toDomain() (*domain.Submission, *domain.ProblemSnapshot) {
	files := make([]domain.SubmissionFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = domain.SubmissionFile{Filename: f.Filename, Content: f.Content}
	}
	cases := make([]domain.TestCase, len(req.TestCases))
	for i, tc := range req.TestCases {
		cases[i] = domain.TestCase{
			ID:             tc.ID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Score:          tc.Score,
		}
	}
	sub := domain.NewSubmission(req.ProblemID, req.UserID, req.ContestID, req.Language, files)
	snap := &domain.ProblemSnapshot{
		TimeLimitMS:   req.TimeLimitMS,
		MemoryLimitKB: req.MemoryLimitKB,
		TestCases:     cases,
	}
	return sub, snap
}

type listDLQResponse struct {
	Items   []domain.DLQEntry `json:"items"`
	Total   int64             `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

type submissionResponse struct {
	ID            int32                   `json:"id"`
	ProblemID     int32                   `json:"problem_id"`
	UserID        int32                   `json:"user_id"`
	ContestID     *int32                  `json:"contest_id,omitempty"`
	Language      string                  `json:"language"`
	Files         []domain.SubmissionFile `json:"files"`
	Status        domain.SubmissionStatus `json:"status"`
	Verdict       *domain.Verdict         `json:"verdict,omitempty"`
	Score         *int32                  `json:"score,omitempty"`
	TimeUsed      *int32                  `json:"time_used,omitempty"`
	MemoryUsed    *int32                  `json:"memory_used,omitempty"`
	CompileOutput *string                 `json:"compile_output,omitempty"`
	ErrorCode     *string                 `json:"error_code,omitempty"`
	ErrorMessage  *string                 `json:"error_message,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	JudgedAt      *time.Time              `json:"judged_at,omitempty"`
}

func toSubmissionResponse(s *domain.Submission) submissionResponse {
	return submissionResponse{
		ID:            s.ID,
		ProblemID:     s.ProblemID,
		UserID:        s.UserID,
		ContestID:     s.ContestID,
		Language:      s.Language,
		Files:         s.Files,
		Status:        s.Status,
		Verdict:       s.Verdict,
		Score:         s.Score,
		TimeUsed:      s.TimeUsed,
		MemoryUsed:    s.MemoryUsed,
		CompileOutput: s.CompileOutput,
		ErrorCode:     s.ErrorCode,
		ErrorMessage:  s.ErrorMessage,
		CreatedAt:     s.CreatedAt,
		JudgedAt:      s.JudgedAt,
	}
}

// newValidator reports fields by their json names so validation meta maps
// straight onto the request body.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
