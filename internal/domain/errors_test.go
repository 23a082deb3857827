package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := domain.NewTransientError("apply result", cause)

	assert.Contains(t, err.Error(), "TRANSIENT_ERROR")
	assert.Contains(t, err.Error(), "connection reset")
	assert.ErrorIs(t, err, cause)

	var appErr *domain.AppError
	require.ErrorAs(t, fmt.Errorf("handler: %w", err), &appErr)
	assert.Equal(t, domain.ErrCodeTransient, appErr.Code)
}

func TestTypeMismatchError(t *testing.T) {
	err := &domain.TypeMismatchError{Expected: "judge_result", Actual: "judge_job"}
	assert.Contains(t, err.Error(), `"judge_result"`)
	assert.Contains(t, err.Error(), `"judge_job"`)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient", domain.NewTransientError("db timeout", nil), true},
		{"business", domain.NewBusinessError("submission not visible yet", nil), true},
		{"connection", domain.NewConnectionError("channel closed", nil), true},
		{"plain error defaults retryable", errors.New("deadlock detected"), true},
		{"serialization is poison", domain.NewSerializationError("bad payload", nil), false},
		{"invalid input is poison", domain.NewInvalidInput("missing job_id"), false},
		{"type mismatch is poison", &domain.TypeMismatchError{Expected: "judge_result", Actual: "judge_job"}, false},
		{"wrapped type mismatch is poison", fmt.Errorf("decode: %w", &domain.TypeMismatchError{Expected: "a", Actual: "b"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, domain.IsRetryable(tt.err))
		})
	}
}
