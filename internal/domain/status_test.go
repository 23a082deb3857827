package domain_test

import (
	"testing"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionStatusPredicates(t *testing.T) {
	tests := []struct {
		status   domain.SubmissionStatus
		terminal bool
		judged   bool
		isErr    bool
	}{
		{domain.StatusPending, false, false, false},
		{domain.StatusCompiling, false, false, false},
		{domain.StatusRunning, false, false, false},
		{domain.StatusJudged, true, true, false},
		{domain.StatusCompilationError, true, false, true},
		{domain.StatusSystemError, true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.judged, tt.status.IsJudged())
			assert.Equal(t, tt.isErr, tt.status.IsError())
		})
	}
}

func TestParseSubmissionStatus(t *testing.T) {
	t.Run("round trips every status", func(t *testing.T) {
		for _, s := range []domain.SubmissionStatus{
			domain.StatusPending, domain.StatusCompiling, domain.StatusRunning,
			domain.StatusJudged, domain.StatusCompilationError, domain.StatusSystemError,
		} {
			got, err := domain.ParseSubmissionStatus(s.String())
			require.NoError(t, err)
			assert.Equal(t, s, got)
		}
	})

	t.Run("rejects unknown strings", func(t *testing.T) {
		for _, bad := range []string{"", "pending", "PENDING", "Done", "judged"} {
			_, err := domain.ParseSubmissionStatus(bad)
			require.Error(t, err)

			var parseErr *domain.ParseStatusError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, bad, parseErr.Invalid)
		}
	})
}
