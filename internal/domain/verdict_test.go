package domain_test

import (
	"testing"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictSeverityOrder(t *testing.T) {
	ordered := []domain.Verdict{
		domain.VerdictAccepted,
		domain.VerdictWrongAnswer,
		domain.VerdictTimeLimitExceeded,
		domain.VerdictMemoryLimitExceeded,
		domain.VerdictRuntimeError,
		domain.VerdictSystemError,
	}

	for i, v := range ordered {
		assert.Equal(t, uint8(i), v.Severity(), "severity of %s", v)
	}

	assert.Equal(t, uint8(5), domain.Verdict("Bogus").Severity(), "unknown verdicts rank worst")
}

func TestParseVerdict(t *testing.T) {
	got, err := domain.ParseVerdict("TimeLimitExceeded")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictTimeLimitExceeded, got)

	_, err = domain.ParseVerdict("accepted")
	assert.Error(t, err)
}

func TestWorstVerdict(t *testing.T) {
	tc := func(id int32, v domain.Verdict) domain.TestCaseJudgeResult {
		return domain.TestCaseJudgeResult{TestCaseID: id, Verdict: v}
	}

	tests := []struct {
		name     string
		results  []domain.TestCaseJudgeResult
		expected domain.Verdict
	}{
		{"empty is accepted", nil, domain.VerdictAccepted},
		{"all accepted", []domain.TestCaseJudgeResult{tc(1, domain.VerdictAccepted), tc(2, domain.VerdictAccepted)}, domain.VerdictAccepted},
		{"single failure dominates", []domain.TestCaseJudgeResult{tc(1, domain.VerdictAccepted), tc(2, domain.VerdictWrongAnswer), tc(3, domain.VerdictAccepted)}, domain.VerdictWrongAnswer},
		{"highest severity wins", []domain.TestCaseJudgeResult{tc(1, domain.VerdictWrongAnswer), tc(2, domain.VerdictRuntimeError), tc(3, domain.VerdictTimeLimitExceeded)}, domain.VerdictRuntimeError},
		{"system error beats everything", []domain.TestCaseJudgeResult{tc(1, domain.VerdictSystemError), tc(2, domain.VerdictRuntimeError)}, domain.VerdictSystemError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, domain.WorstVerdict(tt.results))
		})
	}
}

func TestWorstVerdictTieBreaksToLaterOccurrence(t *testing.T) {
	// Two distinct verdict values can never tie on severity, so the tie
	// rule is observable only through identity of equal values; pin the
	// scan direction instead: the last maximal element is kept.
	results := []domain.TestCaseJudgeResult{
		{TestCaseID: 1, Verdict: domain.VerdictRuntimeError},
		{TestCaseID: 2, Verdict: domain.VerdictAccepted},
		{TestCaseID: 3, Verdict: domain.VerdictRuntimeError},
	}
	assert.Equal(t, domain.VerdictRuntimeError, domain.WorstVerdict(results))
}
