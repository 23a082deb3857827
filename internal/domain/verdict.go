package domain

import "fmt"

// Verdict is the per-test-case (and aggregate) judging outcome, PascalCase
// codec like SubmissionStatus.
type Verdict string

const (
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictSystemError         Verdict = "SystemError"
)

// Severity is the total order used to pick the worst verdict across test
// cases: Accepted=0 rising to SystemError=5. Unknown verdicts rank worst.
func (v Verdict) Severity() uint8 {
	switch v {
	case VerdictAccepted:
		return 0
	case VerdictWrongAnswer:
		return 1
	case VerdictTimeLimitExceeded:
		return 2
	case VerdictMemoryLimitExceeded:
		return 3
	case VerdictRuntimeError:
		return 4
	case VerdictSystemError:
		return 5
	}
	return 5
}

func (v Verdict) String() string {
	return string(v)
}

// ParseVerdict decodes the PascalCase codec form.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictAccepted, VerdictWrongAnswer, VerdictTimeLimitExceeded,
		VerdictMemoryLimitExceeded, VerdictRuntimeError, VerdictSystemError:
		return Verdict(s), nil
	}
	return "", fmt.Errorf("invalid verdict %q", s)
}

// WorstVerdict returns the highest-severity verdict across test cases.
// Ties resolve to the later occurrence. An empty slice counts as Accepted.
func WorstVerdict(results []TestCaseJudgeResult) Verdict {
	worst := VerdictAccepted
	for _, r := range results {
		if r.Verdict.Severity() >= worst.Severity() {
			worst = r.Verdict
		}
	}
	return worst
}
