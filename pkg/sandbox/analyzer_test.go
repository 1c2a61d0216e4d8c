package sandbox

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

func baseTest(exitCode int, stderr string, healthRate float64) *domain.SandboxTest {
	passed := 0
	total := 10
	passed = int(healthRate / 10)
	results := make([]domain.HealthCheckResult, 0, total)
	for i := 0; i < total; i++ {
		results = append(results, domain.HealthCheckResult{Name: "check", Passed: i < passed})
	}
	return &domain.SandboxTest{
		ID:        "test_1",
		Execution: &domain.ExecResult{ExitCode: exitCode, Stderr: stderr},
		Health: &domain.HealthReport{
			Results:     results,
			Total:       total,
			Passed:      passed,
			SuccessRate: healthRate,
			OverallPass: healthRate >= HealthPassThreshold,
		},
		StartedAt:   time.Now().Add(-time.Minute),
		CompletedAt: time.Now(),
	}
}

func TestAnalyze_Passed(t *testing.T) {
	test := baseTest(0, "", 100)
	NewAnalyzer().Analyze(test)

	assert.Equal(t, domain.TestPassed, test.Status)
	assert.Equal(t, 100.0, test.Confidence)
	assert.Empty(t, test.Issues)
}

func TestAnalyze_FailedOnExitCode(t *testing.T) {
	test := baseTest(1, "broken", 100)
	NewAnalyzer().Analyze(test)

	assert.Equal(t, domain.TestFailed, test.Status)
	// No pass bonus, no exit bonus, no stderr bonus; health contributes 20.
	assert.Equal(t, 20.0, test.Confidence)
	assert.NotEmpty(t, test.Issues)
}

func TestAnalyze_FailedOnHealth(t *testing.T) {
	test := baseTest(0, "", 50)
	NewAnalyzer().Analyze(test)

	assert.Equal(t, domain.TestFailed, test.Status)
	// exit 0 (+20), stderr empty (+10), health 50% (+10).
	assert.Equal(t, 40.0, test.Confidence)
	// Five failed checks become issues.
	assert.Len(t, test.Issues, 5)
	// 50% rate is warned about, not silently dropped.
	assert.NotEmpty(t, test.Warnings)
}

func TestAnalyze_StderrWarning(t *testing.T) {
	test := baseTest(0, "some noise on stderr", 100)
	NewAnalyzer().Analyze(test)

	assert.Equal(t, domain.TestPassed, test.Status)
	assert.Equal(t, 90.0, test.Confidence)
	assert.Contains(t, test.Warnings[0], "stderr")
}

func TestAnalyze_MissingExecutionIsErrored(t *testing.T) {
	test := &domain.SandboxTest{ID: "test_2"}
	NewAnalyzer().Analyze(test)
	assert.Equal(t, domain.TestErrored, test.Status)
	assert.NotEmpty(t, test.Issues)
}

func TestReport_ContainsKeySections(t *testing.T) {
	test := baseTest(0, "", 100)
	test.Diff = &domain.StateDiff{
		UpdatedPackages: []domain.PackageChange{{Name: "nginx", From: "1", To: "2"}},
		HasChanges:      true,
	}
	idempotent := true
	test.Idempotent = &idempotent
	NewAnalyzer().Analyze(test)

	report := NewAnalyzer().Report(test)
	assert.True(t, strings.Contains(report, "SANDBOX TEST REPORT"))
	assert.Contains(t, report, "PASSED")
	assert.Contains(t, report, "nginx")
	assert.Contains(t, report, "Idempotency probe: PASS")
}
