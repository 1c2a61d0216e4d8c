package sandbox

import (
	"time"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/logger"
)

// Analyzer converts raw execution data into the final test verdict.
type Analyzer struct {
	logger zerolog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{logger: logger.Component("result_analyzer")}
}

// Analyze sets the test's status, confidence, issues and warnings in place.
//
// Status: passed iff the patch exited 0 and the health aggregate met the
// threshold; failed on a non-zero exit; errored states are set by the harness
// before analysis runs.
//
// Confidence: +50 for passed, +20 for exit 0, +10 for empty stderr, up to
// +20 proportional to the health success rate, clamped to 100.
func (a *Analyzer) Analyze(test *domain.SandboxTest) {
	if test.Execution == nil {
		test.Status = domain.TestErrored
		test.Issues = append(test.Issues, "no execution result recorded")
		return
	}

	patchOK := test.Execution.Success()
	healthOK := test.Health != nil && test.Health.OverallPass

	switch {
	case patchOK && healthOK:
		test.Status = domain.TestPassed
	default:
		test.Status = domain.TestFailed
	}

	confidence := 0.0
	if test.Status == domain.TestPassed {
		confidence += 50
	}
	if patchOK {
		confidence += 20
	}
	if strings.TrimSpace(test.Execution.Stderr) == "" {
		confidence += 10
	}
	if test.Health != nil {
		confidence += test.Health.SuccessRate / 100 * 20
	}
	if confidence > 100 {
		confidence = 100
	}
	test.Confidence = confidence

	// Issues.
	if !patchOK {
		test.Issues = append(test.Issues,
			fmt.Sprintf("patch execution failed with exit code %d", test.Execution.ExitCode))
	}
	if test.Health != nil {
		for _, check := range test.Health.Results {
			if !check.Passed {
				test.Issues = append(test.Issues,
					fmt.Sprintf("health check failed: %s - %s", check.Name, check.Message))
			}
		}
	}

	// Warnings.
	if stderr := strings.TrimSpace(test.Execution.Stderr); stderr != "" && patchOK {
		test.Warnings = append(test.Warnings, "patch execution produced stderr output")
	}
	if test.Health != nil && test.Health.SuccessRate >= 50 && test.Health.SuccessRate < HealthPassThreshold {
		test.Warnings = append(test.Warnings,
			fmt.Sprintf("low health check success rate: %.1f%%", test.Health.SuccessRate))
	}
}

// Report renders a human-readable summary of the test.
func (a *Analyzer) Report(test *domain.SandboxTest) string {
	var b strings.Builder
	line := strings.Repeat("=", 72)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "SANDBOX TEST REPORT")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Test ID: %s\n", test.ID)
	fmt.Fprintf(&b, "Patch: %s  Asset: %s  Image: %s\n", test.PatchID, test.AssetID, test.ImageKey)
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(test.Status)))
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", test.Confidence)
	fmt.Fprintf(&b, "Duration: %s\n\n", test.CompletedAt.Sub(test.StartedAt).Round(10 * time.Millisecond))

	if test.Execution != nil {
		fmt.Fprintln(&b, "PATCH EXECUTION:")
		fmt.Fprintf(&b, "  Exit Code: %d\n", test.Execution.ExitCode)
		fmt.Fprintf(&b, "  Duration: %s\n", test.Execution.Duration.Round(10 * time.Millisecond))
	}

	if test.Diff != nil && test.Diff.HasChanges {
		fmt.Fprintln(&b, "\nSTATE CHANGES:")
		for _, change := range test.Diff.UpdatedPackages {
			fmt.Fprintf(&b, "  updated %s: %s -> %s\n", change.Name, change.From, change.To)
		}
		for _, pkg := range test.Diff.AddedPackages {
			fmt.Fprintf(&b, "  added %s\n", pkg)
		}
		for _, svc := range test.Diff.StartedServices {
			fmt.Fprintf(&b, "  started service %s\n", svc)
		}
	}

	if test.Health != nil {
		fmt.Fprintln(&b, "\nHEALTH CHECKS:")
		fmt.Fprintf(&b, "  Passed: %d/%d (%.1f%%)\n", test.Health.Passed, test.Health.Total, test.Health.SuccessRate)
	}

	if test.Idempotent != nil {
		fmt.Fprintf(&b, "\nIdempotency probe: %s\n", passFail(*test.Idempotent))
	}
	if test.RolledBack != nil {
		fmt.Fprintf(&b, "Rollback probe: %s\n", passFail(*test.RolledBack))
	}

	if len(test.Issues) > 0 {
		fmt.Fprintln(&b, "\nISSUES:")
		for _, issue := range test.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}
	if len(test.Warnings) > 0 {
		fmt.Fprintln(&b, "\nWARNINGS:")
		for _, warning := range test.Warnings {
			fmt.Fprintf(&b, "  - %s\n", warning)
		}
	}

	fmt.Fprintln(&b, line)
	return b.String()
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
