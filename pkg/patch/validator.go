package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/runner"
)

const (
	syntaxCheckTimeout = 5 * time.Second
	shellcheckTimeout  = 10 * time.Second
	// MinSafetyScore is the validity floor for the computed safety score.
	MinSafetyScore = 0.6
)

// Commands that disqualify a script outright.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/[^/]`),
	regexp.MustCompile(`(?i)dd\s+if=`),
	regexp.MustCompile(`(?i)mkfs`),
	regexp.MustCompile(`(?i)fdisk`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`(?i)chmod\s+777`),
	regexp.MustCompile(`(?i)chown.*root`),
	regexp.MustCompile(`:\(\)\{:\|:&\};:`),
	regexp.MustCompile(`(?i)curl.*\|.*bash`),
	regexp.MustCompile(`(?i)wget.*\|.*sh`),
}

// Patterns that warrant a warning but not rejection.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf`),
	regexp.MustCompile(`(?i)chmod\s+[0-7]{3}`),
	regexp.MustCompile(`(?i)>\s*/etc/`),
	regexp.MustCompile(`(?i)systemctl\s+disable`),
	regexp.MustCompile(`(?i)sed\s+-i`),
	regexp.MustCompile(`(?i)iptables.*-F`),
	regexp.MustCompile(`(?i)setenforce\s+0`),
}

var issuePenalties = map[domain.IssueSeverity]float64{
	domain.IssueCritical: 0.5,
	domain.IssueHigh:     0.2,
	domain.IssueMedium:   0.1,
	domain.IssueLow:      0.05,
}

// Validator statically analyses candidate remediation scripts. Validation is
// deterministic for a fixed script on a fixed platform.
type Validator struct {
	runner runner.CommandRunner
	logger zerolog.Logger
	// shellPath is the shell used for no-execute syntax checks.
	shellPath string
}

// NewValidator creates a validator using the default command runner.
func NewValidator() *Validator {
	return &Validator{
		runner:    &runner.DefaultCommandRunner{},
		logger:    logger.Component("patch_validator"),
		shellPath: "bash",
	}
}

// Validate performs the full static analysis pass and produces an immutable report.
func (v *Validator) Validate(ctx context.Context, script string) *domain.ValidationReport {
	report := &domain.ValidationReport{}

	// 1. Syntax: bash -n with the script on stdin; timeout counts as failure.
	report.SyntaxValid, report.SyntaxError = v.checkSyntax(ctx, script)
	if !report.SyntaxValid {
		report.Issues = append(report.Issues, domain.ValidationIssue{
			Severity:    domain.IssueCritical,
			Description: "Syntax error: " + report.SyntaxError,
		})
	}

	// 2. Forbidden commands.
	for _, re := range forbiddenPatterns {
		for _, match := range findMatches(script, re) {
			report.ForbiddenCommands = append(report.ForbiddenCommands, match.text)
			report.Issues = append(report.Issues, domain.ValidationIssue{
				Severity:    domain.IssueCritical,
				Description: "Forbidden command detected: " + match.text,
				Line:        match.line,
			})
		}
	}

	// 3. Suspicious patterns.
	for _, re := range suspiciousPatterns {
		for _, match := range findMatches(script, re) {
			report.SuspiciousPatterns = append(report.SuspiciousPatterns, match.text)
			report.Issues = append(report.Issues, domain.ValidationIssue{
				Severity:    domain.IssueHigh,
				Description: "Suspicious pattern detected: " + match.text,
				Line:        match.line,
			})
		}
	}

	// 4. Required safety features.
	report.MissingFeatures = v.checkRequiredFeatures(script, report)

	// 5. Optional external linter.
	v.runShellcheck(ctx, script, report)

	// 6. Safety score.
	report.SafetyScore = safetyScore(report)

	// 7. Overall validity.
	report.IsValid = report.SyntaxValid &&
		len(report.ForbiddenCommands) == 0 &&
		report.SafetyScore >= MinSafetyScore

	v.logger.Debug().
		Bool("syntax_valid", report.SyntaxValid).
		Int("forbidden", len(report.ForbiddenCommands)).
		Float64("safety_score", report.SafetyScore).
		Bool("is_valid", report.IsValid).
		Msg("validation complete")
	return report
}

func (v *Validator) checkSyntax(ctx context.Context, script string) (bool, string) {
	sctx, cancel := context.WithTimeout(ctx, syntaxCheckTimeout)
	defer cancel()

	_, stderr, exitCode, err := v.runner.RunDemuxed(sctx, script, v.shellPath, "-n")
	if sctx.Err() != nil {
		return false, "syntax check timed out"
	}
	if err != nil {
		return false, fmt.Sprintf("syntax check failed to run: %v", err)
	}
	if exitCode != 0 {
		return false, strings.TrimSpace(stderr)
	}
	return true, ""
}

func (v *Validator) checkRequiredFeatures(script string, report *domain.ValidationReport) []string {
	var missing []string

	if !strings.HasPrefix(strings.TrimSpace(script), "#!") {
		missing = append(missing, "shebang")
		report.Issues = append(report.Issues, domain.ValidationIssue{
			Severity:    domain.IssueMedium,
			Description: "Missing shebang (#!/bin/bash)",
			Line:        1,
		})
	}
	if !strings.Contains(script, "set -e") && !strings.Contains(script, "|| exit") {
		missing = append(missing, "error_exit_guard")
		report.Issues = append(report.Issues, domain.ValidationIssue{
			Severity:    domain.IssueMedium,
			Description: "No error handling detected (consider 'set -e')",
		})
	}
	if !strings.Contains(script, "/var/log") && !strings.Contains(script, "logger") {
		missing = append(missing, "logging")
		report.Issues = append(report.Issues, domain.ValidationIssue{
			Severity:    domain.IssueLow,
			Description: "No logging detected",
		})
	}
	// A conditional is the cheapest observable proxy for idempotency.
	if !strings.Contains(script, "if [") && !strings.Contains(script, "[ -f") {
		missing = append(missing, "idempotency_guard")
		report.Issues = append(report.Issues, domain.ValidationIssue{
			Severity:    domain.IssueMedium,
			Description: "Script may not be idempotent (no condition checks)",
		})
	}
	return missing
}

// runShellcheck translates shellcheck findings into low-severity issues when
// the linter is installed; its absence is not a failure.
func (v *Validator) runShellcheck(ctx context.Context, script string, report *domain.ValidationReport) {
	if !runner.LookPath("shellcheck") {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, shellcheckTimeout)
	defer cancel()

	stdout, _, exitCode, err := v.runner.RunDemuxed(sctx, script, "shellcheck", "-f", "json", "-")
	if err != nil || exitCode == 0 {
		return
	}

	var findings []struct {
		Line    int    `json:"line"`
		Message string `json:"message"`
	}
	if jsonErr := json.Unmarshal([]byte(stdout), &findings); jsonErr != nil {
		return
	}
	if len(findings) > 5 {
		findings = findings[:5]
	}
	for _, f := range findings {
		report.Issues = append(report.Issues, domain.ValidationIssue{
			Severity:    domain.IssueLow,
			Description: fmt.Sprintf("shellcheck: %s", f.Message),
			Line:        f.Line,
		})
	}
}

// safetyScore starts at 1.0, short-circuits to 0 on any forbidden match, and
// otherwise subtracts weighted penalties per issue, clamped to [0,1].
func safetyScore(report *domain.ValidationReport) float64 {
	if len(report.ForbiddenCommands) > 0 {
		return 0.0
	}
	score := 1.0
	for _, issue := range report.Issues {
		score -= issuePenalties[issue.Severity]
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

type match struct {
	text string
	line int
}

func findMatches(script string, re *regexp.Regexp) []match {
	var out []match
	for _, loc := range re.FindAllStringIndex(script, -1) {
		out = append(out, match{
			text: script[loc[0]:loc[1]],
			line: strings.Count(script[:loc[0]], "\n") + 1,
		})
	}
	return out
}
