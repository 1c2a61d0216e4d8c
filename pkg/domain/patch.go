package domain

import "time"

// PatchStrategy selects the prompt template used for generation.
type PatchStrategy string

const (
	StrategyPackageUpdate PatchStrategy = "package_update"
	StrategyConfigChange  PatchStrategy = "config_change"
	StrategyWorkaround    PatchStrategy = "workaround"
)

// PatchStatus is the lifecycle state of a patch artifact.
type PatchStatus string

const (
	PatchGenerated        PatchStatus = "generated"
	PatchValidated        PatchStatus = "validated"
	PatchValidationFailed PatchStatus = "validation_failed"
	PatchTestPending      PatchStatus = "test_pending"
	PatchTestPassed       PatchStatus = "test_passed"
	PatchTestFailed       PatchStatus = "test_failed"
	PatchApproved         PatchStatus = "approved"
	PatchRejected         PatchStatus = "rejected"
)

// PatchRequest asks the orchestrator to produce a patch for one finding on one
// target platform.
type PatchRequest struct {
	Finding        *EnrichedFinding
	OSFamily       string
	OSVersion      string
	PackageManager string
	Strategy       PatchStrategy
}

// IssueSeverity grades a validation issue.
type IssueSeverity string

const (
	IssueCritical IssueSeverity = "critical"
	IssueHigh     IssueSeverity = "high"
	IssueMedium   IssueSeverity = "medium"
	IssueLow      IssueSeverity = "low"
)

// ValidationIssue is a single finding from static patch validation.
type ValidationIssue struct {
	Severity    IssueSeverity
	Description string
	Line        int
}

// ValidationReport is the immutable result of static patch validation.
type ValidationReport struct {
	SyntaxValid        bool
	SyntaxError        string
	Issues             []ValidationIssue
	ForbiddenCommands  []string
	SuspiciousPatterns []string
	MissingFeatures    []string
	SafetyScore        float64
	IsValid            bool
}

// PatchArtifact is a generated remediation script plus everything needed to
// audit and test it. The orchestrator exclusively owns it until its final
// status is set.
type PatchArtifact struct {
	ID              string
	FindingCVE      string
	Strategy        PatchStrategy
	Script          string
	RollbackScript  string
	Model           string
	Prompt          string
	RawResponse     string
	ConfidenceScore float64
	Validation      *ValidationReport
	Status          PatchStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
