package patch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/llm"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/metrics"
	"github.com/vulnzero/remediation-engine/pkg/sanitize"
)

const generateMaxRetries = 3

// Orchestrator turns a finding into a validated PatchArtifact: sanitized
// prompt assembly, LLM generation, script extraction, static validation,
// rollback generation and confidence scoring.
type Orchestrator struct {
	client    llm.Client
	validator *Validator
	detector  *sanitize.Detector
	logger    zerolog.Logger
	// useTemplates prefers the static template library over the LLM for
	// package updates on covered OS families.
	useTemplates bool
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithTemplates makes the orchestrator prefer static templates for package
// updates where one exists.
func WithTemplates() Option {
	return func(o *Orchestrator) { o.useTemplates = true }
}

// WithSanitizationLevel overrides the default moderate detector.
func WithSanitizationLevel(level sanitize.Level) Option {
	return func(o *Orchestrator) { o.detector = sanitize.NewDetector(level, 0) }
}

// NewOrchestrator creates an orchestrator around an LLM client.
func NewOrchestrator(client llm.Client, validator *Validator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:    client,
		validator: validator,
		detector:  sanitize.NewDetector(sanitize.LevelModerate, 0),
		logger:    logger.Component("patch_orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GeneratePatch produces a PatchArtifact for the request. An LLM failure is
// returned as an error alongside a failed-generation artifact so the caller
// can persist the attempt. Validation failure is not an error: the artifact
// comes back with status validation_failed.
func (o *Orchestrator) GeneratePatch(ctx context.Context, req domain.PatchRequest) (*domain.PatchArtifact, error) {
	if req.Finding == nil {
		return nil, errors.Newf(errors.CodeValidationFailed, "patch", "request has no finding")
	}
	now := time.Now().UTC()
	artifact := &domain.PatchArtifact{
		ID:         "patch_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		FindingCVE: req.Finding.CVEID,
		Strategy:   req.Strategy,
		Status:     domain.PatchGenerated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if o.useTemplates && req.Strategy == domain.StrategyPackageUpdate {
		if tmpl, ok := TemplateFor(req.OSFamily); ok {
			artifact.Script = tmpl.Render(req)
			artifact.Model = "template:" + tmpl.Name
			artifact.RawResponse = artifact.Script
			o.finish(ctx, artifact, req)
			return artifact, nil
		}
	}

	prompt := buildPrompt(req.Strategy, o.sanitizedContext(req))
	artifact.Prompt = prompt
	artifact.Model = o.client.Model()

	resp, err := llm.GenerateWithRetry(ctx, o.client, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.DefaultOptions(), generateMaxRetries)
	if err != nil {
		o.logger.Error().Err(err).Str("cve_id", req.Finding.CVEID).Msg("patch generation failed")
		metrics.PatchesGenerated.WithLabelValues("generation_failed").Inc()
		return artifact, err
	}

	artifact.RawResponse = resp.Content
	artifact.Model = resp.Model
	artifact.Script = ExtractScript(resp.Content)

	o.finish(ctx, artifact, req)
	return artifact, nil
}

// finish validates the script, generates the rollback and scores confidence.
func (o *Orchestrator) finish(ctx context.Context, artifact *domain.PatchArtifact, req domain.PatchRequest) {
	artifact.Validation = o.validator.Validate(ctx, artifact.Script)

	if artifact.Validation.SyntaxValid && strings.TrimSpace(artifact.Script) != "" {
		artifact.RollbackScript = o.generateRollback(ctx, artifact.Script)
	}

	artifact.ConfidenceScore = confidenceScore(artifact.Validation, req.Finding, artifact.Script)

	if artifact.Validation.IsValid {
		artifact.Status = domain.PatchValidated
	} else {
		artifact.Status = domain.PatchValidationFailed
	}
	artifact.UpdatedAt = time.Now().UTC()

	metrics.PatchesGenerated.WithLabelValues(string(artifact.Status)).Inc()
	o.logger.Info().
		Str("patch_id", artifact.ID).
		Str("cve_id", artifact.FindingCVE).
		Str("status", string(artifact.Status)).
		Float64("confidence", artifact.ConfidenceScore).
		Msg("patch artifact produced")
}

func (o *Orchestrator) generateRollback(ctx context.Context, script string) string {
	resp, err := llm.GenerateWithRetry(ctx, o.client, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: rollbackPrompt(script)},
	}, llm.Options{Temperature: 0.2, MaxTokens: 1000}, generateMaxRetries)
	if err != nil {
		o.logger.Warn().Err(err).Msg("rollback generation failed, continuing without rollback")
		return ""
	}
	return ExtractScript(resp.Content)
}

// sanitizedContext runs every externally sourced free-text field through the
// injection detector. Flagged content is logged and the sanitized form used;
// generation never hard-fails on it.
func (o *Orchestrator) sanitizedContext(req domain.PatchRequest) promptContext {
	f := req.Finding
	return promptContext{
		CVEID:             f.CVEID,
		Description:       o.detector.Sanitize(f.Description),
		PackageName:       o.detector.Sanitize(f.AffectedPackage),
		VulnerableVersion: o.detector.Sanitize(f.VulnerableVersion),
		FixedVersion:      o.detector.Sanitize(f.FixedVersion),
		OSFamily:          req.OSFamily,
		OSVersion:         req.OSVersion,
		PackageManager:    req.PackageManager,
	}
}

// Confidence weights: safety score dominates, then syntax, severity context,
// script size and the absence of forbidden commands.
const (
	confWeightSafety    = 0.4
	confWeightSyntax    = 0.2
	confWeightSeverity  = 0.15
	confWeightLength    = 0.15
	confWeightForbidden = 0.1
)

// confidenceScore emits a score in [0,1]. Script size is measured in lines:
// 50-500 is the sweet spot, 500-1000 acceptable, anything else penalized.
func confidenceScore(report *domain.ValidationReport, finding *domain.EnrichedFinding, script string) float64 {
	score := report.SafetyScore * confWeightSafety

	if report.SyntaxValid {
		score += confWeightSyntax
	}

	// Well-known high-severity CVEs have better-tested remediation patterns.
	if finding != nil && finding.HasCVSS && finding.CVSSScore >= 7.0 {
		score += confWeightSeverity
	} else {
		score += confWeightSeverity * 2 / 3
	}

	lines := strings.Count(script, "\n") + 1
	switch {
	case lines >= 50 && lines <= 500:
		score += confWeightLength
	case lines > 500 && lines <= 1000:
		score += confWeightLength * 2 / 3
	default:
		score += confWeightLength / 3
	}

	if len(report.ForbiddenCommands) == 0 {
		score += confWeightForbidden
	}

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
