// Package engine wires the ingestion pipeline, the patch orchestrator and the
// sandbox harness into the operations the scheduler invokes.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/enrich"
	"github.com/vulnzero/remediation-engine/pkg/ingest"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/metrics"
	"github.com/vulnzero/remediation-engine/pkg/patch"
	"github.com/vulnzero/remediation-engine/pkg/sandbox"
	"github.com/vulnzero/remediation-engine/pkg/scanner"
	"github.com/vulnzero/remediation-engine/pkg/store"
)

// AssetResolver looks up assets for sandbox tests. Asset inventory is a
// collaborator; the engine only needs this one lookup.
type AssetResolver func(ctx context.Context, assetID string) (*domain.Asset, error)

// Engine is the top-level façade over the core subsystems.
type Engine struct {
	scanners     []scanner.Adapter
	dedup        *ingest.Deduplicator
	enricher     *enrich.Enricher
	orchestrator *patch.Orchestrator
	harness      *sandbox.Harness
	store        store.Store
	assets       AssetResolver
	fleetSize    int
	logger       zerolog.Logger
}

// Options bundles the engine's collaborators.
type Options struct {
	Scanners     []scanner.Adapter
	Enricher     *enrich.Enricher
	Orchestrator *patch.Orchestrator
	Harness      *sandbox.Harness
	Store        store.Store
	Assets       AssetResolver
	FleetSize    int
}

// New creates an engine.
func New(opts Options) *Engine {
	return &Engine{
		scanners:     opts.Scanners,
		dedup:        ingest.NewDeduplicator(),
		enricher:     opts.Enricher,
		orchestrator: opts.Orchestrator,
		harness:      opts.Harness,
		store:        opts.Store,
		assets:       opts.Assets,
		fleetSize:    opts.FleetSize,
		logger:       logger.Component("engine"),
	}
}

// SourceResult summarizes one scanner's contribution to a scan cycle.
type SourceResult struct {
	Status string
	Count  int
	Error  string
}

// ScanReport is the outcome of one scan cycle.
type ScanReport struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Sources     map[string]SourceResult
	Total       int
	New         int
	Updated     int
}

// RunScanCycle fetches from every configured scanner concurrently, collapses
// duplicates, enriches, prioritizes and upserts. One failing scanner is
// isolated: it is reported in the summary and the cycle continues.
func (e *Engine) RunScanCycle(ctx context.Context, since time.Time) (*ScanReport, error) {
	report := &ScanReport{
		StartedAt: time.Now().UTC(),
		Sources:   make(map[string]SourceResult),
	}
	e.logger.Info().Time("since", since).Int("scanners", len(e.scanners)).Msg("starting scan cycle")

	var mu sync.Mutex
	var all []domain.RawFinding

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range e.scanners {
		adapter := adapter
		g.Go(func() error {
			findings, err := adapter.FetchFindings(gctx, since, nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Error().Err(err).Str("scanner", adapter.Name()).Msg("scanner failed, continuing cycle")
				report.Sources[adapter.Name()] = SourceResult{Status: "failed", Error: err.Error()}
				return nil
			}
			metrics.ScannerFindings.WithLabelValues(adapter.Name()).Add(float64(len(findings)))
			report.Sources[adapter.Name()] = SourceResult{Status: "success", Count: len(findings)}
			all = append(all, findings...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.ScanCycles.WithLabelValues("failed").Inc()
		return report, err
	}
	if err := ctx.Err(); err != nil {
		metrics.ScanCycles.WithLabelValues("cancelled").Inc()
		return report, err
	}

	deduped := e.dedup.Dedup(all)
	report.Total = len(deduped)

	enriched := e.enricher.EnrichBatch(ctx, deduped)

	for i := range enriched {
		f := &enriched[i]
		f.PriorityScore = ingest.PriorityScore(ingest.PriorityInput{
			CVSSScore:        f.CVSSScore,
			EPSSScore:        f.EPSSScore,
			ExploitAvailable: f.ExploitAvailable,
			InKEV:            f.InKEV,
			AffectedAssets:   len(f.AffectedAssets),
			FleetSize:        e.fleetSize,
		})

		_, err := e.store.FindFindingByCVE(ctx, f.CVEID)
		isNew := errors.HasCode(err, errors.CodeNotFound)

		if err := e.store.UpsertFinding(ctx, f); err != nil {
			e.logger.Error().Err(err).Str("cve_id", f.CVEID).Msg("failed to persist finding")
			continue
		}
		if isNew {
			report.New++
		} else {
			report.Updated++
		}
	}

	report.CompletedAt = time.Now().UTC()
	metrics.ScanCycles.WithLabelValues("success").Inc()
	e.logger.Info().
		Int("total", report.Total).
		Int("new", report.New).
		Int("updated", report.Updated).
		Msg("scan cycle completed")
	return report, nil
}

// EnrichFinding re-enriches a stored finding by CVE id and recomputes its
// priority.
func (e *Engine) EnrichFinding(ctx context.Context, cveID string) (*domain.EnrichedFinding, error) {
	existing, err := e.store.FindFindingByCVE(ctx, cveID)
	if err != nil {
		return nil, err
	}

	enriched := e.enricher.Enrich(ctx, existing.RawFinding)
	enriched.PriorityScore = ingest.PriorityScore(ingest.PriorityInput{
		CVSSScore:        enriched.CVSSScore,
		EPSSScore:        enriched.EPSSScore,
		ExploitAvailable: enriched.ExploitAvailable,
		InKEV:            enriched.InKEV,
		AffectedAssets:   len(enriched.AffectedAssets),
		FleetSize:        e.fleetSize,
	})

	if err := e.store.UpsertFinding(ctx, &enriched); err != nil {
		return nil, err
	}
	return &enriched, nil
}

// RecomputePriorities rescores every stored finding and returns how many
// changed materially.
func (e *Engine) RecomputePriorities(ctx context.Context) (int, error) {
	findings, err := e.store.ListFindings(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, f := range findings {
		old := f.PriorityScore
		f.PriorityScore = ingest.PriorityScore(ingest.PriorityInput{
			CVSSScore:        f.CVSSScore,
			EPSSScore:        f.EPSSScore,
			ExploitAvailable: f.ExploitAvailable,
			InKEV:            f.InKEV,
			AffectedAssets:   len(f.AffectedAssets),
			FleetSize:        e.fleetSize,
		})
		if diff := f.PriorityScore - old; diff > 0.1 || diff < -0.1 {
			if err := e.store.UpsertFinding(ctx, f); err != nil {
				return updated, err
			}
			updated++
		}
	}
	e.logger.Info().Int("total", len(findings)).Int("updated", updated).Msg("priorities recomputed")
	return updated, nil
}

// GeneratePatch runs the orchestrator for a stored finding and persists the
// artifact, including failed generations.
func (e *Engine) GeneratePatch(ctx context.Context, req domain.PatchRequest) (*domain.PatchArtifact, error) {
	artifact, genErr := e.orchestrator.GeneratePatch(ctx, req)
	if artifact != nil {
		if err := e.store.SavePatch(ctx, artifact); err != nil {
			e.logger.Error().Err(err).Msg("failed to persist patch artifact")
		}
	}
	return artifact, genErr
}

// TestPatch rehearses a stored patch against an asset in the sandbox and
// persists the result. Sandbox failures still produce a recorded test.
func (e *Engine) TestPatch(ctx context.Context, patchID, assetID string) (*domain.SandboxTest, error) {
	artifact, err := e.store.GetPatch(ctx, patchID)
	if err != nil {
		return nil, err
	}
	asset, err := e.assets(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdatePatchStatus(ctx, patchID, domain.PatchTestPending); err != nil {
		e.logger.Error().Err(err).Str("patch_id", patchID).Msg("failed to mark patch test_pending")
	}

	test, testErr := e.harness.RunTest(ctx, artifact, asset)
	if test != nil {
		if err := e.store.SaveSandboxTest(ctx, test); err != nil {
			e.logger.Error().Err(err).Msg("failed to persist sandbox test")
		}
		e.updatePatchAfterTest(ctx, artifact, test)
	}
	return test, testErr
}

// updatePatchAfterTest applies the test verdict to the patch status. A
// test_passed status additionally requires the artifact's confidence floor
// and a clean validation report.
func (e *Engine) updatePatchAfterTest(ctx context.Context, artifact *domain.PatchArtifact, test *domain.SandboxTest) {
	var status domain.PatchStatus
	switch test.Status {
	case domain.TestPassed:
		if artifact.ConfidenceScore >= 0.6 &&
			artifact.Validation != nil &&
			artifact.Validation.SyntaxValid &&
			len(artifact.Validation.ForbiddenCommands) == 0 {
			status = domain.PatchTestPassed
		} else {
			status = domain.PatchTestFailed
		}
	default:
		status = domain.PatchTestFailed
	}
	if err := e.store.UpdatePatchStatus(ctx, artifact.ID, status); err != nil {
		e.logger.Error().Err(err).Str("patch_id", artifact.ID).Msg("failed to update patch status")
	}
}
