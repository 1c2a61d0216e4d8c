// Package store defines the narrow persistence interface the engine writes
// through. The engine never assumes a schema; durable storage is a collaborator.
package store

import (
	"context"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

// Store is the persistence sink for findings, patches and sandbox tests.
type Store interface {
	UpsertFinding(ctx context.Context, f *domain.EnrichedFinding) error
	FindFindingByCVE(ctx context.Context, cveID string) (*domain.EnrichedFinding, error)
	SavePatch(ctx context.Context, p *domain.PatchArtifact) error
	GetPatch(ctx context.Context, patchID string) (*domain.PatchArtifact, error)
	UpdatePatchStatus(ctx context.Context, patchID string, status domain.PatchStatus) error
	SaveSandboxTest(ctx context.Context, t *domain.SandboxTest) error
	ListFindings(ctx context.Context) ([]*domain.EnrichedFinding, error)
}
