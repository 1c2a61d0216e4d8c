package store

import (
	"context"
	"sync"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

// MemoryStore is an in-memory Store used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	findings map[string]*domain.EnrichedFinding
	order    []string
	patches  map[string]*domain.PatchArtifact
	tests    map[string]*domain.SandboxTest
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		findings: make(map[string]*domain.EnrichedFinding),
		patches:  make(map[string]*domain.PatchArtifact),
		tests:    make(map[string]*domain.SandboxTest),
	}
}

func (s *MemoryStore) UpsertFinding(ctx context.Context, f *domain.EnrichedFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := f.CVEID
	if key == "" {
		key = f.ScannerID
	}
	if _, exists := s.findings[key]; !exists {
		s.order = append(s.order, key)
	}
	copied := *f
	s.findings[key] = &copied
	return nil
}

func (s *MemoryStore) FindFindingByCVE(ctx context.Context, cveID string) (*domain.EnrichedFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.findings[cveID]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "store", "finding %s not found", cveID)
	}
	copied := *f
	return &copied, nil
}

func (s *MemoryStore) SavePatch(ctx context.Context, p *domain.PatchArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.patches[p.ID] = &copied
	return nil
}

func (s *MemoryStore) GetPatch(ctx context.Context, patchID string) (*domain.PatchArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patches[patchID]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "store", "patch %s not found", patchID)
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) UpdatePatchStatus(ctx context.Context, patchID string, status domain.PatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patches[patchID]
	if !ok {
		return errors.Newf(errors.CodeNotFound, "store", "patch %s not found", patchID)
	}
	p.Status = status
	return nil
}

func (s *MemoryStore) SaveSandboxTest(ctx context.Context, t *domain.SandboxTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tests[t.ID] = &copied
	return nil
}

func (s *MemoryStore) ListFindings(ctx context.Context) ([]*domain.EnrichedFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.EnrichedFinding, 0, len(s.order))
	for _, key := range s.order {
		copied := *s.findings[key]
		out = append(out, &copied)
	}
	return out, nil
}
