package scanner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

func init() {
	Register("mock", func(cfg Config) (Adapter, error) {
		return NewMockAdapter(cfg.Seed, cfg.Count), nil
	})
}

// MockAdapter produces deterministic synthetic findings for tests and local
// runs. The same seed always yields the same findings.
type MockAdapter struct {
	seed  int64
	count int

	mu            sync.Mutex
	authenticated bool
}

// NewMockAdapter creates a mock adapter emitting count findings from seed.
func NewMockAdapter(seed int64, count int) *MockAdapter {
	if count <= 0 {
		count = 10
	}
	return &MockAdapter{seed: seed, count: count}
}

func (m *MockAdapter) Name() string { return "Mock" }

func (m *MockAdapter) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = true
	return nil
}

func (m *MockAdapter) HealthCheck(ctx context.Context) bool {
	return m.Authenticate(ctx) == nil
}

var (
	mockSeverities = []domain.Severity{
		domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow,
	}
	mockPackages = []string{"openssl", "apache2", "nginx", "postgresql", "redis"}
)

func (m *MockAdapter) FetchFindings(ctx context.Context, since time.Time, severities []domain.Severity) ([]domain.RawFinding, error) {
	if err := m.Authenticate(ctx); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(m.seed))
	now := time.Now().UTC()

	findings := make([]domain.RawFinding, 0, m.count)
	for i := 0; i < m.count; i++ {
		severity := mockSeverities[rng.Intn(len(mockSeverities))]
		pkg := mockPackages[rng.Intn(len(mockPackages))]
		discovered := now.AddDate(0, 0, -(rng.Intn(30) + 1))
		assetCount := rng.Intn(5) + 1
		assets := make([]string, assetCount)
		for j := range assets {
			assets[j] = fmt.Sprintf("mock-asset-%d", j)
		}

		f := domain.RawFinding{
			ScannerID:         fmt.Sprintf("mock-%d", i),
			ScannerName:       m.Name(),
			CVEID:             fmt.Sprintf("CVE-2024-%d", 1000+i),
			Title:             fmt.Sprintf("Mock %s vulnerability in %s", severity, pkg),
			Description:       fmt.Sprintf("This is a mock %s vulnerability for testing", severity),
			Severity:          severity,
			CVSSScore:         mockCVSSFor(severity, rng),
			HasCVSS:           true,
			CVSSVector:        "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H",
			AffectedPackage:   pkg,
			VulnerableVersion: "1.0.0",
			FixedVersion:      "1.0.1",
			AffectedAssets:    assets,
			DiscoveredAt:      discovered,
			RawData:           map[string]interface{}{"mock": true, "index": i},
		}

		if !matchesFilters(f, since, severities) {
			continue
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func (m *MockAdapter) GetAssetDetails(ctx context.Context, assetID string) (AssetDetails, error) {
	return AssetDetails{
		"id":   assetID,
		"name": fmt.Sprintf("Mock Asset %s", assetID),
		"type": "server",
		"os":   "ubuntu",
		"os_version": "22.04",
	}, nil
}

func mockCVSSFor(severity domain.Severity, rng *rand.Rand) float64 {
	var lo, hi float64
	switch severity {
	case domain.SeverityCritical:
		lo, hi = 9.0, 10.0
	case domain.SeverityHigh:
		lo, hi = 7.0, 8.9
	case domain.SeverityMedium:
		lo, hi = 4.0, 6.9
	case domain.SeverityLow:
		lo, hi = 0.1, 3.9
	default:
		lo, hi = 5.0, 5.0
	}
	score := lo + rng.Float64()*(hi-lo)
	return float64(int(score*10)) / 10
}
