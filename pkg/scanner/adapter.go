// Package scanner defines the uniform contract for vulnerability scanner
// adapters and the concrete adapters behind it.
package scanner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

// AssetDetails is the opaque asset descriptor a scanner returns.
type AssetDetails map[string]interface{}

// Adapter exposes one scanner's inventory of findings. Implementations must
// be safe to call from multiple goroutines and must serialize their own
// auth-token refresh.
type Adapter interface {
	// Name returns the scanner's display name.
	Name() string
	// Authenticate establishes or refreshes a session. Idempotent.
	Authenticate(ctx context.Context) error
	// FetchFindings returns the scanner's findings, filtered server-side when
	// possible and client-side otherwise. A zero since means no time filter.
	FetchFindings(ctx context.Context, since time.Time, severities []domain.Severity) ([]domain.RawFinding, error)
	// GetAssetDetails looks up a single asset by scanner-local id.
	GetAssetDetails(ctx context.Context, assetID string) (AssetDetails, error)
	// HealthCheck reports whether the scanner API is reachable.
	HealthCheck(ctx context.Context) bool
}

// Config describes one scanner source from the configuration surface.
type Config struct {
	Type      string `yaml:"type"`
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	VerifyTLS *bool  `yaml:"verify_tls"`
	// Seed and Count drive the mock adapter.
	Seed  int64 `yaml:"seed"`
	Count int   `yaml:"count"`
}

// Constructor builds an adapter from its config.
type Constructor func(cfg Config) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register adds a constructor under a type key. Called from init funcs.
func Register(typeKey string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(typeKey)] = ctor
}

// New builds an adapter for the configured type.
func New(cfg Config) (Adapter, error) {
	registryMu.RLock()
	ctor, ok := registry[strings.ToLower(cfg.Type)]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeConfigurationInvalid, "scanner",
			"unknown scanner type %q", cfg.Type)
	}
	return ctor(cfg)
}

// NormalizeSeverity maps scanner-specific severity strings, including numeric
// CVSS-range strings, onto the canonical five-level scale. Unknown inputs map
// to medium.
func NormalizeSeverity(scannerSeverity string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(scannerSeverity)) {
	case "critical", "9.0-10.0":
		return domain.SeverityCritical
	case "high", "7.0-8.9":
		return domain.SeverityHigh
	case "medium", "4.0-6.9":
		return domain.SeverityMedium
	case "low", "0.1-3.9":
		return domain.SeverityLow
	case "info", "informational":
		return domain.SeverityInfo
	default:
		return domain.SeverityMedium
	}
}

// matchesFilters applies the since / severity filters client-side.
func matchesFilters(f domain.RawFinding, since time.Time, severities []domain.Severity) bool {
	if !since.IsZero() && f.DiscoveredAt.Before(since) {
		return false
	}
	if len(severities) > 0 {
		for _, s := range severities {
			if f.Severity == s {
				return true
			}
		}
		return false
	}
	return true
}
