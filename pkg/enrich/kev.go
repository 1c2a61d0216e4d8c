package enrich

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

// ExploitInfo is the answer from the known-exploit catalog.
type ExploitInfo struct {
	Available bool
	Maturity  domain.ExploitMaturity
	InKEV     bool
}

// ExploitCatalog checks a CVE against a known-exploited-vulnerabilities list.
type ExploitCatalog interface {
	Check(ctx context.Context, cveID string) (ExploitInfo, error)
}

// KEVCatalog is an in-memory catalog seeded from a CISA KEV snapshot. An
// unseeded catalog answers "not exploited" for everything, which keeps the
// stub behavior until a feed is wired in.
type KEVCatalog struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// NewKEVCatalog creates an empty catalog.
func NewKEVCatalog() *KEVCatalog {
	return &KEVCatalog{entries: make(map[string]struct{})}
}

// Load replaces the catalog contents with the given CVE ids.
func (k *KEVCatalog) Load(cveIDs []string) {
	entries := make(map[string]struct{}, len(cveIDs))
	for _, id := range cveIDs {
		entries[id] = struct{}{}
	}
	k.mu.Lock()
	k.entries = entries
	k.mu.Unlock()
}

// Len returns the number of catalog entries.
func (k *KEVCatalog) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}

// LoadFeed ingests a CISA KEV catalog JSON document (the format served at
// known_exploited_vulnerabilities.json) and returns the entry count.
func (k *KEVCatalog) LoadFeed(data []byte) (int, error) {
	var feed struct {
		Vulnerabilities []struct {
			CVEID string `json:"cveID"`
		} `json:"vulnerabilities"`
	}
	if err := json.Unmarshal(data, &feed); err != nil {
		return 0, errors.New(errors.CodeFetchFailed, "enrich", "failed to parse KEV feed", err)
	}

	ids := make([]string, 0, len(feed.Vulnerabilities))
	for _, v := range feed.Vulnerabilities {
		if v.CVEID != "" {
			ids = append(ids, v.CVEID)
		}
	}
	k.Load(ids)
	return len(ids), nil
}

// Check reports whether the CVE is in the catalog. A KEV entry implies a
// weaponized exploit in active use.
func (k *KEVCatalog) Check(ctx context.Context, cveID string) (ExploitInfo, error) {
	k.mu.RLock()
	_, listed := k.entries[cveID]
	k.mu.RUnlock()

	if !listed {
		return ExploitInfo{Maturity: domain.ExploitNone}, nil
	}
	return ExploitInfo{
		Available: true,
		Maturity:  domain.ExploitWeaponized,
		InKEV:     true,
	}, nil
}
