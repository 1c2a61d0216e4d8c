package enrich

import (
	"sync"
	"time"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

// overlay is the per-CVE enrichment data shared by every finding that carries
// the same CVE id.
type overlay struct {
	NVD     *CVERecord
	EPSS    *EPSSScore
	Exploit ExploitInfo
}

// apply copies the overlay onto a finding, letting authoritative CVSS data
// override adapter-supplied values.
func (o overlay) apply(f *domain.EnrichedFinding) {
	if o.NVD != nil {
		if o.NVD.HasCVSS {
			f.CVSSScore = o.NVD.CVSSScore
			f.HasCVSS = true
			f.CVSSVector = o.NVD.CVSSVector
		}
		if f.Description == "" {
			f.Description = o.NVD.Description
		}
		f.CWEIDs = o.NVD.CWEIDs
		f.References = o.NVD.References
		f.PublishedAt = o.NVD.PublishedAt
		f.LastModifiedAt = o.NVD.LastModifiedAt
	}
	if o.EPSS != nil {
		f.EPSSScore = o.EPSS.Score
		f.EPSSPercentile = o.EPSS.Percentile
	}
	f.ExploitAvailable = o.Exploit.Available
	f.ExploitMaturity = o.Exploit.Maturity
	if f.ExploitMaturity == "" {
		f.ExploitMaturity = domain.ExploitNone
	}
	f.InKEV = o.Exploit.InKEV
	f.Enriched = true
}

// enrichmentCache is the process-wide CVE-keyed cache of enrichment overlays.
// Concurrent reads, exclusive writes.
type enrichmentCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      overlay
	expiresAt time.Time
}

func newEnrichmentCache(ttl time.Duration) *enrichmentCache {
	return &enrichmentCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *enrichmentCache) get(cveID string) (overlay, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cveID]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return overlay{}, false
	}
	return entry.data, true
}

func (c *enrichmentCache) set(cveID string, data overlay) {
	c.mu.Lock()
	c.entries[cveID] = cacheEntry{data: data, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
