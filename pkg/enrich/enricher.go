package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/metrics"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
)

const (
	// DefaultCacheTTL matches the daily refresh cadence of both NVD and EPSS.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultConcurrency bounds parallel enrichment jobs in a batch.
	DefaultConcurrency = 5
)

// Options tunes an Enricher.
type Options struct {
	CacheTTL    time.Duration
	Concurrency int
}

// Enricher augments findings with NVD, EPSS and exploit-catalog data. Failures
// degrade gracefully: a finding is always returned, possibly unenriched.
type Enricher struct {
	nvd      *NVDClient
	epss     *EPSSClient
	catalog  ExploitCatalog
	cache    *enrichmentCache
	bulkhead *resilience.Bulkhead
	logger   zerolog.Logger
}

// NewEnricher creates an enricher around the given clients.
func NewEnricher(nvd *NVDClient, epss *EPSSClient, catalog ExploitCatalog, opts Options) *Enricher {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Enricher{
		nvd:      nvd,
		epss:     epss,
		catalog:  catalog,
		cache:    newEnrichmentCache(opts.CacheTTL),
		bulkhead: resilience.GetBulkhead("enrichment", opts.Concurrency, 0),
		logger:   logger.Component("enricher"),
	}
}

// Enrich augments one finding. Findings without a well-formed CVE id pass
// through unenriched. NVD and EPSS are queried concurrently and either may
// fail without aborting the other.
func (e *Enricher) Enrich(ctx context.Context, f domain.RawFinding) domain.EnrichedFinding {
	enriched := domain.EnrichedFinding{RawFinding: f, ExploitMaturity: domain.ExploitNone}

	if !domain.ValidCVEID(f.CVEID) {
		e.logger.Debug().Str("cve_id", f.CVEID).Msg("skipping enrichment for non-CVE finding")
		return enriched
	}

	if data, ok := e.cache.get(f.CVEID); ok {
		metrics.EnrichmentCacheHits.Inc()
		data.apply(&enriched)
		return enriched
	}
	metrics.EnrichmentCacheMisses.Inc()

	start := time.Now()
	data := e.lookup(ctx, f.CVEID)
	metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())

	e.cache.set(f.CVEID, data)
	data.apply(&enriched)

	e.logger.Info().
		Str("cve_id", f.CVEID).
		Bool("nvd", data.NVD != nil).
		Bool("epss", data.EPSS != nil).
		Bool("in_kev", data.Exploit.InKEV).
		Msg("finding enriched")
	return enriched
}

// lookup queries NVD and EPSS concurrently and the exploit catalog afterwards.
func (e *Enricher) lookup(ctx context.Context, cveID string) overlay {
	var data overlay
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		record, err := e.nvd.GetCVE(ctx, cveID)
		if err != nil {
			e.logger.Warn().Err(err).Str("cve_id", cveID).Msg("NVD lookup failed, continuing without it")
			return
		}
		data.NVD = record
	}()
	go func() {
		defer wg.Done()
		score, err := e.epss.GetScore(ctx, cveID)
		if err != nil {
			e.logger.Warn().Err(err).Str("cve_id", cveID).Msg("EPSS lookup failed, continuing without it")
			return
		}
		data.EPSS = score
	}()
	wg.Wait()

	if e.catalog != nil {
		info, err := e.catalog.Check(ctx, cveID)
		if err != nil {
			e.logger.Warn().Err(err).Str("cve_id", cveID).Msg("exploit catalog check failed")
		} else {
			data.Exploit = info
		}
	}
	return data
}

// EnrichBatch enriches a batch under the enrichment bulkhead. Order matches
// the input. A bulkhead rejection or cancellation leaves the finding
// unenriched rather than dropping it.
func (e *Enricher) EnrichBatch(ctx context.Context, findings []domain.RawFinding) []domain.EnrichedFinding {
	out := make([]domain.EnrichedFinding, len(findings))
	var wg sync.WaitGroup

	for i := range findings {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := e.bulkhead.Execute(ctx, func(ctx context.Context) error {
				out[i] = e.Enrich(ctx, findings[i])
				return nil
			})
			if err != nil {
				e.logger.Warn().Err(err).Str("cve_id", findings[i].CVEID).Msg("enrichment skipped")
				out[i] = domain.EnrichedFinding{RawFinding: findings[i], ExploitMaturity: domain.ExploitNone}
			}
		}(i)
	}
	wg.Wait()
	return out
}
