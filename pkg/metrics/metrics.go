// Package metrics holds the engine's prometheus instruments. The HTTP
// exposition surface is owned by the serving collaborator; callers register
// Registry with their own handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the engine's metric registry.
var Registry = prometheus.NewRegistry()

var (
	ScanCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_scan_cycles_total",
		Help: "Scan cycles run, by outcome",
	}, []string{"outcome"})

	ScannerFindings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_scanner_findings_total",
		Help: "Raw findings fetched, by scanner",
	}, []string{"scanner"})

	EnrichmentCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remediation_enrichment_cache_hits_total",
		Help: "Enrichment cache hits",
	})

	EnrichmentCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remediation_enrichment_cache_misses_total",
		Help: "Enrichment cache misses",
	})

	EnrichmentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remediation_enrichment_duration_seconds",
		Help:    "Wall-clock duration of a single enrichment lookup",
		Buckets: prometheus.DefBuckets,
	})

	PatchesGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_patches_generated_total",
		Help: "Patch artifacts produced, by status",
	}, []string{"status"})

	SandboxTests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_sandbox_tests_total",
		Help: "Sandbox tests completed, by status",
	}, []string{"status"})

	SandboxTestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remediation_sandbox_test_duration_seconds",
		Help:    "Wall-clock duration of a sandbox test",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	})
)

func init() {
	Registry.MustRegister(
		ScanCycles,
		ScannerFindings,
		EnrichmentCacheHits,
		EnrichmentCacheMisses,
		EnrichmentDuration,
		PatchesGenerated,
		SandboxTests,
		SandboxTestDuration,
	)
}
