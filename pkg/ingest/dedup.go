// Package ingest collapses and ranks the findings produced by the scanner
// adapters before they are handed to enrichment and persistence.
package ingest

import (
	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/logger"
)

// Deduplicator collapses duplicate findings reported by multiple scanners or
// multiple scans of the same scanner. Output preserves first-seen order.
//
// The merge is associative but not commutative: the "existing preferred"
// tie-breaker fields (description, fixed version, CVSS vector) depend on
// scanner ordering, while the safety-critical fields (CVSS score, severity,
// asset set) do not.
type Deduplicator struct {
	logger zerolog.Logger
}

// NewDeduplicator creates a deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{logger: logger.Component("deduplicator")}
}

// Dedup merges duplicates keyed by (cve id, affected package). Findings with
// neither a CVE nor a package share the degenerate "no-cve:no-package" key and
// collapse together; that behavior is kept as-is.
func (d *Deduplicator) Dedup(findings []domain.RawFinding) []domain.RawFinding {
	order := make([]string, 0, len(findings))
	seen := make(map[string]domain.RawFinding, len(findings))

	for _, f := range findings {
		key := dedupKey(f)
		existing, ok := seen[key]
		if !ok {
			order = append(order, key)
			seen[key] = f
			continue
		}
		seen[key] = merge(existing, f)
		d.logger.Info().
			Str("cve_id", f.CVEID).
			Str("scanner", f.ScannerName).
			Msg("finding deduplicated")
	}

	out := make([]domain.RawFinding, 0, len(order))
	for _, key := range order {
		out = append(out, seen[key])
	}
	return out
}

func dedupKey(f domain.RawFinding) string {
	cve := f.CVEID
	if cve == "" {
		cve = "no-cve"
	}
	pkg := f.AffectedPackage
	if pkg == "" {
		pkg = "no-package"
	}
	return cve + ":" + pkg
}

// merge combines an existing finding with a newly seen duplicate.
//   - asset sets: union
//   - CVSS: max when both present, else whichever is present
//   - severity: higher on the canonical order
//   - discovery time: most recent
//   - description / fixed version / vector: existing preferred
//   - scanner names: concatenated; raw data extended under the new scanner's key
func merge(existing, incoming domain.RawFinding) domain.RawFinding {
	merged := existing

	merged.AffectedAssets = unionAssets(existing.AffectedAssets, incoming.AffectedAssets)

	switch {
	case existing.HasCVSS && incoming.HasCVSS:
		if incoming.CVSSScore > existing.CVSSScore {
			merged.CVSSScore = incoming.CVSSScore
		}
	case incoming.HasCVSS:
		merged.CVSSScore = incoming.CVSSScore
		merged.HasCVSS = true
	}

	merged.Severity = domain.HigherSeverity(existing.Severity, incoming.Severity)

	if incoming.DiscoveredAt.After(existing.DiscoveredAt) {
		merged.DiscoveredAt = incoming.DiscoveredAt
	}

	if merged.CVEID == "" {
		merged.CVEID = incoming.CVEID
	}
	if merged.Description == "" {
		merged.Description = incoming.Description
	}
	if merged.FixedVersion == "" {
		merged.FixedVersion = incoming.FixedVersion
	}
	if merged.CVSSVector == "" {
		merged.CVSSVector = incoming.CVSSVector
	}

	merged.ScannerName = existing.ScannerName + "," + incoming.ScannerName

	raw := make(map[string]interface{}, len(existing.RawData)+2)
	for k, v := range existing.RawData {
		raw[k] = v
	}
	raw["merged_scanners"] = []string{existing.ScannerName, incoming.ScannerName}
	raw[incoming.ScannerName] = incoming.RawData
	merged.RawData = raw

	return merged
}

func unionAssets(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, asset := range list {
			if _, ok := seen[asset]; ok {
				continue
			}
			seen[asset] = struct{}{}
			out = append(out, asset)
		}
	}
	return out
}
