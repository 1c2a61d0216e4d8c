package ingest

// Priority weights. CVSS dominates, exploit-probability signals follow, fleet
// exposure is a small nudge. Tuned here, documented in DESIGN.md.
const (
	weightCVSS     = 0.35
	weightEPSS     = 0.25
	weightExploit  = 0.20
	weightKEV      = 0.15
	weightExposure = 0.05
)

// PriorityInput is everything the scorer looks at.
type PriorityInput struct {
	CVSSScore        float64 // 0-10
	EPSSScore        float64 // 0-1
	ExploitAvailable bool
	InKEV            bool
	AffectedAssets   int
	FleetSize        int
}

// PriorityScore computes a 0-100 ranking score. Pure and deterministic; used
// for ordering only.
func PriorityScore(in PriorityInput) float64 {
	cvss := clamp01(in.CVSSScore / 10)
	epss := clamp01(in.EPSSScore)

	exploit := 0.0
	if in.ExploitAvailable {
		exploit = 1.0
	}
	kev := 0.0
	if in.InKEV {
		kev = 1.0
	}

	exposure := 0.0
	if in.FleetSize > 0 {
		exposure = clamp01(float64(in.AffectedAssets) / float64(in.FleetSize))
	}

	score := cvss*weightCVSS + epss*weightEPSS + exploit*weightExploit + kev*weightKEV + exposure*weightExposure
	return score * 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
