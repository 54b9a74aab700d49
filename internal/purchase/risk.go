package purchase

import "concierge/internal/stage"

// DefaultRiskCriticalThreshold is the spec.md §6 RISK_CRITICAL_THRESHOLD
// default: a score strictly above this bucket is "critical".
const DefaultRiskCriticalThreshold = 80

// RiskInputs are the phase-2 risk assessment factors (spec.md §4.8
// phase 2).
type RiskInputs struct {
	PriceSpikePct    float64 // (new - old) / old, as a fraction; e.g. 0.5 == 50%
	OutOfStock       bool
	PlatformHealth   float64 // connector health score in [0,1]
	Total            float64
	BudgetLarge      float64
	DuplicateRequest bool
	// CriticalThreshold overrides DefaultRiskCriticalThreshold (spec.md
	// §6 RISK_CRITICAL_THRESHOLD); zero means "use the default".
	CriticalThreshold int
}

// AssessRisk computes the 0-100 risk score and bucket exactly per
// spec.md §4.8 phase 2.
func AssessRisk(in RiskInputs) (score int, level stage.RiskLevel) {
	if in.PriceSpikePct >= 0.5 {
		score += 40
	}
	if in.OutOfStock {
		score += 20
	}
	if in.PlatformHealth < 0.5 {
		score += 20
	}
	if in.BudgetLarge > 0 && in.Total >= in.BudgetLarge {
		score += 20
	}
	if in.DuplicateRequest {
		score += 30
	}
	if score > 100 {
		score = 100
	}

	critical := in.CriticalThreshold
	if critical <= 0 {
		critical = DefaultRiskCriticalThreshold
	}

	switch {
	case score <= 30:
		level = stage.RiskLow
	case score <= 60:
		level = stage.RiskMedium
	case score <= critical:
		level = stage.RiskHigh
	default:
		level = stage.RiskCritical
	}
	return score, level
}
