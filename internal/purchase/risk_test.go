package purchase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"concierge/internal/stage"
)

func TestAssessRiskBuckets(t *testing.T) {
	cases := []struct {
		name  string
		in    RiskInputs
		score int
		level stage.RiskLevel
	}{
		{"nothing wrong", RiskInputs{PlatformHealth: 1}, 0, stage.RiskLow},
		{"price spike only", RiskInputs{PriceSpikePct: 0.5, PlatformHealth: 1}, 40, stage.RiskMedium},
		{"out of stock only", RiskInputs{OutOfStock: true, PlatformHealth: 1}, 20, stage.RiskLow},
		{"unhealthy platform", RiskInputs{PlatformHealth: 0.4}, 20, stage.RiskLow},
		{"large budget total", RiskInputs{PlatformHealth: 1, Total: 1000, BudgetLarge: 500}, 20, stage.RiskLow},
		{"duplicate request", RiskInputs{PlatformHealth: 1, DuplicateRequest: true}, 30, stage.RiskLow},
		{
			"spec S3 scenario: spike + large budget + duplicate",
			RiskInputs{PriceSpikePct: 1.2, PlatformHealth: 1, Total: 1000, BudgetLarge: 500, DuplicateRequest: true},
			90, stage.RiskCritical,
		},
		{"exactly medium boundary", RiskInputs{PriceSpikePct: 0.5, OutOfStock: true, PlatformHealth: 1}, 60, stage.RiskMedium},
		{"exactly high boundary", RiskInputs{PriceSpikePct: 0.5, OutOfStock: true, PlatformHealth: 0.4}, 80, stage.RiskHigh},
		{"capped at 100", RiskInputs{PriceSpikePct: 0.5, OutOfStock: true, PlatformHealth: 0.1, Total: 1000, BudgetLarge: 500, DuplicateRequest: true}, 100, stage.RiskCritical},
		{
			"configured critical threshold lowers the critical cutoff",
			RiskInputs{PriceSpikePct: 0.5, OutOfStock: true, PlatformHealth: 0.4, CriticalThreshold: 50},
			80, stage.RiskCritical,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, level := AssessRisk(tc.in)
			assert.Equal(t, tc.score, score)
			assert.Equal(t, tc.level, level)
		})
	}
}
