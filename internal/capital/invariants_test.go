package capital

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func violationChecks(violations []Violation) []string {
	names := make([]string, 0, len(violations))
	for _, v := range violations {
		names = append(names, v.Check)
	}
	return names
}

func TestAssertCapitalInvariants_CleanState(t *testing.T) {
	m, _ := warmedManager(10000)
	assert.Empty(t, m.AssertCapitalInvariants())
}

func TestAssertCapitalInvariants_DetectsBypassedCapacityCheck(t *testing.T) {
	m, now := warmedManager(10000)

	// Booked without going through CheckCapitalAvailability: 45% deployed
	// against a 40% cap and an 8% pool cap.
	m.RecordDeployment("pool-1", decimal.NewFromFloat(4500), now)

	checks := violationChecks(m.AssertCapitalInvariants())
	assert.Contains(t, checks, "deployed_exceeds_cap")
	assert.Contains(t, checks, "pool_cap_exceeded")
	assert.NotContains(t, checks, "reserve_breached")
}

func TestAssertCapitalInvariants_DetectsReserveBreach(t *testing.T) {
	m, now := warmedManager(10000)

	m.RecordDeployment("pool-1", decimal.NewFromFloat(7000), now)

	checks := violationChecks(m.AssertCapitalInvariants())
	assert.Contains(t, checks, "reserve_breached")
	assert.Contains(t, checks, "deployed_exceeds_cap")
}

func TestAssertCapitalInvariants_ToleratesBoundaryRounding(t *testing.T) {
	m, now := warmedManager(10000)

	// Exactly at the cap: 40% of $10k. Within the +0.01 tolerance.
	for i, usd := range []float64{600, 600, 600, 600, 600, 600, 400} {
		m.RecordDeployment(poolName(i), decimal.NewFromFloat(usd), now)
	}

	assert.InDelta(t, 0.40, m.Snapshot().DeployedPct, 1e-9)
	assert.Empty(t, m.AssertCapitalInvariants())
}

func poolName(i int) string {
	return string(rune('a'+i)) + "-pool"
}
