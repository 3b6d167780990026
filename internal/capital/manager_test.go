package capital

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp_sentinel/internal/core"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(equity float64) *Manager {
	return NewManager(DefaultParams(), decimal.NewFromFloat(equity), &mockLogger{}, testStart)
}

// warmedManager returns a manager whose cold-start warmup has completed,
// along with the time at which it completed.
func warmedManager(equity float64) (*Manager, time.Time) {
	m := newTestManager(equity)
	done := testStart.Add(15 * time.Minute)
	m.UpdateEquity(decimal.NewFromFloat(equity), done)
	return m, done
}

func TestNewManager_ColdStartWarmup(t *testing.T) {
	m := newTestManager(10000)

	s := m.Snapshot()
	assert.True(t, s.IsInWarmup)
	assert.InDelta(t, 0.0, s.WarmupProgress, 1e-9)
	assert.InDelta(t, 0.15, s.DynamicDeployCapPct, 1e-9)
	assert.Equal(t, core.RegimeNeutral, s.Regime)
}

func TestWarmupRamp_ReachesBaseCapAfterFifteenMinutes(t *testing.T) {
	m := newTestManager(10000)
	equity := decimal.NewFromFloat(10000)

	m.UpdateEquity(equity, testStart.Add(7*time.Minute+30*time.Second))
	s := m.Snapshot()
	assert.True(t, s.IsInWarmup)
	assert.InDelta(t, 0.5, s.WarmupProgress, 1e-9)
	assert.InDelta(t, 0.275, s.DynamicDeployCapPct, 1e-9)

	m.UpdateEquity(equity, testStart.Add(15*time.Minute))
	s = m.Snapshot()
	assert.False(t, s.IsInWarmup)
	assert.InDelta(t, 0.40, s.DynamicDeployCapPct, 1e-9)
}

func TestCooldown_OverridesEverything(t *testing.T) {
	m, now := warmedManager(10000)

	m.SetCooldownState(true, now.Add(time.Hour), now)
	assert.InDelta(t, 0.25, m.Snapshot().DynamicDeployCapPct, 1e-9)

	// Even a full unlock cannot raise the cap while cooling down.
	m.UpdateConfidence(0.95, true, now.Add(time.Minute))
	s := m.Snapshot()
	assert.True(t, s.IsInCooldown)
	assert.InDelta(t, 0.25, s.DynamicDeployCapPct, 1e-9)
}

func TestCooldownExpiry_StartsPostCooldownWarmup(t *testing.T) {
	m, now := warmedManager(10000)
	equity := decimal.NewFromFloat(10000)

	m.SetCooldownState(true, now.Add(30*time.Second), now)

	// First recalc past the end time exits cooldown and starts the
	// shorter post-cooldown ramp.
	resumed := now.Add(time.Minute)
	m.UpdateEquity(equity, resumed)
	s := m.Snapshot()
	assert.False(t, s.IsInCooldown)
	assert.True(t, s.IsInWarmup)
	assert.True(t, s.PostCooldownWarmup)
	assert.InDelta(t, 0.15, s.DynamicDeployCapPct, 1e-9)

	m.UpdateEquity(equity, resumed.Add(5*time.Minute))
	assert.InDelta(t, 0.275, m.Snapshot().DynamicDeployCapPct, 1e-9)

	m.UpdateEquity(equity, resumed.Add(10*time.Minute))
	s = m.Snapshot()
	assert.False(t, s.IsInWarmup)
	assert.InDelta(t, 0.40, s.DynamicDeployCapPct, 1e-9)
}

func TestConfidenceUnlock_RaisesCap(t *testing.T) {
	m, now := warmedManager(10000)

	m.UpdateConfidence(0.8, true, now)
	assert.InDelta(t, 0.60, m.Snapshot().DynamicDeployCapPct, 1e-9)
}

func TestLowConfidence_StressDownshift(t *testing.T) {
	m, now := warmedManager(10000)

	m.UpdateConfidence(0.2, false, now)
	assert.InDelta(t, 0.25, m.Snapshot().DynamicDeployCapPct, 1e-9)

	m.UpdateConfidence(0.5, false, now)
	assert.InDelta(t, 0.40, m.Snapshot().DynamicDeployCapPct, 1e-9)
}

func TestBearRegime_CapsAtBaseAndTightensPoolCap(t *testing.T) {
	m, now := warmedManager(10000)

	m.UpdateConfidence(0.8, true, now)
	require.InDelta(t, 0.60, m.Snapshot().DynamicDeployCapPct, 1e-9)

	m.UpdateRegime(core.RegimeBear, now)
	s := m.Snapshot()
	assert.InDelta(t, 0.40, s.DynamicDeployCapPct, 1e-9)
	assert.InDelta(t, 0.05, s.PerPoolMaxPct, 1e-9)

	m.UpdateRegime(core.RegimeNeutral, now)
	s = m.Snapshot()
	assert.InDelta(t, 0.60, s.DynamicDeployCapPct, 1e-9)
	assert.InDelta(t, 0.08, s.PerPoolMaxPct, 1e-9)
}

func TestUpdateRegime_IgnoresInvalidValue(t *testing.T) {
	m, now := warmedManager(10000)

	m.UpdateRegime(core.Regime("SIDEWAYS"), now)
	assert.Equal(t, core.RegimeNeutral, m.Snapshot().Regime)
}

func TestDeployCap_NeverExceedsReserveComplement(t *testing.T) {
	params := DefaultParams()
	params.MaxDeployCapPct = 0.80 // misconfigured above the reserve limit
	m := NewManager(params, decimal.NewFromFloat(10000), &mockLogger{}, testStart)
	now := testStart.Add(15 * time.Minute)

	m.UpdateConfidence(0.9, true, now)
	for _, regime := range []core.Regime{core.RegimeBull, core.RegimeNeutral} {
		m.UpdateRegime(regime, now)
		assert.LessOrEqual(t, m.Snapshot().DynamicDeployCapPct, 0.65+1e-9,
			"regime %s must respect the reserve complement", regime)
	}
}

func TestCheckCapitalAvailability_ApprovesWithinAllLimits(t *testing.T) {
	m, now := warmedManager(10000)

	res := m.CheckCapitalAvailability("pool-1", decimal.NewFromFloat(500), now)

	require.True(t, res.Approved)
	assert.InDelta(t, 500, res.AdjustedSizeUSD.InexactFloat64(), 1e-9)
	assert.Empty(t, res.LimitingConstraint)
	assert.Equal(t, "approved", res.Reason)
}

func TestCheckCapitalAvailability_ClampsToMaxSinglePosition(t *testing.T) {
	m, now := warmedManager(10000)

	res := m.CheckCapitalAvailability("pool-1", decimal.NewFromFloat(2000), now)

	require.True(t, res.Approved)
	assert.InDelta(t, 600, res.AdjustedSizeUSD.InexactFloat64(), 1e-9)
	assert.Equal(t, "max_single_position", res.LimitingConstraint)
	assert.Contains(t, res.Reason, "clamped")
}

func TestCheckCapitalAvailability_PoolCapLeavesTooLittle(t *testing.T) {
	m, now := warmedManager(10000)

	m.RecordDeployment("pool-1", decimal.NewFromFloat(500), now)

	// Pool cap is 8% of $10k = $800; $300 of room is below the minimum.
	res := m.CheckCapitalAvailability("pool-1", decimal.NewFromFloat(600), now)

	require.False(t, res.Approved)
	assert.Equal(t, "pool_cap", res.LimitingConstraint)
	assert.Contains(t, res.Reason, "below minimum")
}

func TestCheckCapitalAvailability_RejectsSmallRequest(t *testing.T) {
	m, now := warmedManager(10000)

	res := m.CheckCapitalAvailability("pool-1", decimal.NewFromFloat(300), now)

	require.False(t, res.Approved)
	assert.Empty(t, res.LimitingConstraint)
	assert.Contains(t, res.Reason, "below minimum")
}

func TestCheckCapitalAvailability_RejectsDuringCooldown(t *testing.T) {
	m, now := warmedManager(10000)
	m.SetCooldownState(true, now.Add(time.Hour), now)

	res := m.CheckCapitalAvailability("pool-1", decimal.NewFromFloat(500), now)

	require.False(t, res.Approved)
	assert.Equal(t, "cooldown", res.LimitingConstraint)
	assert.Contains(t, res.Reason, "cooldown")
}

// Drives the full deployment sequence through the availability check and
// asserts the capacity invariants hold after every booking.
func TestDeploymentSequence_InvariantsHoldThroughout(t *testing.T) {
	m, now := warmedManager(10000)

	deployed := 0.0
	for i := 0; i < 6; i++ {
		pool := fmt.Sprintf("pool-%d", i)
		res := m.CheckCapitalAvailability(pool, decimal.NewFromFloat(800), now)
		require.True(t, res.Approved, "pool %s should fit", pool)
		assert.InDelta(t, 600, res.AdjustedSizeUSD.InexactFloat64(), 1e-9)

		m.RecordDeployment(pool, res.AdjustedSizeUSD, now)
		deployed += 600
		assert.Empty(t, m.AssertCapitalInvariants(), "after deploying $%.0f", deployed)
	}

	// $3,600 deployed against a $4,000 capacity: the next request clamps
	// to the remaining total capacity, still above the minimum.
	res := m.CheckCapitalAvailability("pool-6", decimal.NewFromFloat(500), now)
	require.True(t, res.Approved)
	assert.InDelta(t, 400, res.AdjustedSizeUSD.InexactFloat64(), 1e-9)
	assert.Equal(t, "total_capacity", res.LimitingConstraint)
	m.RecordDeployment("pool-6", res.AdjustedSizeUSD, now)
	assert.Empty(t, m.AssertCapitalInvariants())

	// Capacity exhausted.
	res = m.CheckCapitalAvailability("pool-7", decimal.NewFromFloat(500), now)
	require.False(t, res.Approved)
	assert.Equal(t, "total_capacity", res.LimitingConstraint)
}

func TestRecordExit_ReleasesCommittedCapital(t *testing.T) {
	m, now := warmedManager(10000)

	m.RecordDeployment("pool-1", decimal.NewFromFloat(600), now)
	m.RecordExit("pool-1", decimal.NewFromFloat(250), now)

	assert.InDelta(t, 350, m.PoolDeployment("pool-1").InexactFloat64(), 1e-9)
	assert.InDelta(t, 350, m.Snapshot().TotalDeployedUSD.InexactFloat64(), 1e-9)

	// Over-release clamps to the committed amount and drops the entry.
	m.RecordExit("pool-1", decimal.NewFromFloat(900), now)
	assert.True(t, m.PoolDeployment("pool-1").IsZero())
	assert.True(t, m.Snapshot().TotalDeployedUSD.IsZero())
	assert.Empty(t, m.PoolDeployments())
}

func TestRecordExit_UnknownPoolIsNoOp(t *testing.T) {
	m, now := warmedManager(10000)

	m.RecordExit("ghost", decimal.NewFromFloat(100), now)
	assert.True(t, m.Snapshot().TotalDeployedUSD.IsZero())
}

func TestReset_RestartsFromSeed(t *testing.T) {
	m, now := warmedManager(10000)
	m.RecordDeployment("pool-1", decimal.NewFromFloat(600), now)

	m.Reset(decimal.NewFromFloat(5000), now)

	s := m.Snapshot()
	assert.True(t, s.TotalDeployedUSD.IsZero())
	assert.InDelta(t, 5000, s.EquityUSD.InexactFloat64(), 1e-9)
	assert.True(t, s.IsInWarmup)
	assert.Empty(t, m.PoolDeployments())
}
