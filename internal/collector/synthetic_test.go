package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp_sentinel/internal/core"
)

func collectN(t *testing.T, s *Synthetic, n int) []core.CycleTelemetry {
	t.Helper()
	out := make([]core.CycleTelemetry, 0, n)
	for i := 0; i < n; i++ {
		telemetry, err := s.Collect(context.Background())
		require.NoError(t, err)
		out = append(out, telemetry)
	}
	return out
}

func TestSynthetic_SameSeedReplaysIdentically(t *testing.T) {
	a := NewSynthetic(DefaultSyntheticParams())
	b := NewSynthetic(DefaultSyntheticParams())

	cyclesA := collectN(t, a, 10)
	cyclesB := collectN(t, b, 10)

	for i := range cyclesA {
		require.Equal(t, cyclesA[i], cyclesB[i], "cycle %d diverged between replays", i)
	}
}

func TestSynthetic_DifferentSeedsDiverge(t *testing.T) {
	params := DefaultSyntheticParams()
	a := NewSynthetic(params)

	params.Seed = 7
	b := NewSynthetic(params)

	cycleA := collectN(t, a, 1)[0]
	cycleB := collectN(t, b, 1)[0]
	assert.NotEqual(t, cycleA.Pools[0].State, cycleB.Pools[0].State)
}

func TestSynthetic_PhaseScript(t *testing.T) {
	s := NewSynthetic(DefaultSyntheticParams())

	// 6 steady, 8 buildup, 4 reversal, 4 chaos, then the script loops.
	wantPhases := []string{}
	for i := 0; i < 6; i++ {
		wantPhases = append(wantPhases, PhaseSteady)
	}
	for i := 0; i < 8; i++ {
		wantPhases = append(wantPhases, PhaseBuildup)
	}
	for i := 0; i < 4; i++ {
		wantPhases = append(wantPhases, PhaseReversal)
	}
	for i := 0; i < 4; i++ {
		wantPhases = append(wantPhases, PhaseChaos)
	}
	wantPhases = append(wantPhases, PhaseSteady)

	for i, want := range wantPhases {
		assert.Equal(t, want, s.CurrentPhase(), "cycle %d", i)
		_, err := s.Collect(context.Background())
		require.NoError(t, err)
	}
}

func TestSynthetic_BuildupRampsInflow(t *testing.T) {
	s := NewSynthetic(DefaultSyntheticParams())

	collectN(t, s, 6) // play out the steady phase
	buildup := collectN(t, s, 8)

	first := buildup[0].Market.AvgFlow
	last := buildup[7].Market.AvgFlow
	assert.Greater(t, last, first, "inflow should build across the phase")
	assert.GreaterOrEqual(t, last, 0.75, "late buildup is a strong inward migration")

	for _, telemetry := range buildup {
		assert.Equal(t, 1.0, telemetry.Market.AliveRatio)
		assert.Zero(t, telemetry.RPCErrors)
	}
}

func TestSynthetic_ChaosTripsAllGateSignals(t *testing.T) {
	s := NewSynthetic(DefaultSyntheticParams())

	collectN(t, s, 18) // steady + buildup + reversal
	require.Equal(t, PhaseChaos, s.CurrentPhase())

	chaos := collectN(t, s, 1)[0]
	assert.Less(t, chaos.Market.MarketHealth, 20.0)
	assert.Greater(t, chaos.Market.AvgEntropy, 0.85)
	assert.Less(t, chaos.Market.AliveRatio, 0.15)
	assert.Equal(t, 1, chaos.Market.PoolsAlive)
	assert.Equal(t, 7, chaos.RPCErrors)
}

func TestSynthetic_SignalsStayNormalized(t *testing.T) {
	s := NewSynthetic(DefaultSyntheticParams())

	for _, telemetry := range collectN(t, s, 22) {
		for _, pool := range telemetry.Pools {
			state := pool.State
			for name, v := range map[string]float64{
				"entropy":              state.Entropy,
				"liquidity_flow":       state.LiquidityFlow,
				"migration_confidence": state.MigrationConfidence,
				"consistency":          state.Consistency,
				"velocity":             state.Velocity,
				"health_score":         pool.HealthScore,
			} {
				assert.GreaterOrEqual(t, v, 0.0, "%s for %s", name, pool.PoolID)
				assert.LessOrEqual(t, v, 1.0, "%s for %s", name, pool.PoolID)
			}
		}
	}
}

func TestSynthetic_TimestampsAdvancePerCycle(t *testing.T) {
	s := NewSynthetic(DefaultSyntheticParams())

	cycles := collectN(t, s, 3)
	for i := 1; i < len(cycles); i++ {
		prev := cycles[i-1].Pools[0].ObservedAt
		curr := cycles[i].Pools[0].ObservedAt
		assert.Equal(t, syntheticTickInterval, curr.Sub(prev))
	}
}

func TestSynthetic_CancelledContext(t *testing.T) {
	s := NewSynthetic(DefaultSyntheticParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Collect(ctx)
	assert.Error(t, err)
}
