package validation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp_sentinel/internal/core"
	"lp_sentinel/internal/reversal"
	"lp_sentinel/internal/sizing"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	pipeline   *Pipeline
	gate       *stubGate
	guard      *reversal.Guard
	execScore  *stubScore
	congestion *stubScore
}

func newFixture(gateBlocked bool, execScore, congestionScore float64) *fixture {
	f := &fixture{
		gate:       &stubGate{blocked: gateBlocked, reason: "market-wide chaos"},
		guard:      reversal.NewGuard(reversal.DefaultParams(), &mockLogger{}),
		execScore:  &stubScore{score: execScore},
		congestion: &stubScore{score: congestionScore},
	}
	f.pipeline = NewPipeline(
		DefaultParams(),
		f.gate,
		f.guard,
		f.execScore,
		f.congestion,
		sizing.NewEngine(sizing.DefaultParams()),
		&mockLogger{},
	)
	return f
}

// strongState passes the reversal guard (inflow) and the sizing engine with
// a confident blend.
func strongState() core.TradingState {
	return core.TradingState{
		Entropy:             0.80,
		LiquidityFlow:       0.90,
		MigrationConfidence: 0.90,
		Consistency:         0.80,
		Velocity:            0.70,
		ExecutionQuality:    1,
	}
}

// seedInflow records n inflow ticks so the next DetectReversal call sees a
// sustained run. Returns the time of the next tick.
func seedInflow(g *reversal.Guard, poolID string, state core.TradingState, n int) time.Time {
	now := testStart
	for i := 0; i < n; i++ {
		g.RecordTick(poolID, state, now)
		now = now.Add(10 * time.Second)
	}
	return now
}

func strongRegimeMultiplier() float64 {
	// Blend of strongState under the published sizing weights.
	r := 0.35*0.90 + 0.25*0.90 + 0.15*0.80 + 0.15*0.80 + 0.10*0.70
	return math.Pow(r, 1.5)
}

func TestValidate_AllChecksPass(t *testing.T) {
	f := newFixture(false, 0.90, 0.20)
	state := strongState()
	now := seedInflow(f.guard, "pool-1", state, 2)

	res := f.pipeline.Validate("pool-1", state, now)

	require.True(t, res.CanEnter)
	assert.False(t, res.Blocked)
	assert.InDelta(t, 1.0, res.ExecutionMultiplier, 1e-9)
	assert.InDelta(t, 1.0, res.CongestionMultiplier, 1e-9)
	assert.InDelta(t, strongRegimeMultiplier(), res.RegimeMultiplier, 1e-9)
	assert.InDelta(t, strongRegimeMultiplier(), res.FinalMultiplier, 1e-9)
	assert.Len(t, res.Checks, 6)
	for _, check := range res.Checks {
		assert.True(t, check.Passed, "check %s", check.Name)
	}
}

func TestValidate_NoTradeGateShortCircuits(t *testing.T) {
	f := newFixture(true, 0.90, 0.20)

	res := f.pipeline.Validate("pool-1", strongState(), testStart)

	require.True(t, res.Blocked)
	assert.False(t, res.CanEnter)
	assert.Equal(t, "market-wide chaos", res.Reason)
	assert.Len(t, res.Checks, 1)
	assert.Equal(t, checkNoTrade, res.Checks[0].Name)

	// Early exit: no tick was recorded and no later stage was consulted.
	assert.Equal(t, 0, f.guard.HistoryLength("pool-1"))
	assert.Equal(t, 0, f.execScore.calls)
	assert.Equal(t, 0, f.congestion.calls)
}

func TestValidate_ReversalBlockCarriesCooldown(t *testing.T) {
	f := newFixture(false, 0.90, 0.20)
	state := strongState()

	// Five outflow ticks then two inflow ticks: the validated tick below
	// completes an in-dominant recent window against an out-dominant
	// history.
	now := testStart
	outState := state
	outState.LiquidityFlow = 0.20
	for i := 0; i < 5; i++ {
		f.guard.RecordTick("pool-1", outState, now)
		now = now.Add(10 * time.Second)
	}
	for i := 0; i < 2; i++ {
		f.guard.RecordTick("pool-1", state, now)
		now = now.Add(10 * time.Second)
	}

	res := f.pipeline.Validate("pool-1", state, now)

	require.True(t, res.Blocked)
	assert.Equal(t, 60, res.CooldownSeconds)
	assert.Equal(t, checkReversal, res.Checks[len(res.Checks)-1].Name)
	assert.Equal(t, 0, f.execScore.calls)
	assert.Equal(t, 0, f.congestion.calls)
}

func TestValidate_LowExecutionQualityBlocks(t *testing.T) {
	f := newFixture(false, 0.30, 0.20)
	state := strongState()
	now := seedInflow(f.guard, "pool-1", state, 2)

	res := f.pipeline.Validate("pool-1", state, now)

	require.True(t, res.Blocked)
	assert.Contains(t, res.Reason, "execution quality")
	assert.Equal(t, 0, f.congestion.calls)
}

func TestValidate_ExecutionQualityMultiplier(t *testing.T) {
	cases := []struct {
		quality string
		score   float64
		want    float64
	}{
		{"at block threshold", 0.35, 0.40},
		{"low", 0.49, 0.40},
		{"lower bound of ramp", 0.50, 0.40},
		{"mid ramp", 0.65, 0.70},
		{"full", 0.80, 1.0},
		{"above full", 0.95, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.quality, func(t *testing.T) {
			f := newFixture(false, tc.score, 0.20)
			state := strongState()
			now := seedInflow(f.guard, "pool-1", state, 2)

			res := f.pipeline.Validate("pool-1", state, now)

			require.True(t, res.CanEnter, "quality %.2f should pass", tc.score)
			assert.InDelta(t, tc.want, res.ExecutionMultiplier, 1e-9)
		})
	}
}

func TestValidate_HighCongestionBlocks(t *testing.T) {
	f := newFixture(false, 0.90, 0.85)
	state := strongState()
	now := seedInflow(f.guard, "pool-1", state, 2)

	res := f.pipeline.Validate("pool-1", state, now)

	require.True(t, res.Blocked)
	assert.Contains(t, res.Reason, "congestion")
}

func TestValidate_CongestionMultiplier(t *testing.T) {
	cases := []struct {
		name  string
		score float64
		want  float64
	}{
		{"clear", 0.20, 1.0},
		{"just below ramp", 0.59, 1.0},
		{"ramp start", 0.60, 1.0},
		{"mid ramp", 0.65, 0.75},
		{"high", 0.70, 0.50},
		{"near block", 0.84, 0.50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(false, 0.90, tc.score)
			state := strongState()
			now := seedInflow(f.guard, "pool-1", state, 2)

			res := f.pipeline.Validate("pool-1", state, now)

			require.True(t, res.CanEnter, "congestion %.2f should pass", tc.score)
			assert.InDelta(t, tc.want, res.CongestionMultiplier, 1e-9)
		})
	}
}

func TestValidate_WeakSignalsBlockAtSizing(t *testing.T) {
	f := newFixture(false, 0.90, 0.20)
	state := core.TradingState{
		Entropy:             0.10,
		LiquidityFlow:       0.65,
		MigrationConfidence: 0.05,
		Consistency:         0.05,
		Velocity:            0.05,
	}
	now := seedInflow(f.guard, "pool-1", state, 2)

	res := f.pipeline.Validate("pool-1", state, now)

	require.True(t, res.Blocked)
	assert.Equal(t, checkSizing, res.Checks[len(res.Checks)-1].Name)
	assert.Zero(t, res.FinalMultiplier)
}

func TestValidate_CombinedMultiplierBelowMinimumBlocks(t *testing.T) {
	// Every stage passes on its own: execution 0.50 gives 0.40, congestion
	// 0.70 gives 0.50, and the blend clears the sizing floor. The product
	// is still too small to pay for an entry.
	f := newFixture(false, 0.50, 0.70)
	state := core.TradingState{
		Entropy:             0.35,
		LiquidityFlow:       0.65,
		MigrationConfidence: 0.30,
		Consistency:         0.30,
		Velocity:            0.30,
	}
	now := seedInflow(f.guard, "pool-1", state, 2)

	res := f.pipeline.Validate("pool-1", state, now)

	require.True(t, res.Blocked)
	assert.Contains(t, res.Reason, "combined multiplier")
	assert.Equal(t, checkCombined, res.Checks[len(res.Checks)-1].Name)
	for _, check := range res.Checks[:len(res.Checks)-1] {
		assert.True(t, check.Passed, "stage %s passed individually", check.Name)
	}
}

func TestValidate_FinalMultiplierIsMultiplicative(t *testing.T) {
	f := newFixture(false, 0.65, 0.65)
	state := strongState()
	now := seedInflow(f.guard, "pool-1", state, 2)

	res := f.pipeline.Validate("pool-1", state, now)

	require.True(t, res.CanEnter)
	want := res.RegimeMultiplier * res.ExecutionMultiplier * res.CongestionMultiplier
	assert.InDelta(t, want, res.FinalMultiplier, 1e-12)
	assert.InDelta(t, strongRegimeMultiplier()*0.70*0.75, res.FinalMultiplier, 1e-9)
}
