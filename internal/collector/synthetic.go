package collector

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/core"
)

// syntheticEpoch anchors the scripted clock so replays of the same seed carry
// identical timestamps.
var syntheticEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const syntheticTickInterval = 30 * time.Second

// Phases of the synthetic market script, in playback order.
const (
	PhaseSteady   = "steady"
	PhaseBuildup  = "buildup"
	PhaseReversal = "reversal"
	PhaseChaos    = "chaos"
)

var syntheticPairs = []string{
	"SOL/USDC", "JUP/SOL", "BONK/SOL", "WIF/SOL",
	"RAY/USDC", "ORCA/SOL", "PYTH/USDC", "JTO/SOL",
}

// SyntheticParams scripts the generator. Cycle counts are per phase; the
// script loops after the chaos phase completes.
type SyntheticParams struct {
	Pools          int
	Seed           int64
	SteadyCycles   int
	BuildupCycles  int
	ReversalCycles int
	ChaosCycles    int
	EquityUSD      decimal.Decimal
}

// DefaultSyntheticParams returns a script long enough to walk the admission
// stack through calm trading, a migration build-up, its reversal, and a
// chaotic tail.
func DefaultSyntheticParams() SyntheticParams {
	return SyntheticParams{
		Pools:          8,
		Seed:           42,
		SteadyCycles:   6,
		BuildupCycles:  8,
		ReversalCycles: 4,
		ChaosCycles:    4,
		EquityUSD:      decimal.NewFromInt(10000),
	}
}

func (p SyntheticParams) withDefaults() SyntheticParams {
	def := DefaultSyntheticParams()
	if p.Pools <= 0 {
		p.Pools = def.Pools
	}
	if p.SteadyCycles <= 0 {
		p.SteadyCycles = def.SteadyCycles
	}
	if p.BuildupCycles <= 0 {
		p.BuildupCycles = def.BuildupCycles
	}
	if p.ReversalCycles <= 0 {
		p.ReversalCycles = def.ReversalCycles
	}
	if p.ChaosCycles <= 0 {
		p.ChaosCycles = def.ChaosCycles
	}
	if p.EquityUSD.IsZero() {
		p.EquityUSD = def.EquityUSD
	}
	return p
}

// Synthetic is a deterministic telemetry source for development and
// integration tests. Given the same params and seed it replays the same
// market, cycle for cycle, so tests can assert on exact decisions.
type Synthetic struct {
	mu     sync.Mutex
	params SyntheticParams
	rng    *rand.Rand
	cycle  int
}

var _ core.ITelemetrySource = (*Synthetic)(nil)

func NewSynthetic(params SyntheticParams) *Synthetic {
	params = params.withDefaults()
	return &Synthetic{
		params: params,
		rng:    rand.New(rand.NewSource(params.Seed)),
	}
}

func (s *Synthetic) Name() string {
	return "synthetic"
}

// CurrentPhase returns the script phase the next Collect call will play.
func (s *Synthetic) CurrentPhase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	phase, _ := s.phaseAt(s.cycle)
	return phase
}

func (s *Synthetic) Collect(ctx context.Context) (core.CycleTelemetry, error) {
	if err := ctx.Err(); err != nil {
		return core.CycleTelemetry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	phase, progress := s.phaseAt(s.cycle)
	observedAt := syntheticEpoch.Add(time.Duration(s.cycle) * syntheticTickInterval)
	s.cycle++

	pools := make([]core.PoolSnapshot, 0, s.params.Pools)
	alive := 0
	var entropySum, flowSum float64

	for i := 0; i < s.params.Pools; i++ {
		jitter := (s.rng.Float64() - 0.5) * 0.06
		snap := s.poolSnapshot(i, phase, progress, jitter)
		snap.ObservedAt = observedAt
		pools = append(pools, snap)
		if snap.Alive {
			alive++
			entropySum += snap.State.Entropy
			flowSum += snap.State.LiquidityFlow
		}
	}

	pnlJitter := (s.rng.Float64() - 0.5) * 80

	market := core.MarketSummary{
		MarketHealth:  marketHealth(phase, progress) + pnlJitter/40,
		PoolsScanned:  s.params.Pools,
		PoolsAlive:    alive,
		EquityUSD:     s.params.EquityUSD,
		UnrealizedPnl: decimal.NewFromFloat(pnlJitter).Round(2),
	}
	if s.params.Pools > 0 {
		market.AliveRatio = float64(alive) / float64(s.params.Pools)
	}
	if alive > 0 {
		market.AvgEntropy = entropySum / float64(alive)
		market.AvgFlow = flowSum / float64(alive)
	}

	rpcErrors := 0
	if phase == PhaseChaos {
		rpcErrors = s.params.Pools - alive
	}

	return core.CycleTelemetry{
		Pools:     pools,
		Market:    market,
		Requests:  s.params.Pools + 1,
		RPCErrors: rpcErrors,
	}, nil
}

// phaseAt maps a cycle index onto the looping script, returning the phase
// name and the progress through it in [0,1).
func (s *Synthetic) phaseAt(cycle int) (string, float64) {
	total := s.params.SteadyCycles + s.params.BuildupCycles + s.params.ReversalCycles + s.params.ChaosCycles
	idx := cycle % total

	if idx < s.params.SteadyCycles {
		return PhaseSteady, float64(idx) / float64(s.params.SteadyCycles)
	}
	idx -= s.params.SteadyCycles
	if idx < s.params.BuildupCycles {
		return PhaseBuildup, float64(idx) / float64(s.params.BuildupCycles)
	}
	idx -= s.params.BuildupCycles
	if idx < s.params.ReversalCycles {
		return PhaseReversal, float64(idx) / float64(s.params.ReversalCycles)
	}
	idx -= s.params.ReversalCycles
	return PhaseChaos, float64(idx) / float64(s.params.ChaosCycles)
}

func (s *Synthetic) poolSnapshot(i int, phase string, progress, jitter float64) core.PoolSnapshot {
	liquidity := decimal.NewFromInt(int64(50000 + 25000*i))
	volume := liquidity.Mul(decimal.NewFromFloat(0.4 + jitter))

	var state core.TradingState
	var health, feeAPR float64
	isAlive := true

	switch phase {
	case PhaseBuildup:
		state = core.TradingState{
			Entropy:             0.40 - 0.15*progress + jitter,
			LiquidityFlow:       0.62 + 0.25*progress + jitter,
			MigrationConfidence: 0.65 + 0.25*progress + jitter,
			Consistency:         0.70 + jitter,
			Velocity:            0.55 + 0.15*progress + jitter,
		}
		health = 0.75 + jitter
		feeAPR = 0.30
	case PhaseReversal:
		state = core.TradingState{
			Entropy:             0.58 + 0.10*progress + jitter,
			LiquidityFlow:       0.22 - 0.08*progress + jitter,
			MigrationConfidence: 0.35 + jitter,
			Consistency:         0.40 + jitter,
			Velocity:            0.70 + jitter,
		}
		health = 0.50 + jitter
		feeAPR = 0.12
	case PhaseChaos:
		state = core.TradingState{
			Entropy:             0.90 + jitter,
			LiquidityFlow:       0.50 + 4*jitter,
			MigrationConfidence: 0.20 + jitter,
			Consistency:         0.20 + jitter,
			Velocity:            0.80 + jitter,
		}
		health = 0.25 + jitter
		feeAPR = 0.05
		isAlive = i == 0
	default: // steady
		state = core.TradingState{
			Entropy:             0.45 + jitter,
			LiquidityFlow:       0.50 + jitter,
			MigrationConfidence: 0.50 + jitter,
			Consistency:         0.60 + jitter,
			Velocity:            0.40 + jitter,
		}
		health = 0.62 + jitter
		feeAPR = 0.18
	}

	state.ExecutionQuality = 1

	return core.PoolSnapshot{
		PoolID:       syntheticPoolID(i),
		Pair:         syntheticPairs[i%len(syntheticPairs)],
		LiquidityUSD: liquidity,
		VolumeUSD:    volume.Round(2),
		FeeAPR:       feeAPR + 0.02*float64(i%4),
		HealthScore:  clampUnit(health),
		Alive:        isAlive,
		State:        state.Clamped(),
	}
}

func marketHealth(phase string, progress float64) float64 {
	switch phase {
	case PhaseBuildup:
		return 62 + 16*progress
	case PhaseReversal:
		return 48 - 10*progress
	case PhaseChaos:
		return 14
	default:
		return 55
	}
}

func syntheticPoolID(i int) string {
	return fmt.Sprintf("pool-%02d", i)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
