// Package sizing maps a normalized signal vector to a position-size
// multiplier. The computation is deterministic and side-effect free.
package sizing

import (
	"fmt"
	"math"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/tradingutils"
)

// Blend weights for regime confidence. They sum to 1.0.
const (
	weightMigrationConfidence = 0.35
	weightLiquidityFlow       = 0.25
	weightEntropy             = 0.15
	weightConsistency         = 0.15
	weightVelocity            = 0.10

	// The power curve exaggerates strong regimes and suppresses weak ones.
	confidenceExponent = 1.5
)

// Params holds the tunable bounds of the engine.
type Params struct {
	MinRegimeConfidence float64 // below this the multiplier is forced to 0
	MaxMultiplier       float64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinRegimeConfidence: 0.20,
		MaxMultiplier:       1.8,
	}
}

// Decision is the engine output for one signal vector.
type Decision struct {
	RegimeConfidence float64
	Multiplier       float64
	Blocked          bool
	Reason           string
}

// Engine computes regime multipliers from trading state.
type Engine struct {
	params Params
}

func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// Compute returns the regime multiplier for the given state. A zero
// multiplier means the entry is blocked outright.
func (e *Engine) Compute(state core.TradingState) Decision {
	s := state.Clamped()

	r := weightMigrationConfidence*s.MigrationConfidence +
		weightLiquidityFlow*s.LiquidityFlow +
		weightEntropy*s.Entropy +
		weightConsistency*s.Consistency +
		weightVelocity*s.Velocity

	regimeConfidence := math.Pow(r, confidenceExponent)

	if regimeConfidence < e.params.MinRegimeConfidence {
		return Decision{
			RegimeConfidence: regimeConfidence,
			Multiplier:       0,
			Blocked:          true,
			Reason:           fmt.Sprintf("regime confidence %.3f below minimum %.2f", regimeConfidence, e.params.MinRegimeConfidence),
		}
	}

	return Decision{
		RegimeConfidence: regimeConfidence,
		Multiplier:       tradingutils.Clamp(regimeConfidence, 0, e.params.MaxMultiplier),
	}
}
