// Package validation runs the ordered entry guard chain: no-trade gate,
// reversal guard, execution quality, congestion, adaptive sizing. The first
// block wins and later stages are never evaluated.
package validation

import (
	"fmt"
	"time"

	"lp_sentinel/internal/core"
	"lp_sentinel/internal/reversal"
	"lp_sentinel/internal/sizing"
	"lp_sentinel/pkg/tradingutils"
)

const (
	checkNoTrade    = "no_trade_regime"
	checkReversal   = "reversal_guard"
	checkExecution  = "execution_quality"
	checkCongestion = "congestion"
	checkSizing     = "adaptive_sizing"
	checkCombined   = "combined_multiplier"
)

// Params tune the stage thresholds. Zero values fall back to defaults.
type Params struct {
	BlockExecutionQuality float64
	LowExecutionQuality   float64
	FullExecutionQuality  float64
	LowExecutionMult      float64
	BlockCongestion       float64
	HighCongestion        float64
	ModerateCongestion    float64
	HighCongestionMult    float64
	MinCombinedMultiplier float64
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		BlockExecutionQuality: 0.35,
		LowExecutionQuality:   0.50,
		FullExecutionQuality:  0.80,
		LowExecutionMult:      0.40,
		BlockCongestion:       0.85,
		HighCongestion:        0.70,
		ModerateCongestion:    0.60,
		HighCongestionMult:    0.50,
		MinCombinedMultiplier: 0.10,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.BlockExecutionQuality <= 0 {
		p.BlockExecutionQuality = def.BlockExecutionQuality
	}
	if p.LowExecutionQuality <= 0 {
		p.LowExecutionQuality = def.LowExecutionQuality
	}
	if p.FullExecutionQuality <= 0 {
		p.FullExecutionQuality = def.FullExecutionQuality
	}
	if p.LowExecutionMult <= 0 {
		p.LowExecutionMult = def.LowExecutionMult
	}
	if p.BlockCongestion <= 0 {
		p.BlockCongestion = def.BlockCongestion
	}
	if p.HighCongestion <= 0 {
		p.HighCongestion = def.HighCongestion
	}
	if p.ModerateCongestion <= 0 {
		p.ModerateCongestion = def.ModerateCongestion
	}
	if p.HighCongestionMult <= 0 {
		p.HighCongestionMult = def.HighCongestionMult
	}
	if p.MinCombinedMultiplier <= 0 {
		p.MinCombinedMultiplier = def.MinCombinedMultiplier
	}
	return p
}

// CheckResult is one stage's outcome, retained for diagnostics.
type CheckResult struct {
	Name       string  `json:"name"`
	Passed     bool    `json:"passed"`
	Value      float64 `json:"value"`
	Multiplier float64 `json:"multiplier"`
	Reason     string  `json:"reason,omitempty"`
}

// Result is the combined entry decision for one pool.
type Result struct {
	CanEnter             bool          `json:"can_enter"`
	Blocked              bool          `json:"blocked"`
	Reason               string        `json:"reason"`
	FinalMultiplier      float64       `json:"final_multiplier"`
	RegimeMultiplier     float64       `json:"regime_multiplier"`
	ExecutionMultiplier  float64       `json:"execution_multiplier"`
	CongestionMultiplier float64       `json:"congestion_multiplier"`
	CooldownSeconds      int           `json:"cooldown_seconds,omitempty"`
	Checks               []CheckResult `json:"checks"`
}

// Pipeline orchestrates the guard chain. It owns no persistent state of its
// own; each Validate call reads the collaborators in order.
type Pipeline struct {
	params      Params
	logger      core.ILogger
	noTrade     core.INoTradeGate
	guard       *reversal.Guard
	execQuality core.IExecutionQuality
	congestion  core.ICongestion
	sizer       *sizing.Engine
}

func NewPipeline(
	params Params,
	noTrade core.INoTradeGate,
	guard *reversal.Guard,
	execQuality core.IExecutionQuality,
	congestion core.ICongestion,
	sizer *sizing.Engine,
	logger core.ILogger,
) *Pipeline {
	return &Pipeline{
		params:      params.withDefaults(),
		logger:      logger.WithField("component", "entry_validation"),
		noTrade:     noTrade,
		guard:       guard,
		execQuality: execQuality,
		congestion:  congestion,
		sizer:       sizer,
	}
}

// Validate runs the chain for one pool and returns the combined decision.
func (p *Pipeline) Validate(poolID string, state core.TradingState, now time.Time) Result {
	res := Result{
		RegimeMultiplier:     1,
		ExecutionMultiplier:  1,
		CongestionMultiplier: 1,
	}

	// 1. Market-wide chaos gate.
	if noTrade, reason := p.noTrade.NoTradeRegime(); noTrade {
		return p.block(&res, poolID, CheckResult{
			Name:   checkNoTrade,
			Reason: reason,
		}, 0)
	}
	res.Checks = append(res.Checks, CheckResult{Name: checkNoTrade, Passed: true, Multiplier: 1})

	// 2. Migration reversal guard.
	rev := p.guard.DetectReversal(poolID, state, now)
	if rev.Blocked {
		return p.block(&res, poolID, CheckResult{
			Name:   checkReversal,
			Reason: rev.Reason,
		}, rev.CooldownSeconds)
	}
	res.Checks = append(res.Checks, CheckResult{
		Name:       checkReversal,
		Passed:     true,
		Value:      float64(rev.SustainedCount),
		Multiplier: 1,
		Reason:     rev.Reason,
	})

	// 3. Execution quality.
	quality := p.execQuality.Score()
	if quality < p.params.BlockExecutionQuality {
		return p.block(&res, poolID, CheckResult{
			Name:   checkExecution,
			Value:  quality,
			Reason: fmt.Sprintf("execution quality %.2f below %.2f", quality, p.params.BlockExecutionQuality),
		}, 0)
	}
	res.ExecutionMultiplier = p.executionMultiplier(quality)
	res.Checks = append(res.Checks, CheckResult{
		Name:       checkExecution,
		Passed:     true,
		Value:      quality,
		Multiplier: res.ExecutionMultiplier,
	})

	// 4. Network congestion.
	congestion := p.congestion.Score()
	if congestion >= p.params.BlockCongestion {
		return p.block(&res, poolID, CheckResult{
			Name:   checkCongestion,
			Value:  congestion,
			Reason: fmt.Sprintf("congestion %.2f at or above %.2f", congestion, p.params.BlockCongestion),
		}, 0)
	}
	res.CongestionMultiplier = p.congestionMultiplier(congestion)
	res.Checks = append(res.Checks, CheckResult{
		Name:       checkCongestion,
		Passed:     true,
		Value:      congestion,
		Multiplier: res.CongestionMultiplier,
	})

	// 5. Adaptive sizing.
	decision := p.sizer.Compute(state)
	if decision.Blocked {
		return p.block(&res, poolID, CheckResult{
			Name:   checkSizing,
			Value:  decision.RegimeConfidence,
			Reason: decision.Reason,
		}, 0)
	}
	res.RegimeMultiplier = decision.Multiplier
	res.Checks = append(res.Checks, CheckResult{
		Name:       checkSizing,
		Passed:     true,
		Value:      decision.RegimeConfidence,
		Multiplier: decision.Multiplier,
	})

	res.FinalMultiplier = res.RegimeMultiplier * res.ExecutionMultiplier * res.CongestionMultiplier
	if res.FinalMultiplier < p.params.MinCombinedMultiplier {
		return p.block(&res, poolID, CheckResult{
			Name:  checkCombined,
			Value: res.FinalMultiplier,
			Reason: fmt.Sprintf("combined multiplier %.3f below minimum %.2f",
				res.FinalMultiplier, p.params.MinCombinedMultiplier),
		}, 0)
	}
	res.Checks = append(res.Checks, CheckResult{
		Name:       checkCombined,
		Passed:     true,
		Value:      res.FinalMultiplier,
		Multiplier: res.FinalMultiplier,
	})

	res.CanEnter = true
	res.Reason = fmt.Sprintf("all checks passed, multiplier %.3f", res.FinalMultiplier)
	p.logger.Debug("Entry validated",
		"pool", poolID,
		"multiplier", res.FinalMultiplier,
		"regime", res.RegimeMultiplier,
		"execution", res.ExecutionMultiplier,
		"congestion", res.CongestionMultiplier,
	)
	return res
}

// block finalizes an early exit at the failing stage.
func (p *Pipeline) block(res *Result, poolID string, failed CheckResult, cooldownSeconds int) Result {
	failed.Passed = false
	res.Checks = append(res.Checks, failed)
	res.Blocked = true
	res.Reason = failed.Reason
	res.CooldownSeconds = cooldownSeconds
	res.FinalMultiplier = 0
	p.logger.Debug("Entry blocked",
		"pool", poolID,
		"check", failed.Name,
		"reason", failed.Reason,
	)
	return *res
}

// executionMultiplier maps quality to a position multiplier: degraded fills
// shrink the position before they ever block it.
func (p *Pipeline) executionMultiplier(quality float64) float64 {
	switch {
	case quality >= p.params.FullExecutionQuality:
		return 1
	case quality < p.params.LowExecutionQuality:
		return p.params.LowExecutionMult
	default:
		t := (quality - p.params.LowExecutionQuality) /
			(p.params.FullExecutionQuality - p.params.LowExecutionQuality)
		return tradingutils.Lerp(p.params.LowExecutionMult, 1, t)
	}
}

// congestionMultiplier maps congestion to a position multiplier, easing from
// full size to half size as the network saturates.
func (p *Pipeline) congestionMultiplier(congestion float64) float64 {
	switch {
	case congestion >= p.params.HighCongestion:
		return p.params.HighCongestionMult
	case congestion >= p.params.ModerateCongestion:
		t := (p.params.HighCongestion - congestion) /
			(p.params.HighCongestion - p.params.ModerateCongestion)
		return tradingutils.Lerp(p.params.HighCongestionMult, 1, t)
	default:
		return 1
	}
}
