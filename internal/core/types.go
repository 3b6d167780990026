package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Regime is the coarse market-direction classification supplied by the
// regime detector.
type Regime string

const (
	RegimeBull    Regime = "BULL"
	RegimeNeutral Regime = "NEUTRAL"
	RegimeBear    Regime = "BEAR"
)

func (r Regime) IsValid() bool {
	switch r {
	case RegimeBull, RegimeNeutral, RegimeBear:
		return true
	}
	return false
}

// MigrationDirection is the dominant direction of liquidity migration for a
// pool over a window of ticks.
type MigrationDirection string

const (
	MigrationIn      MigrationDirection = "in"
	MigrationOut     MigrationDirection = "out"
	MigrationNeutral MigrationDirection = "neutral"
)

// TradingState is the normalized signal vector produced for one pool on one
// scan cycle. Every field is clamped to [0,1] at construction; the struct is
// treated as immutable for the rest of the cycle.
//
// ExecutionQuality is carried for forward compatibility but is currently a
// fixed placeholder of 1; the validation pipeline consumes the live
// execution-quality score from its provider instead.
type TradingState struct {
	Entropy             float64
	LiquidityFlow       float64
	MigrationConfidence float64
	Consistency         float64
	Velocity            float64
	ExecutionQuality    float64
}

// Clamped returns a copy with every field clamped to [0,1].
func (s TradingState) Clamped() TradingState {
	return TradingState{
		Entropy:             clamp01(s.Entropy),
		LiquidityFlow:       clamp01(s.LiquidityFlow),
		MigrationConfidence: clamp01(s.MigrationConfidence),
		Consistency:         clamp01(s.Consistency),
		Velocity:            clamp01(s.Velocity),
		ExecutionQuality:    clamp01(s.ExecutionQuality),
	}
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

// PoolSnapshot is one pool's telemetry for one cycle: identity, descriptive
// figures, and the normalized signal vector.
type PoolSnapshot struct {
	PoolID       string
	Pair         string
	LiquidityUSD decimal.Decimal
	VolumeUSD    decimal.Decimal
	FeeAPR       float64
	HealthScore  float64 // [0,1] per-pool operational health
	Alive        bool    // pool responded with fresh data this cycle
	State        TradingState
	ObservedAt   time.Time
}

// MarketSummary aggregates market-wide telemetry for one cycle.
type MarketSummary struct {
	MarketHealth  float64 // [0,100]
	AliveRatio    float64 // [0,1] fraction of tracked pools alive
	PoolsScanned  int
	PoolsAlive    int
	AvgEntropy    float64
	AvgFlow       float64
	EquityUSD     decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

// CycleTelemetry is everything a telemetry source hands the orchestrator for
// one decision cycle, including the request/error counts that feed the
// data-quality confidence input.
type CycleTelemetry struct {
	Pools     []PoolSnapshot
	Market    MarketSummary
	Requests  int
	RPCErrors int
	APIErrors int
}

// DecisionAction is the terminal outcome of evaluating one pool.
type DecisionAction string

const (
	ActionEnter DecisionAction = "enter"
	ActionBlock DecisionAction = "block"
	ActionSkip  DecisionAction = "skip" // passed validation but sizing refused the entry
)

// DecisionEvent is the journaled / broadcast record of one admission decision.
type DecisionEvent struct {
	CycleID         string          `json:"cycle_id"`
	PoolID          string          `json:"pool_id"`
	Timestamp       time.Time       `json:"timestamp"`
	Action          DecisionAction  `json:"action"`
	Reason          string          `json:"reason"`
	FinalMultiplier float64         `json:"final_multiplier"`
	SizeUSD         decimal.Decimal `json:"size_usd"`
	ProbeMode       bool            `json:"probe_mode"`
	CooldownSeconds int             `json:"cooldown_seconds,omitempty"`
	Regime          Regime          `json:"regime"`
	ConfidenceScore float64         `json:"confidence_score"`
}

// CycleSummary is the journaled / broadcast record of one completed cycle.
type CycleSummary struct {
	CycleID          string          `json:"cycle_id"`
	StartedAt        time.Time       `json:"started_at"`
	DurationMs       int64           `json:"duration_ms"`
	PoolsEvaluated   int             `json:"pools_evaluated"`
	Entries          int             `json:"entries"`
	Blocks           int             `json:"blocks"`
	Skips            int             `json:"skips"`
	Regime           Regime          `json:"regime"`
	ConfidenceScore  float64         `json:"confidence_score"`
	ConfidenceUnlock bool            `json:"confidence_unlocked"`
	DeployCapPct     float64         `json:"deploy_cap_pct"`
	DeployedPct      float64         `json:"deployed_pct"`
	EquityUSD        decimal.Decimal `json:"equity_usd"`
}
