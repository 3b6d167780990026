package journal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/core"
)

var journalStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func poolID(i int) string {
	return fmt.Sprintf("pool-%d", i)
}

func sampleDecision(cycleID, poolID string, at time.Time) core.DecisionEvent {
	return core.DecisionEvent{
		CycleID:         cycleID,
		PoolID:          poolID,
		Timestamp:       at,
		Action:          core.ActionEnter,
		Reason:          "all checks passed, multiplier 0.850",
		FinalMultiplier: 0.85,
		SizeUSD:         decimal.NewFromInt(900),
		Regime:          core.RegimeNeutral,
		ConfidenceScore: 0.72,
	}
}

func sampleCycle(cycleID string, at time.Time) core.CycleSummary {
	return core.CycleSummary{
		CycleID:         cycleID,
		StartedAt:       at,
		DurationMs:      42,
		PoolsEvaluated:  8,
		Entries:         2,
		Blocks:          5,
		Skips:           1,
		Regime:          core.RegimeNeutral,
		ConfidenceScore: 0.72,
		DeployCapPct:    0.40,
		DeployedPct:     0.18,
		EquityUSD:       decimal.NewFromInt(10000),
	}
}
