package confidence

import (
	"fmt"

	"lp_sentinel/pkg/tradingutils"
)

// Score weights. They sum to 1.0.
const (
	weightSuppression  = 0.20
	weightForcedExit   = 0.15
	weightHealth       = 0.20
	weightPnlStability = 0.10
	weightMarketHealth = 0.20
	weightAliveRatio   = 0.10
	weightDataQuality  = 0.05
)

// Unlock thresholds. Every condition must hold simultaneously.
const (
	unlockMinMarketHealth   = 35.0
	unlockMinAliveRatio     = 0.35
	unlockMaxForcedExitRate = 0.10
	unlockMinSuppression    = 0.60
	unlockMinAvgHealth      = 0.55
)

// Score folds the inputs into a single trust score in [0,1].
func Score(in Inputs) float64 {
	score := weightSuppression*in.ExitSuppressionRate +
		weightForcedExit*(1-in.ForcedExitRate) +
		weightHealth*in.AvgHealthScore +
		weightPnlStability*in.PnlStabilityInverse +
		weightMarketHealth*(in.MarketHealth/100) +
		weightAliveRatio*in.AliveRatio +
		weightDataQuality*in.DataQuality
	return tradingutils.Clamp01(score)
}

// UnlockStatus reports the unlock decision with every failing condition
// named for observability.
type UnlockStatus struct {
	Unlocked         bool
	FailedConditions []string
}

// CheckUnlock requires all five unlock conditions at once. A single failing
// condition keeps the deployment cap at its base level.
func CheckUnlock(in Inputs) UnlockStatus {
	var failed []string

	if in.MarketHealth < unlockMinMarketHealth {
		failed = append(failed, fmt.Sprintf("market_health %.1f < %.0f", in.MarketHealth, unlockMinMarketHealth))
	}
	if in.AliveRatio < unlockMinAliveRatio {
		failed = append(failed, fmt.Sprintf("alive_ratio %.2f < %.2f", in.AliveRatio, unlockMinAliveRatio))
	}
	if in.ForcedExitRate > unlockMaxForcedExitRate {
		failed = append(failed, fmt.Sprintf("forced_exit_rate %.2f > %.2f", in.ForcedExitRate, unlockMaxForcedExitRate))
	}
	if in.ExitSuppressionRate < unlockMinSuppression {
		failed = append(failed, fmt.Sprintf("exit_suppression_rate %.2f < %.2f", in.ExitSuppressionRate, unlockMinSuppression))
	}
	if in.AvgHealthScore < unlockMinAvgHealth {
		failed = append(failed, fmt.Sprintf("avg_health_score %.2f < %.2f", in.AvgHealthScore, unlockMinAvgHealth))
	}

	return UnlockStatus{
		Unlocked:         len(failed) == 0,
		FailedConditions: failed,
	}
}
