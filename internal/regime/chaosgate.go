package regime

import (
	"fmt"
	"sync"

	"lp_sentinel/internal/core"
)

// ChaosGateParams set the market-wide floors below which no entry is
// considered, regardless of per-pool signals.
type ChaosGateParams struct {
	MinMarketHealth float64
	MaxAvgEntropy   float64
	MinAliveRatio   float64
}

// DefaultChaosGateParams returns the production floors. These sit well
// below the confidence unlock thresholds: the gate only closes when the
// market is genuinely chaotic, not merely unconvincing.
func DefaultChaosGateParams() ChaosGateParams {
	return ChaosGateParams{
		MinMarketHealth: 20,
		MaxAvgEntropy:   0.85,
		MinAliveRatio:   0.15,
	}
}

// ChaosGate implements the pipeline's no-trade check from per-cycle market
// summaries.
type ChaosGate struct {
	mu      sync.RWMutex
	params  ChaosGateParams
	logger  core.ILogger
	noTrade bool
	reason  string
}

var _ core.INoTradeGate = (*ChaosGate)(nil)

func NewChaosGate(params ChaosGateParams, logger core.ILogger) *ChaosGate {
	return &ChaosGate{
		params: params,
		logger: logger.WithField("component", "chaos_gate"),
	}
}

// Update re-evaluates the gate from the latest market summary.
func (g *ChaosGate) Update(market core.MarketSummary) {
	g.mu.Lock()
	defer g.mu.Unlock()

	noTrade, reason := g.evaluate(market)
	if noTrade && !g.noTrade {
		g.logger.Warn("No-trade regime entered", "reason", reason)
	}
	if !noTrade && g.noTrade {
		g.logger.Info("No-trade regime cleared")
	}
	g.noTrade = noTrade
	g.reason = reason
}

func (g *ChaosGate) evaluate(market core.MarketSummary) (bool, string) {
	if market.MarketHealth < g.params.MinMarketHealth {
		return true, fmt.Sprintf("market health %.1f below floor %.0f",
			market.MarketHealth, g.params.MinMarketHealth)
	}
	if market.AvgEntropy > g.params.MaxAvgEntropy {
		return true, fmt.Sprintf("market entropy %.2f above ceiling %.2f",
			market.AvgEntropy, g.params.MaxAvgEntropy)
	}
	if market.AliveRatio < g.params.MinAliveRatio {
		return true, fmt.Sprintf("alive ratio %.2f below floor %.2f",
			market.AliveRatio, g.params.MinAliveRatio)
	}
	return false, ""
}

// NoTradeRegime reports the current gate state and the reason it is closed.
func (g *ChaosGate) NoTradeRegime() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.noTrade, g.reason
}
