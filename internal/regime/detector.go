// Package regime classifies the market into BULL/NEUTRAL/BEAR, trips the
// global kill switch on drawdown or forced-exit spikes, and gates trading
// during market-wide chaos.
package regime

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/telemetry"
)

// DetectorParams tune the regime classifier. Enter/exit thresholds are
// deliberately asymmetric so the regime does not flap at a boundary.
type DetectorParams struct {
	BullEnterScore  float64
	BullExitScore   float64
	BearEnterScore  float64
	BearExitScore   float64
	SmoothingWindow int
}

// DefaultDetectorParams returns the production thresholds.
func DefaultDetectorParams() DetectorParams {
	return DetectorParams{
		BullEnterScore:  65,
		BullExitScore:   55,
		BearEnterScore:  35,
		BearExitScore:   45,
		SmoothingWindow: 5,
	}
}

func (p DetectorParams) withDefaults() DetectorParams {
	def := DefaultDetectorParams()
	if p.BullEnterScore <= 0 {
		p.BullEnterScore = def.BullEnterScore
	}
	if p.BullExitScore <= 0 {
		p.BullExitScore = def.BullExitScore
	}
	if p.BearEnterScore <= 0 {
		p.BearEnterScore = def.BearEnterScore
	}
	if p.BearExitScore <= 0 {
		p.BearExitScore = def.BearExitScore
	}
	if p.SmoothingWindow <= 0 {
		p.SmoothingWindow = def.SmoothingWindow
	}
	return p
}

// Detector derives the market regime from per-cycle market summaries. The
// composite score blends market health with aggregate liquidity flow and is
// smoothed over a short window before the hysteresis thresholds apply.
type Detector struct {
	mu      sync.RWMutex
	params  DetectorParams
	logger  core.ILogger
	current core.Regime
	scores  []float64
}

func NewDetector(params DetectorParams, logger core.ILogger) *Detector {
	return &Detector{
		params:  params.withDefaults(),
		logger:  logger.WithField("component", "regime_detector"),
		current: core.RegimeNeutral,
	}
}

// Observe folds one market summary into the classifier and returns the
// (possibly updated) regime.
func (d *Detector) Observe(market core.MarketSummary) core.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()

	score := compositeScore(market)
	d.scores = append(d.scores, score)
	if len(d.scores) > d.params.SmoothingWindow {
		d.scores = d.scores[len(d.scores)-d.params.SmoothingWindow:]
	}
	// Hold NEUTRAL until the window fills; a single cold-start sample is
	// not a trend.
	if len(d.scores) < d.params.SmoothingWindow {
		return d.current
	}
	smoothed := mean(d.scores)

	next := d.current
	switch d.current {
	case core.RegimeBull:
		if smoothed < d.params.BullExitScore {
			next = core.RegimeNeutral
		}
	case core.RegimeBear:
		if smoothed > d.params.BearExitScore {
			next = core.RegimeNeutral
		}
	}
	// Entering a trend regime requires clearing the stricter enter
	// threshold, regardless of where we came from.
	if smoothed >= d.params.BullEnterScore {
		next = core.RegimeBull
	} else if smoothed <= d.params.BearEnterScore {
		next = core.RegimeBear
	}

	if next != d.current {
		d.logger.Warn("Regime changed",
			"from", string(d.current),
			"to", string(next),
			"score", smoothed,
			"market_health", market.MarketHealth,
			"avg_flow", market.AvgFlow,
		)
		metrics := telemetry.GetGlobalMetrics()
		if metrics != nil && metrics.RegimeTransitionsTotal != nil {
			metrics.RegimeTransitionsTotal.Add(context.Background(), 1,
				metric.WithAttributes(
					attribute.String("from", string(d.current)),
					attribute.String("to", string(next)),
				))
		}
		d.current = next
	}
	return d.current
}

// Current returns the last classified regime.
func (d *Detector) Current() core.Regime {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// compositeScore maps a market summary onto the 0-100 classifier scale.
func compositeScore(market core.MarketSummary) float64 {
	return 0.6*market.MarketHealth + 0.4*market.AvgFlow*100
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
