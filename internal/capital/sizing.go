package capital

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/tradingutils"
)

// EntryCosts are the expected one-off costs of a position round trip.
type EntryCosts struct {
	EntryFeeUSD decimal.Decimal
	ExitFeeUSD  decimal.Decimal
	SlippageUSD decimal.Decimal
}

func (c EntryCosts) Total() decimal.Decimal {
	return c.EntryFeeUSD.Add(c.ExitFeeUSD).Add(c.SlippageUSD)
}

// SizingResult is the full sizing breakdown for one entry decision.
type SizingResult struct {
	RecommendedSizeUSD         decimal.Decimal
	TargetSizeUSD              decimal.Decimal
	RequiredSizeUSD            decimal.Decimal
	CostTargetUSD              decimal.Decimal
	FeeRatePer1kHour           float64
	EstimatedAmortizationHours float64
	WarmupScale                float64
	RegimeScale                float64
	IsProbeMode                bool
	SkipEntry                  bool
	Reason                     string
}

// ComputePositionSize turns the cost profile of an opportunity into a dollar
// size. The amortization gate is load-bearing: a position whose expected fee
// income cannot repay its round-trip costs within the maximum horizon is
// downgraded to a probe or skipped outright.
func (m *Manager) ComputePositionSize(poolID string, costs EntryCosts, now time.Time) SizingResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recalcLocked(now)

	res := SizingResult{
		TargetSizeUSD: m.regimeTargetLocked(),
		WarmupScale:   1.0,
		RegimeScale:   1.0,
	}

	totalCosts := costs.Total()
	buffer := tradingutils.MaxDecimal(decimal.NewFromFloat(0.50), tradingutils.PctOf(totalCosts, 0.15))
	res.CostTargetUSD = totalCosts.Add(buffer)

	res.FeeRatePer1kHour = m.estimateFeeRateLocked(poolID)

	// requiredSize amortizes the cost target within the target horizon at
	// the estimated rate; estimated hours measure how long the regime
	// target size would take for the same.
	perTargetDollarsHourly := res.FeeRatePer1kHour * res.TargetSizeUSD.InexactFloat64() / 1000
	costTargetF := res.CostTargetUSD.InexactFloat64()
	if perTargetDollarsHourly > 0 {
		res.EstimatedAmortizationHours = costTargetF / perTargetDollarsHourly
	} else {
		res.EstimatedAmortizationHours = math.Inf(1)
	}
	res.RequiredSizeUSD = res.CostTargetUSD.Mul(decimal.NewFromInt(1000)).
		Div(decimal.NewFromFloat(res.FeeRatePer1kHour * m.params.TargetAmortizeHours))

	recommended := tradingutils.MaxDecimal(res.TargetSizeUSD, res.RequiredSizeUSD)

	maxSingle := tradingutils.PctOf(m.state.EquityUSD, m.params.MaxSinglePositionPct)
	capped := false
	if recommended.GreaterThan(maxSingle) {
		recommended = maxSingle
		capped = true
	}

	if m.state.IsInWarmup {
		res.WarmupScale = 0.5 + 0.5*m.state.WarmupProgress
		recommended = recommended.Mul(decimal.NewFromFloat(res.WarmupScale))
	}
	switch {
	case m.state.Regime == core.RegimeBear:
		res.RegimeScale = m.params.BearRegimeScale
	case m.state.Regime == core.RegimeBull && m.state.ConfidenceUnlocked:
		res.RegimeScale = m.params.BullUnlockedScale
	}
	recommended = tradingutils.RoundUSD(recommended.Mul(decimal.NewFromFloat(res.RegimeScale)))
	res.RecommendedSizeUSD = recommended

	minPosition := decimal.NewFromFloat(m.params.MinPositionUSD)
	if res.EstimatedAmortizationHours > m.params.MaxAmortizeHours {
		if recommended.GreaterThanOrEqual(minPosition) {
			res.IsProbeMode = true
			res.RecommendedSizeUSD = minPosition
			res.Reason = fmt.Sprintf("amortization %.1fh exceeds %.1fh max, probing at $%s",
				res.EstimatedAmortizationHours, m.params.MaxAmortizeHours, minPosition.StringFixed(0))
			m.logger.Info("Sizing downgraded to probe",
				"pool", poolID,
				"estimated_hours", res.EstimatedAmortizationHours,
				"probe_usd", minPosition.StringFixed(0),
			)
		} else {
			res.SkipEntry = true
			res.Reason = fmt.Sprintf("cannot amortize $%s in costs within %.1fh (estimated %.1fh), skipping",
				res.CostTargetUSD.StringFixed(2), m.params.MaxAmortizeHours, res.EstimatedAmortizationHours)
			m.logger.Info("Sizing skipped entry",
				"pool", poolID,
				"estimated_hours", res.EstimatedAmortizationHours,
				"recommended_usd", recommended.StringFixed(2),
			)
		}
		return res
	}

	res.Reason = fmt.Sprintf("sized to amortize costs in %.1fh", res.EstimatedAmortizationHours)
	if capped {
		res.Reason = fmt.Sprintf("%s (capped at %.0f%% of equity)", res.Reason, m.params.MaxSinglePositionPct*100)
	}
	return res
}

func (m *Manager) regimeTargetLocked() decimal.Decimal {
	switch m.state.Regime {
	case core.RegimeBull:
		return decimal.NewFromFloat(m.params.TargetBullUSD)
	case core.RegimeBear:
		return decimal.NewFromFloat(m.params.TargetBearUSD)
	default:
		return decimal.NewFromFloat(m.params.TargetNeutralUSD)
	}
}

// estimateFeeRateLocked derives the expected fee accrual per $1,000 deployed
// per hour from observed samples, requiring enough long-held samples to
// trust the data. Falls back to a conservative constant otherwise.
func (m *Manager) estimateFeeRateLocked(poolID string) float64 {
	var sum float64
	var n int
	for _, s := range m.poolFeeHistory[poolID] {
		if s.HoldTime < m.params.MinFeeSampleHold {
			continue
		}
		holdHours := s.HoldTime.Hours()
		sizeThousands := s.SizeUSD.InexactFloat64() / 1000
		if holdHours <= 0 || sizeThousands <= 0 {
			continue
		}
		sum += s.FeesUSD.InexactFloat64() / holdHours / sizeThousands
		n++
	}
	if n >= m.params.MinFeeSamples && sum > 0 {
		return sum / float64(n)
	}
	return m.params.FallbackFeeRate
}
