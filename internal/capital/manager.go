// Package capital owns the deployment budget: the dynamic capacity state
// machine, reserve and concentration limits, and cost-amortization sizing.
package capital

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/tradingutils"
)

const (
	defaultHardReservePct       = 0.35
	defaultBaseDeployCapPct     = 0.40
	defaultMinDeployCapPct      = 0.25
	defaultMaxDeployCapPct      = 0.60
	defaultWarmupInitialCapPct  = 0.15
	defaultStressConfidence     = 0.35
	defaultPerPoolMaxPct        = 0.08
	defaultPerPoolMaxPctBear    = 0.05
	defaultMaxSinglePositionPct = 0.06
	defaultMinPositionUSD       = 400.0
	defaultTargetNeutralUSD     = 900.0
	defaultTargetBullUSD        = 1200.0
	defaultTargetBearUSD        = 600.0
	defaultFallbackFeeRate      = 0.35
	defaultTargetAmortizeHours  = 2.5
	defaultMaxAmortizeHours     = 6.0
	defaultBearRegimeScale      = 0.75
	defaultBullUnlockedScale    = 1.15
	defaultFeeHistorySize       = 20
	defaultInvariantTolerance   = 0.01
)

// Params tune the capacity state machine and sizing economics. Zero values
// fall back to production defaults.
type Params struct {
	HardReservePct       float64
	BaseDeployCapPct     float64
	MinDeployCapPct      float64
	MaxDeployCapPct      float64
	WarmupInitialCapPct  float64
	ColdStartWarmup      time.Duration
	PostCooldownWarmup   time.Duration
	StressConfidence     float64
	PerPoolMaxPct        float64
	PerPoolMaxPctBear    float64
	MaxSinglePositionPct float64
	MinPositionUSD       float64
	TargetNeutralUSD     float64
	TargetBullUSD        float64
	TargetBearUSD        float64
	FallbackFeeRate      float64
	TargetAmortizeHours  float64
	MaxAmortizeHours     float64
	BearRegimeScale      float64
	BullUnlockedScale    float64
	MinFeeSamples        int
	MinFeeSampleHold     time.Duration
	FeeHistorySize       int
	InvariantTolerance   float64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		HardReservePct:       defaultHardReservePct,
		BaseDeployCapPct:     defaultBaseDeployCapPct,
		MinDeployCapPct:      defaultMinDeployCapPct,
		MaxDeployCapPct:      defaultMaxDeployCapPct,
		WarmupInitialCapPct:  defaultWarmupInitialCapPct,
		ColdStartWarmup:      15 * time.Minute,
		PostCooldownWarmup:   10 * time.Minute,
		StressConfidence:     defaultStressConfidence,
		PerPoolMaxPct:        defaultPerPoolMaxPct,
		PerPoolMaxPctBear:    defaultPerPoolMaxPctBear,
		MaxSinglePositionPct: defaultMaxSinglePositionPct,
		MinPositionUSD:       defaultMinPositionUSD,
		TargetNeutralUSD:     defaultTargetNeutralUSD,
		TargetBullUSD:        defaultTargetBullUSD,
		TargetBearUSD:        defaultTargetBearUSD,
		FallbackFeeRate:      defaultFallbackFeeRate,
		TargetAmortizeHours:  defaultTargetAmortizeHours,
		MaxAmortizeHours:     defaultMaxAmortizeHours,
		BearRegimeScale:      defaultBearRegimeScale,
		BullUnlockedScale:    defaultBullUnlockedScale,
		MinFeeSamples:        2,
		MinFeeSampleHold:     30 * time.Minute,
		FeeHistorySize:       defaultFeeHistorySize,
		InvariantTolerance:   defaultInvariantTolerance,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.HardReservePct <= 0 {
		p.HardReservePct = def.HardReservePct
	}
	if p.BaseDeployCapPct <= 0 {
		p.BaseDeployCapPct = def.BaseDeployCapPct
	}
	if p.MinDeployCapPct <= 0 {
		p.MinDeployCapPct = def.MinDeployCapPct
	}
	if p.MaxDeployCapPct <= 0 {
		p.MaxDeployCapPct = def.MaxDeployCapPct
	}
	if p.WarmupInitialCapPct <= 0 {
		p.WarmupInitialCapPct = def.WarmupInitialCapPct
	}
	if p.ColdStartWarmup <= 0 {
		p.ColdStartWarmup = def.ColdStartWarmup
	}
	if p.PostCooldownWarmup <= 0 {
		p.PostCooldownWarmup = def.PostCooldownWarmup
	}
	if p.StressConfidence <= 0 {
		p.StressConfidence = def.StressConfidence
	}
	if p.PerPoolMaxPct <= 0 {
		p.PerPoolMaxPct = def.PerPoolMaxPct
	}
	if p.PerPoolMaxPctBear <= 0 {
		p.PerPoolMaxPctBear = def.PerPoolMaxPctBear
	}
	if p.MaxSinglePositionPct <= 0 {
		p.MaxSinglePositionPct = def.MaxSinglePositionPct
	}
	if p.MinPositionUSD <= 0 {
		p.MinPositionUSD = def.MinPositionUSD
	}
	if p.TargetNeutralUSD <= 0 {
		p.TargetNeutralUSD = def.TargetNeutralUSD
	}
	if p.TargetBullUSD <= 0 {
		p.TargetBullUSD = def.TargetBullUSD
	}
	if p.TargetBearUSD <= 0 {
		p.TargetBearUSD = def.TargetBearUSD
	}
	if p.FallbackFeeRate <= 0 {
		p.FallbackFeeRate = def.FallbackFeeRate
	}
	if p.TargetAmortizeHours <= 0 {
		p.TargetAmortizeHours = def.TargetAmortizeHours
	}
	if p.MaxAmortizeHours <= 0 {
		p.MaxAmortizeHours = def.MaxAmortizeHours
	}
	if p.BearRegimeScale <= 0 {
		p.BearRegimeScale = def.BearRegimeScale
	}
	if p.BullUnlockedScale <= 0 {
		p.BullUnlockedScale = def.BullUnlockedScale
	}
	if p.MinFeeSamples <= 0 {
		p.MinFeeSamples = def.MinFeeSamples
	}
	if p.MinFeeSampleHold <= 0 {
		p.MinFeeSampleHold = def.MinFeeSampleHold
	}
	if p.FeeHistorySize <= 0 {
		p.FeeHistorySize = def.FeeHistorySize
	}
	if p.InvariantTolerance <= 0 {
		p.InvariantTolerance = def.InvariantTolerance
	}
	return p
}

// State is the authoritative capacity record. Reads outside the manager go
// through Snapshot, which returns a copy.
type State struct {
	DynamicDeployCapPct  float64
	PerPoolMaxPct        float64
	ConfidenceScore      float64
	ConfidenceUnlocked   bool
	IsInWarmup           bool
	WarmupProgress       float64
	WarmupStartTime      time.Time
	IsInCooldown         bool
	CooldownEndTime      time.Time
	PostCooldownWarmup   bool
	Regime               core.Regime
	EquityUSD            decimal.Decimal
	TotalDeployedUSD     decimal.Decimal
	DeployedPct          float64
	ReservePct           float64
	AvailableCapacityPct float64
	LastUpdateTime       time.Time
}

// FeeSample is one observed fee-accrual record for a pool.
type FeeSample struct {
	FeesUSD    decimal.Decimal
	SizeUSD    decimal.Decimal
	HoldTime   time.Duration
	RecordedAt time.Time
}

// CheckResult is the outcome of a capital availability check.
type CheckResult struct {
	Approved           bool
	AdjustedSizeUSD    decimal.Decimal
	Reason             string
	LimitingConstraint string
}

// Manager owns the capacity state, per-pool deployment ledger, and fee
// history. All methods take an explicit clock reading so cycles are
// reproducible under simulated time.
type Manager struct {
	mu              sync.RWMutex
	params          Params
	logger          core.ILogger
	state           State
	poolDeployments map[string]decimal.Decimal
	poolFeeHistory  map[string][]FeeSample
}

// NewManager seeds the capacity state with starting equity. A cold-start
// warmup begins immediately.
func NewManager(params Params, seedEquityUSD decimal.Decimal, logger core.ILogger, now time.Time) *Manager {
	m := &Manager{
		params: params.withDefaults(),
		logger: logger.WithField("component", "capital_manager"),
	}
	m.resetLocked(seedEquityUSD, now)
	m.logger.Info("Capital manager initialized",
		"equity_usd", seedEquityUSD.StringFixed(2),
		"deploy_cap_pct", m.state.DynamicDeployCapPct,
		"reserve_pct", m.params.HardReservePct,
	)
	return m
}

func (m *Manager) resetLocked(equityUSD decimal.Decimal, now time.Time) {
	m.state = State{
		Regime:          core.RegimeNeutral,
		EquityUSD:       equityUSD,
		IsInWarmup:      true,
		WarmupStartTime: now,
		ReservePct:      m.params.HardReservePct,
	}
	m.poolDeployments = make(map[string]decimal.Decimal)
	m.poolFeeHistory = make(map[string][]FeeSample)
	m.recalcLocked(now)
}

// Reset discards all state and restarts from a fresh seed equity, including
// a new cold-start warmup.
func (m *Manager) Reset(equityUSD decimal.Decimal, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(equityUSD, now)
	m.logger.Warn("Capital manager state reset", "equity_usd", equityUSD.StringFixed(2))
}

// recalcLocked re-derives the dynamic cap and all derived fields. It runs
// after every mutation, in cap priority order: cooldown, warmup, unlocked,
// stress, normal.
func (m *Manager) recalcLocked(now time.Time) {
	if m.state.IsInCooldown && !m.state.CooldownEndTime.IsZero() && !now.Before(m.state.CooldownEndTime) {
		m.endCooldownLocked(now)
	}

	if m.state.IsInWarmup {
		duration := m.params.ColdStartWarmup
		if m.state.PostCooldownWarmup {
			duration = m.params.PostCooldownWarmup
		}
		progress := tradingutils.Clamp01(now.Sub(m.state.WarmupStartTime).Seconds() / duration.Seconds())
		m.state.WarmupProgress = progress
		if progress >= 1 {
			m.state.IsInWarmup = false
			m.state.PostCooldownWarmup = false
			m.logger.Info("Warmup complete", "duration", duration.String())
		}
	}

	var target float64
	switch {
	case m.state.IsInCooldown:
		target = m.params.MinDeployCapPct
	case m.state.IsInWarmup:
		target = tradingutils.Lerp(m.params.WarmupInitialCapPct, m.params.BaseDeployCapPct, m.state.WarmupProgress)
	case m.state.ConfidenceUnlocked:
		target = m.params.MaxDeployCapPct
	case m.state.ConfidenceScore < m.params.StressConfidence:
		target = m.params.MinDeployCapPct
	default:
		target = m.params.BaseDeployCapPct
	}

	if m.state.Regime == core.RegimeBear && target > m.params.BaseDeployCapPct {
		target = m.params.BaseDeployCapPct
	}
	if limit := 1 - m.params.HardReservePct; target > limit {
		target = limit
	}
	m.state.DynamicDeployCapPct = target

	m.state.PerPoolMaxPct = m.params.PerPoolMaxPct
	if m.state.Regime == core.RegimeBear {
		m.state.PerPoolMaxPct = m.params.PerPoolMaxPctBear
	}

	m.state.DeployedPct = 0
	if m.state.EquityUSD.IsPositive() {
		m.state.DeployedPct = m.state.TotalDeployedUSD.Div(m.state.EquityUSD).InexactFloat64()
	}
	m.state.ReservePct = m.params.HardReservePct
	m.state.AvailableCapacityPct = m.state.DynamicDeployCapPct - m.state.DeployedPct
	if m.state.AvailableCapacityPct < 0 {
		m.state.AvailableCapacityPct = 0
	}
	m.state.LastUpdateTime = now
}

func (m *Manager) endCooldownLocked(now time.Time) {
	m.state.IsInCooldown = false
	m.state.CooldownEndTime = time.Time{}
	m.state.IsInWarmup = true
	m.state.PostCooldownWarmup = true
	m.state.WarmupStartTime = now
	m.state.WarmupProgress = 0
	m.logger.Info("Cooldown ended, post-cooldown warmup started",
		"warmup_duration", m.params.PostCooldownWarmup.String())
}

// UpdateEquity sets the current account equity.
func (m *Manager) UpdateEquity(equityUSD decimal.Decimal, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.EquityUSD = equityUSD
	m.recalcLocked(now)
}

// UpdateRegime sets the market regime. Invalid values are ignored with a
// warning so a bad upstream reading cannot corrupt the per-pool caps.
func (m *Manager) UpdateRegime(regime core.Regime, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !regime.IsValid() {
		m.logger.Warn("Ignoring invalid regime", "regime", string(regime))
		return
	}
	if regime != m.state.Regime {
		m.logger.Info("Regime updated", "from", string(m.state.Regime), "to", string(regime))
	}
	m.state.Regime = regime
	m.recalcLocked(now)
}

// SetCooldownState activates or clears the externally driven cooldown.
// Clearing an active cooldown starts the post-cooldown warmup ramp.
func (m *Manager) SetCooldownState(active bool, endTime time.Time, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case active && !m.state.IsInCooldown:
		m.state.IsInCooldown = true
		m.state.CooldownEndTime = endTime
		m.state.IsInWarmup = false
		m.state.PostCooldownWarmup = false
		m.logger.Warn("Capital cooldown activated", "end_time", endTime.Format(time.RFC3339))
	case active:
		m.state.CooldownEndTime = endTime
	case m.state.IsInCooldown:
		m.endCooldownLocked(now)
	}
	m.recalcLocked(now)
}

// UpdateConfidence records the latest confidence score and unlock flag.
func (m *Manager) UpdateConfidence(score float64, unlocked bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if unlocked && !m.state.ConfidenceUnlocked {
		m.logger.Info("Confidence unlocked, raising deploy cap",
			"score", score, "max_cap_pct", m.params.MaxDeployCapPct)
	}
	m.state.ConfidenceScore = tradingutils.Clamp01(score)
	m.state.ConfidenceUnlocked = unlocked
	m.recalcLocked(now)
}

// RecordDeployment books a completed entry against the pool's ledger. The
// caller is expected to have passed CheckCapitalAvailability first; the
// invariant check runs afterwards and logs loudly if it did not.
func (m *Manager) RecordDeployment(poolID string, usd decimal.Decimal, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !usd.IsPositive() {
		m.logger.Warn("Ignoring non-positive deployment", "pool", poolID, "usd", usd.StringFixed(2))
		return
	}
	m.poolDeployments[poolID] = m.poolDeployments[poolID].Add(usd)
	m.state.TotalDeployedUSD = m.state.TotalDeployedUSD.Add(usd)
	m.recalcLocked(now)
	m.logger.Info("Deployment recorded",
		"pool", poolID,
		"usd", usd.StringFixed(2),
		"pool_total_usd", m.poolDeployments[poolID].StringFixed(2),
		"deployed_pct", m.state.DeployedPct,
	)
	m.checkInvariantsLocked()
}

// RecordExit books a completed exit, releasing up to the pool's currently
// committed amount.
func (m *Manager) RecordExit(poolID string, usd decimal.Decimal, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.poolDeployments[poolID]
	if !ok {
		m.logger.Warn("Exit recorded for unknown pool", "pool", poolID, "usd", usd.StringFixed(2))
		return
	}
	released := tradingutils.MinDecimal(usd, current)
	remaining := current.Sub(released)
	if remaining.IsPositive() {
		m.poolDeployments[poolID] = remaining
	} else {
		delete(m.poolDeployments, poolID)
	}
	m.state.TotalDeployedUSD = m.state.TotalDeployedUSD.Sub(released)
	if m.state.TotalDeployedUSD.IsNegative() {
		m.state.TotalDeployedUSD = decimal.Zero
	}
	m.recalcLocked(now)
	m.logger.Info("Exit recorded",
		"pool", poolID,
		"usd", released.StringFixed(2),
		"deployed_pct", m.state.DeployedPct,
	)
}

// RecordPoolFeeSample appends an observed fee-accrual sample to the pool's
// bounded history so future sizing uses measured economics.
func (m *Manager) RecordPoolFeeSample(poolID string, feesUSD, sizeUSD decimal.Decimal, holdTime time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := append(m.poolFeeHistory[poolID], FeeSample{
		FeesUSD:    feesUSD,
		SizeUSD:    sizeUSD,
		HoldTime:   holdTime,
		RecordedAt: now,
	})
	if len(samples) > m.params.FeeHistorySize {
		samples = samples[len(samples)-m.params.FeeHistorySize:]
	}
	m.poolFeeHistory[poolID] = samples
}

// CheckCapitalAvailability clamps a requested size to every capacity
// constraint and rejects requests that cannot reach the minimum position
// size. The returned LimitingConstraint names whichever bound clamped the
// request, for diagnostics.
func (m *Manager) CheckCapitalAvailability(poolID string, requestedUSD decimal.Decimal, now time.Time) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recalcLocked(now)

	if m.state.IsInCooldown {
		return CheckResult{
			Reason: fmt.Sprintf("capital manager in cooldown until %s",
				m.state.CooldownEndTime.Format(time.RFC3339)),
			LimitingConstraint: "cooldown",
		}
	}

	equity := m.state.EquityUSD
	deployed := m.state.TotalDeployedUSD
	availableCapacity := tradingutils.PctOf(equity, m.state.DynamicDeployCapPct).Sub(deployed)
	poolRemaining := tradingutils.PctOf(equity, m.state.PerPoolMaxPct).Sub(m.poolDeployments[poolID])
	availableAfterReserve := equity.Sub(tradingutils.PctOf(equity, m.params.HardReservePct)).Sub(deployed)
	maxSingle := tradingutils.PctOf(equity, m.params.MaxSinglePositionPct)

	adjusted := tradingutils.MinDecimal(requestedUSD, availableCapacity, poolRemaining, availableAfterReserve, maxSingle)

	constraint := ""
	if !adjusted.Equal(requestedUSD) {
		switch {
		case adjusted.Equal(availableCapacity):
			constraint = "total_capacity"
		case adjusted.Equal(poolRemaining):
			constraint = "pool_cap"
		case adjusted.Equal(availableAfterReserve):
			constraint = "reserve"
		case adjusted.Equal(maxSingle):
			constraint = "max_single_position"
		}
	}

	minPosition := decimal.NewFromFloat(m.params.MinPositionUSD)
	if adjusted.LessThan(minPosition) {
		reason := fmt.Sprintf("adjusted size $%s below minimum $%s", adjusted.StringFixed(2), minPosition.StringFixed(0))
		if constraint != "" {
			reason = fmt.Sprintf("%s (limited by %s)", reason, constraint)
		}
		return CheckResult{Reason: reason, LimitingConstraint: constraint}
	}

	adjusted = tradingutils.RoundUSD(adjusted)
	reason := "approved"
	if constraint != "" {
		reason = fmt.Sprintf("approved, clamped from $%s by %s", requestedUSD.StringFixed(2), constraint)
	}
	return CheckResult{
		Approved:           true,
		AdjustedSizeUSD:    adjusted,
		Reason:             reason,
		LimitingConstraint: constraint,
	}
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// PoolDeployments returns a copy of the per-pool deployment ledger.
func (m *Manager) PoolDeployments() map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(m.poolDeployments))
	for pool, usd := range m.poolDeployments {
		out[pool] = usd
	}
	return out
}

// PoolDeployment returns the committed USD for one pool.
func (m *Manager) PoolDeployment(poolID string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.poolDeployments[poolID]
}

// LogStatus emits a periodic human-readable status line. No side effects.
func (m *Manager) LogStatus() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.logger.Info("Capital status",
		"equity_usd", m.state.EquityUSD.StringFixed(2),
		"deployed_usd", m.state.TotalDeployedUSD.StringFixed(2),
		"deployed_pct", m.state.DeployedPct,
		"deploy_cap_pct", m.state.DynamicDeployCapPct,
		"per_pool_cap_pct", m.state.PerPoolMaxPct,
		"available_pct", m.state.AvailableCapacityPct,
		"confidence", m.state.ConfidenceScore,
		"unlocked", m.state.ConfidenceUnlocked,
		"regime", string(m.state.Regime),
		"warmup", m.state.IsInWarmup,
		"warmup_progress", m.state.WarmupProgress,
		"cooldown", m.state.IsInCooldown,
		"pools", len(m.poolDeployments),
	)
}
