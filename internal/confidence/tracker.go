// Package confidence turns recent operational telemetry into a trust score
// that gates the capital manager's deployment caps.
package confidence

import (
	"math"
	"sync"
	"time"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/tradingutils"
)

// Params bound the rolling sample history.
type Params struct {
	Window     time.Duration
	MaxSamples int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		Window:     45 * time.Minute,
		MaxSamples: 360,
	}
}

// Inputs is the aggregated view of the rolling history that the score and
// unlock checks consume.
type Inputs struct {
	ExitSuppressionRate float64 // [0,1]
	ForcedExitRate      float64 // [0,1]
	AvgHealthScore      float64 // [0,1]
	PnlStabilityInverse float64 // [0,1]
	MarketHealth        float64 // [0,100]
	AliveRatio          float64 // [0,1]
	DataQuality         float64 // [0,1]
	SampleCount         int
	Window              time.Duration
}

// accumulator collects one cycle's worth of raw telemetry before it is
// snapshotted into the sample history.
type accumulator struct {
	exitTriggered  int
	exitSuppressed int
	exitExecuted   int
	forcedExits    int
	healthScores   []float64
	pnlSamples     []float64
	marketHealth   []float64
	aliveRatios    []float64
	rpcErrors      int
	apiErrors      int
	requests       int
}

func (a *accumulator) reset() {
	*a = accumulator{}
}

// sample is one completed cycle, pruned out of the history once it falls
// outside the rolling window.
type sample struct {
	takenAt         time.Time
	exitTriggered   int
	exitSuppressed  int
	exitExecuted    int
	forcedExits     int
	healthSum       float64
	healthCount     int
	pnlSamples      []float64
	marketHealth    float64
	hasMarketHealth bool
	aliveRatio      float64
	hasAliveRatio   bool
	rpcErrors       int
	apiErrors       int
	requests        int
}

// Tracker owns the per-cycle accumulator and the rolling sample history.
// Mutating calls must come from the single decision cycle; the read side
// (status endpoints) may run concurrently.
type Tracker struct {
	mu      sync.RWMutex
	params  Params
	logger  core.ILogger
	acc     accumulator
	samples []sample
}

func NewTracker(params Params, logger core.ILogger) *Tracker {
	if params.Window <= 0 {
		params.Window = DefaultParams().Window
	}
	if params.MaxSamples <= 0 {
		params.MaxSamples = DefaultParams().MaxSamples
	}
	return &Tracker{
		params: params,
		logger: logger.WithField("component", "confidence"),
	}
}

// RecordExitTriggered counts an exit signal raised by position monitoring.
func (t *Tracker) RecordExitTriggered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.exitTriggered++
}

// RecordExitSuppressed counts an exit signal that was evaluated and held.
func (t *Tracker) RecordExitSuppressed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.exitSuppressed++
}

// RecordExitExecuted counts an exit that went through normally.
func (t *Tracker) RecordExitExecuted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.exitExecuted++
}

// RecordForcedExit counts an exit forced by a guard rather than strategy.
func (t *Tracker) RecordForcedExit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.forcedExits++
}

// RecordPositionHealth records one position's health score in [0,1].
func (t *Tracker) RecordPositionHealth(score float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.healthScores = append(t.acc.healthScores, tradingutils.Clamp01(score))
}

// RecordPnl records an unrealized PnL observation in USD.
func (t *Tracker) RecordPnl(value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.pnlSamples = append(t.acc.pnlSamples, value)
}

// RecordMarketHealth records the externally supplied market health in [0,100].
func (t *Tracker) RecordMarketHealth(health float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.marketHealth = append(t.acc.marketHealth, tradingutils.Clamp(health, 0, 100))
}

// RecordAliveRatio records the fraction of tracked pools alive in [0,1].
func (t *Tracker) RecordAliveRatio(ratio float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.aliveRatios = append(t.acc.aliveRatios, tradingutils.Clamp01(ratio))
}

// RecordRPCError counts one failed RPC call.
func (t *Tracker) RecordRPCError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.rpcErrors++
}

// RecordAPIError counts one failed API call.
func (t *Tracker) RecordAPIError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.apiErrors++
}

// RecordRequests counts telemetry requests attempted this cycle.
func (t *Tracker) RecordRequests(count int) {
	if count <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.requests += count
}

// CompleteCycle snapshots the accumulator into the rolling history, prunes
// samples outside the window, and resets the accumulator. Call exactly once
// per decision cycle, before computing inputs for that cycle.
func (t *Tracker) CompleteCycle(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{
		takenAt:        now,
		exitTriggered:  t.acc.exitTriggered,
		exitSuppressed: t.acc.exitSuppressed,
		exitExecuted:   t.acc.exitExecuted,
		forcedExits:    t.acc.forcedExits,
		healthCount:    len(t.acc.healthScores),
		rpcErrors:      t.acc.rpcErrors,
		apiErrors:      t.acc.apiErrors,
		requests:       t.acc.requests,
	}
	for _, h := range t.acc.healthScores {
		s.healthSum += h
	}
	if len(t.acc.pnlSamples) > 0 {
		s.pnlSamples = append([]float64(nil), t.acc.pnlSamples...)
	}
	if len(t.acc.marketHealth) > 0 {
		s.marketHealth = mean(t.acc.marketHealth)
		s.hasMarketHealth = true
	}
	if len(t.acc.aliveRatios) > 0 {
		s.aliveRatio = mean(t.acc.aliveRatios)
		s.hasAliveRatio = true
	}

	t.samples = append(t.samples, s)
	t.pruneLocked(now, t.params.Window)
	t.acc.reset()
}

// pruneLocked drops samples older than the window and enforces the sample
// cap. Caller holds the write lock.
func (t *Tracker) pruneLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	firstKept := 0
	for firstKept < len(t.samples) && t.samples[firstKept].takenAt.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		t.samples = append(t.samples[:0], t.samples[firstKept:]...)
	}
	if extra := len(t.samples) - t.params.MaxSamples; extra > 0 {
		t.samples = append(t.samples[:0], t.samples[extra:]...)
	}
}

// SampleCount reports how many completed cycles are in the history.
func (t *Tracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Reset clears the history and the accumulator.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = nil
	t.acc.reset()
}

// ComputeInputs aggregates the in-window history into confidence inputs
// using the configured window.
func (t *Tracker) ComputeInputs(now time.Time) Inputs {
	return t.ComputeInputsWindow(now, t.params.Window)
}

// ComputeInputsWindow aggregates the history over an explicit window.
// Missing data always degrades to the documented neutral defaults.
func (t *Tracker) ComputeInputsWindow(now time.Time, window time.Duration) Inputs {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := now.Add(-window)
	in := Inputs{Window: window}

	var (
		triggered, suppressed, executed, forced int
		healthSum                               float64
		healthCount                             int
		pnl                                     []float64
		marketHealthSum                         float64
		marketHealthCount                       int
		aliveSum                                float64
		aliveCount                              int
		rpcErrors, apiErrors, requests          int
	)

	for _, s := range t.samples {
		if s.takenAt.Before(cutoff) {
			continue
		}
		in.SampleCount++
		triggered += s.exitTriggered
		suppressed += s.exitSuppressed
		executed += s.exitExecuted
		forced += s.forcedExits
		healthSum += s.healthSum
		healthCount += s.healthCount
		pnl = append(pnl, s.pnlSamples...)
		if s.hasMarketHealth {
			marketHealthSum += s.marketHealth
			marketHealthCount++
		}
		if s.hasAliveRatio {
			aliveSum += s.aliveRatio
			aliveCount++
		}
		rpcErrors += s.rpcErrors
		apiErrors += s.apiErrors
		requests += s.requests
	}

	// Absence of churn is good, not neutral: no triggered exits scores 0.8.
	if triggered > 0 {
		in.ExitSuppressionRate = tradingutils.Clamp01(float64(suppressed) / float64(triggered))
	} else {
		in.ExitSuppressionRate = 0.8
	}

	if executed+forced > 0 {
		in.ForcedExitRate = float64(forced) / float64(executed+forced)
	} else {
		in.ForcedExitRate = 0
	}

	if healthCount > 0 {
		in.AvgHealthScore = healthSum / float64(healthCount)
	} else {
		in.AvgHealthScore = 0.5
	}

	if len(pnl) >= 3 {
		in.PnlStabilityInverse = 1 - min1(stddev(pnl)/100)
	} else {
		in.PnlStabilityInverse = 0.5
	}

	if marketHealthCount > 0 {
		in.MarketHealth = marketHealthSum / float64(marketHealthCount)
	} else {
		in.MarketHealth = 50
	}

	if aliveCount > 0 {
		in.AliveRatio = aliveSum / float64(aliveCount)
	} else {
		in.AliveRatio = 0.5
	}

	if requests > 0 {
		errRate := float64(rpcErrors+apiErrors) / float64(requests)
		if q := 1 - errRate; q > 0 {
			in.DataQuality = q
		} else {
			in.DataQuality = 0
		}
	} else {
		in.DataQuality = 0.9
	}

	return in
}

// LogBreakdown emits a human-readable snapshot of the current confidence
// inputs. No behavioral side effects.
func (t *Tracker) LogBreakdown(in Inputs, score float64, unlock UnlockStatus) {
	t.logger.Info("Confidence breakdown",
		"score", score,
		"unlocked", unlock.Unlocked,
		"failed_conditions", unlock.FailedConditions,
		"exit_suppression_rate", in.ExitSuppressionRate,
		"forced_exit_rate", in.ForcedExitRate,
		"avg_health_score", in.AvgHealthScore,
		"pnl_stability_inverse", in.PnlStabilityInverse,
		"market_health", in.MarketHealth,
		"alive_ratio", in.AliveRatio,
		"data_quality", in.DataQuality,
		"samples", in.SampleCount,
		"window", in.Window.String(),
	)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	variance := 0.0
	for _, x := range xs {
		d := x - m
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
