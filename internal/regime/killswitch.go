package regime

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/telemetry"
)

type switchState int

const (
	switchClosed switchState = iota
	switchOpen
)

// KillSwitchConfig sets the trip thresholds and the cooldown that follows a
// trip. Zero thresholds disable the corresponding trigger.
type KillSwitchConfig struct {
	MaxDrawdownPct       float64
	MaxForcedExitRate    float64
	MinForcedExitSamples int
	Cooldown             time.Duration
}

// DefaultKillSwitchConfig returns the production thresholds.
func DefaultKillSwitchConfig() KillSwitchConfig {
	return KillSwitchConfig{
		MaxDrawdownPct:       0.12,
		MaxForcedExitRate:    0.30,
		MinForcedExitSamples: 5,
		Cooldown:             30 * time.Minute,
	}
}

// KillSwitch trips a global trading cooldown when equity draws down from its
// peak or forced exits spike. Once open it stays open for the configured
// cooldown, then auto-resets with a fresh equity baseline.
type KillSwitch struct {
	mu         sync.RWMutex
	config     KillSwitchConfig
	logger     core.ILogger
	state      switchState
	peakEquity decimal.Decimal
	trippedAt  time.Time
	reason     string
}

func NewKillSwitch(config KillSwitchConfig, logger core.ILogger) *KillSwitch {
	return &KillSwitch{
		config: config,
		logger: logger.WithField("component", "kill_switch"),
		state:  switchClosed,
	}
}

// RecordEquity tracks peak equity and trips on drawdown past the threshold.
func (ks *KillSwitch) RecordEquity(equityUSD decimal.Decimal, now time.Time) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if equityUSD.GreaterThan(ks.peakEquity) {
		ks.peakEquity = equityUSD
	}
	if ks.state == switchOpen || ks.config.MaxDrawdownPct <= 0 || !ks.peakEquity.IsPositive() {
		return
	}

	drawdown := ks.peakEquity.Sub(equityUSD).Div(ks.peakEquity).InexactFloat64()
	if drawdown >= ks.config.MaxDrawdownPct {
		ks.tripLocked(fmt.Sprintf("equity drawdown %.1f%% from peak $%s",
			drawdown*100, ks.peakEquity.StringFixed(2)), now)
	}
}

// RecordForcedExitRate trips when the observed forced-exit rate spikes over
// a statistically meaningful sample.
func (ks *KillSwitch) RecordForcedExitRate(rate float64, samples int, now time.Time) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.state == switchOpen || ks.config.MaxForcedExitRate <= 0 {
		return
	}
	if samples < ks.config.MinForcedExitSamples {
		return
	}
	if rate >= ks.config.MaxForcedExitRate {
		ks.tripLocked(fmt.Sprintf("forced exit rate %.0f%% over %d exits", rate*100, samples), now)
	}
}

// Open trips the switch manually.
func (ks *KillSwitch) Open(reason string, now time.Time) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.state == switchOpen {
		return
	}
	ks.tripLocked(reason, now)
}

func (ks *KillSwitch) tripLocked(reason string, now time.Time) {
	ks.state = switchOpen
	ks.trippedAt = now
	ks.reason = reason
	ks.logger.Error("Kill switch tripped",
		"reason", reason,
		"cooldown", ks.config.Cooldown.String(),
	)
	telemetry.GetGlobalMetrics().SetKillSwitchOpen(true)
}

// IsTripped reports whether the switch is open, auto-resetting once the
// cooldown has elapsed.
func (ks *KillSwitch) IsTripped(now time.Time) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.state != switchOpen {
		return false
	}
	if ks.config.Cooldown > 0 && now.Sub(ks.trippedAt) >= ks.config.Cooldown {
		ks.resetLocked("cooldown elapsed")
		return false
	}
	return true
}

// CooldownEndTime reports when the current trip's cooldown expires. Zero
// when the switch is closed.
func (ks *KillSwitch) CooldownEndTime() time.Time {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.state != switchOpen {
		return time.Time{}
	}
	return ks.trippedAt.Add(ks.config.Cooldown)
}

// Status returns the open flag, trip reason, and cooldown end for reporting.
func (ks *KillSwitch) Status() (open bool, reason string, until time.Time) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.state != switchOpen {
		return false, "", time.Time{}
	}
	return true, ks.reason, ks.trippedAt.Add(ks.config.Cooldown)
}

// Reset closes the switch manually.
func (ks *KillSwitch) Reset() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.resetLocked("manual reset")
}

// resetLocked closes the switch and drops the equity baseline so the next
// reading reseeds the peak instead of immediately re-tripping.
func (ks *KillSwitch) resetLocked(cause string) {
	ks.state = switchClosed
	ks.peakEquity = decimal.Zero
	ks.reason = ""
	ks.logger.Info("Kill switch reset", "cause", cause)
	telemetry.GetGlobalMetrics().SetKillSwitchOpen(false)
}
