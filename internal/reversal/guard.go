// Package reversal tracks per-pool migration history and blocks entries made
// at the exact moment a liquidity trend reverses.
package reversal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"lp_sentinel/internal/core"
)

// Params tune the detector windows and cooldowns.
type Params struct {
	MaxTicks               int
	RecentTickCount        int
	MinHistoricalTicks     int
	MaxHistoricalTicks     int
	MinSustainedMigrations int
	CooldownSeconds        int
	MaxCooldownSeconds     int
	EntropyChangeThreshold float64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MaxTicks:               50,
		RecentTickCount:        3,
		MinHistoricalTicks:     5,
		MaxHistoricalTicks:     10,
		MinSustainedMigrations: 3,
		CooldownSeconds:        60,
		MaxCooldownSeconds:     120,
		EntropyChangeThreshold: 0.15,
	}
}

// Tick is one observed migration sample for a pool.
type Tick struct {
	Timestamp     time.Time
	Direction     core.MigrationDirection
	Entropy       float64
	LiquidityFlow float64
	Velocity      float64
}

// Result is the outcome of one reversal evaluation.
type Result struct {
	Blocked             bool
	Reason              string
	CooldownSeconds     int
	SustainedCount      int
	RecentDirection     core.MigrationDirection
	HistoricalDirection core.MigrationDirection
}

type cooldownRecord struct {
	startedAt time.Time
	duration  time.Duration
	reason    string
}

// Guard owns per-pool tick history and cooldown records. Cooldowns and
// history are independent of all other components and survive across cycles
// until they expire naturally or are cleared.
type Guard struct {
	mu        sync.RWMutex
	params    Params
	logger    core.ILogger
	history   map[string][]Tick
	cooldowns map[string]cooldownRecord
}

func NewGuard(params Params, logger core.ILogger) *Guard {
	def := DefaultParams()
	if params.MaxTicks <= 0 {
		params.MaxTicks = def.MaxTicks
	}
	if params.RecentTickCount <= 0 {
		params.RecentTickCount = def.RecentTickCount
	}
	if params.MinHistoricalTicks <= 0 {
		params.MinHistoricalTicks = def.MinHistoricalTicks
	}
	if params.MaxHistoricalTicks <= 0 {
		params.MaxHistoricalTicks = def.MaxHistoricalTicks
	}
	if params.MinSustainedMigrations <= 0 {
		params.MinSustainedMigrations = def.MinSustainedMigrations
	}
	if params.CooldownSeconds <= 0 {
		params.CooldownSeconds = def.CooldownSeconds
	}
	if params.MaxCooldownSeconds <= 0 {
		params.MaxCooldownSeconds = def.MaxCooldownSeconds
	}
	if params.EntropyChangeThreshold <= 0 {
		params.EntropyChangeThreshold = def.EntropyChangeThreshold
	}
	return &Guard{
		params:    params,
		logger:    logger.WithField("component", "reversal_guard"),
		history:   make(map[string][]Tick),
		cooldowns: make(map[string]cooldownRecord),
	}
}

// InferDirection maps a liquidity flow reading to a migration direction.
func InferDirection(liquidityFlow float64) core.MigrationDirection {
	switch {
	case liquidityFlow >= 0.6:
		return core.MigrationIn
	case liquidityFlow <= 0.4:
		return core.MigrationOut
	default:
		return core.MigrationNeutral
	}
}

// RecordTick appends a tick without evaluating it, inferring the direction
// from the liquidity flow. Used to warm history for pools that are observed
// but not candidates this cycle.
func (g *Guard) RecordTick(poolID string, state core.TradingState, now time.Time) {
	g.RecordDirectedTick(poolID, state, InferDirection(state.LiquidityFlow), now)
}

// RecordDirectedTick appends a tick with an explicitly supplied direction.
func (g *Guard) RecordDirectedTick(poolID string, state core.TradingState, dir core.MigrationDirection, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.appendTickLocked(poolID, Tick{
		Timestamp:     now,
		Direction:     dir,
		Entropy:       state.Entropy,
		LiquidityFlow: state.LiquidityFlow,
		Velocity:      state.Velocity,
	})
}

func (g *Guard) appendTickLocked(poolID string, tick Tick) {
	ticks := append(g.history[poolID], tick)
	if len(ticks) > g.params.MaxTicks {
		ticks = ticks[len(ticks)-g.params.MaxTicks:]
	}
	g.history[poolID] = ticks
}

// DetectReversal records the current tick and evaluates the pool's
// migration history. A blocked result with CooldownSeconds > 0 means the
// caller should expect the pool to stay blocked for that long.
func (g *Guard) DetectReversal(poolID string, state core.TradingState, now time.Time) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	// 1. Active cooldown blocks immediately, before the tick is recorded.
	if rec, ok := g.cooldowns[poolID]; ok {
		elapsed := now.Sub(rec.startedAt)
		if elapsed < rec.duration {
			remaining := int(math.Ceil((rec.duration - elapsed).Seconds()))
			return Result{
				Blocked:         true,
				Reason:          fmt.Sprintf("pool in reversal cooldown (%ds remaining): %s", remaining, rec.reason),
				CooldownSeconds: remaining,
			}
		}
		delete(g.cooldowns, poolID)
	}

	// 2. Record the current tick.
	g.appendTickLocked(poolID, Tick{
		Timestamp:     now,
		Direction:     InferDirection(state.LiquidityFlow),
		Entropy:       state.Entropy,
		LiquidityFlow: state.LiquidityFlow,
		Velocity:      state.Velocity,
	})
	ticks := g.history[poolID]

	// 3. Direction flip between the recent and historical windows.
	recentLen := g.params.RecentTickCount
	if recentLen > len(ticks) {
		recentLen = len(ticks)
	}
	recent := ticks[len(ticks)-recentLen:]
	recentDir := dominantDirection(recent)

	histEnd := len(ticks) - recentLen
	histStart := histEnd - g.params.MaxHistoricalTicks
	if histStart < 0 {
		histStart = 0
	}
	historical := ticks[histStart:histEnd]
	historicalDir := core.MigrationNeutral
	if len(historical) >= g.params.MinHistoricalTicks {
		historicalDir = dominantDirection(historical)

		if isFlip(recentDir, historicalDir) {
			seconds := g.setCooldownLocked(poolID, g.params.CooldownSeconds,
				fmt.Sprintf("migration flipped %s -> %s", historicalDir, recentDir), now)
			g.logger.Warn("Migration reversal detected",
				"pool", poolID,
				"historical", historicalDir,
				"recent", recentDir,
				"cooldown_seconds", seconds,
			)
			return Result{
				Blocked:             true,
				Reason:              fmt.Sprintf("migration direction flipped %s -> %s", historicalDir, recentDir),
				CooldownSeconds:     seconds,
				RecentDirection:     recentDir,
				HistoricalDirection: historicalDir,
			}
		}
	}

	// 4. Sustained run ending at the newest tick.
	newestDir := ticks[len(ticks)-1].Direction
	sustained := 0
	for i := len(ticks) - 1; i >= 0 && ticks[i].Direction == newestDir; i-- {
		sustained++
	}

	switch newestDir {
	case core.MigrationOut:
		return Result{
			Blocked:             true,
			Reason:              "sustained outward migration, not an entry signal",
			SustainedCount:      sustained,
			RecentDirection:     recentDir,
			HistoricalDirection: historicalDir,
		}
	case core.MigrationNeutral:
		return Result{
			Blocked:             true,
			Reason:              "no inward migration signal",
			SustainedCount:      sustained,
			RecentDirection:     recentDir,
			HistoricalDirection: historicalDir,
		}
	}

	if sustained < g.params.MinSustainedMigrations {
		return Result{
			Blocked:             true,
			Reason:              fmt.Sprintf("insufficient migration confirmation (%d/%d)", sustained, g.params.MinSustainedMigrations),
			SustainedCount:      sustained,
			RecentDirection:     recentDir,
			HistoricalDirection: historicalDir,
		}
	}

	// 5. Entropy instability across the recent window. Less severe than a
	// confirmed reversal, so the cooldown is halved.
	first := recent[0].Entropy
	last := recent[len(recent)-1].Entropy
	if entropyUnstable(first, last, g.params.EntropyChangeThreshold) {
		seconds := g.setCooldownLocked(poolID, g.params.CooldownSeconds/2,
			fmt.Sprintf("entropy shifted %.2f -> %.2f", first, last), now)
		return Result{
			Blocked:             true,
			Reason:              fmt.Sprintf("entropy instability (%.2f -> %.2f)", first, last),
			CooldownSeconds:     seconds,
			SustainedCount:      sustained,
			RecentDirection:     recentDir,
			HistoricalDirection: historicalDir,
		}
	}

	// 6. Confirmed inward migration.
	return Result{
		Reason:              fmt.Sprintf("sustained inward migration (%d ticks)", sustained),
		SustainedCount:      sustained,
		RecentDirection:     recentDir,
		HistoricalDirection: historicalDir,
	}
}

// SetCooldown places a pool in cooldown, capping the duration at the
// configured maximum. Returns the applied duration in seconds.
func (g *Guard) SetCooldown(poolID string, seconds int, reason string, now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setCooldownLocked(poolID, seconds, reason, now)
}

func (g *Guard) setCooldownLocked(poolID string, seconds int, reason string, now time.Time) int {
	if seconds > g.params.MaxCooldownSeconds {
		seconds = g.params.MaxCooldownSeconds
	}
	if seconds < 1 {
		seconds = 1
	}
	g.cooldowns[poolID] = cooldownRecord{
		startedAt: now,
		duration:  time.Duration(seconds) * time.Second,
		reason:    reason,
	}
	return seconds
}

// IsInCooldown reports whether a pool is cooling down and the remaining
// time. Expired records are evicted on read.
func (g *Guard) IsInCooldown(poolID string, now time.Time) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.cooldowns[poolID]
	if !ok {
		return false, 0
	}
	elapsed := now.Sub(rec.startedAt)
	if elapsed >= rec.duration {
		delete(g.cooldowns, poolID)
		return false, 0
	}
	return true, rec.duration - elapsed
}

// ClearCooldown removes a pool's cooldown record.
func (g *Guard) ClearCooldown(poolID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cooldowns, poolID)
}

// ActiveCooldowns counts pools currently cooling down, evicting expired
// records along the way.
func (g *Guard) ActiveCooldowns(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for pool, rec := range g.cooldowns {
		if now.Sub(rec.startedAt) >= rec.duration {
			delete(g.cooldowns, pool)
			continue
		}
		count++
	}
	return count
}

// HistoryLength reports how many ticks are recorded for a pool.
func (g *Guard) HistoryLength(poolID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.history[poolID])
}

// Reset drops all history and cooldowns.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = make(map[string][]Tick)
	g.cooldowns = make(map[string]cooldownRecord)
}

// dominantDirection returns the plurality direction of a tick slice, or
// neutral when there is no clear winner.
func dominantDirection(ticks []Tick) core.MigrationDirection {
	var in, out, neutral int
	for _, t := range ticks {
		switch t.Direction {
		case core.MigrationIn:
			in++
		case core.MigrationOut:
			out++
		default:
			neutral++
		}
	}
	if in > out && in > neutral {
		return core.MigrationIn
	}
	if out > in && out > neutral {
		return core.MigrationOut
	}
	return core.MigrationNeutral
}

func isFlip(recent, historical core.MigrationDirection) bool {
	return (recent == core.MigrationIn && historical == core.MigrationOut) ||
		(recent == core.MigrationOut && historical == core.MigrationIn)
}

// entropyUnstable reports whether entropy moved more than the threshold
// fraction between two readings.
func entropyUnstable(first, last, threshold float64) bool {
	if first == 0 {
		return last != 0
	}
	return math.Abs(last-first)/math.Abs(first) > threshold
}
