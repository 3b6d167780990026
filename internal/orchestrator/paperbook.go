package orchestrator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/capital"
	"lp_sentinel/internal/confidence"
	"lp_sentinel/internal/core"
	"lp_sentinel/internal/reversal"
)

const (
	hoursPerYear = 24 * 365

	// Exit thresholds for simulated positions.
	exitHealthFloor     = 0.35
	hardExitHealthFloor = 0.20
	softExitPatience    = 2
	deadExitAfter       = 2
	exitCooldownSeconds = 90
)

// paperPosition is one simulated deployment.
type paperPosition struct {
	poolID      string
	sizeUSD     decimal.Decimal
	enteredAt   time.Time
	lastAccrual time.Time
	accruedUSD  decimal.Decimal
	deadStreak  int
	softStreak  int
}

// paperBook simulates position fills so the capital manager's ledger and fee
// history work from observed accruals rather than nothing. Entries come from
// approved admission decisions; exits come from the pool's own telemetry
// (death, outflow, health collapse).
type paperBook struct {
	mu      sync.Mutex
	capital *capital.Manager
	guard   *reversal.Guard
	tracker *confidence.Tracker
	logger  core.ILogger

	positions     map[string]*paperPosition
	executedExits int
	forcedExits   int
	realizedUSD   decimal.Decimal
}

func newPaperBook(cap *capital.Manager, guard *reversal.Guard, tracker *confidence.Tracker, logger core.ILogger) *paperBook {
	return &paperBook{
		capital:   cap,
		guard:     guard,
		tracker:   tracker,
		logger:    logger.WithField("component", "paper_book"),
		positions: make(map[string]*paperPosition),
	}
}

// Open records a new simulated deployment.
func (b *paperBook) Open(poolID string, sizeUSD decimal.Decimal, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.capital.RecordDeployment(poolID, sizeUSD, now)
	b.positions[poolID] = &paperPosition{
		poolID:      poolID,
		sizeUSD:     sizeUSD,
		enteredAt:   now,
		lastAccrual: now,
	}
	b.logger.Info("Paper position opened", "pool", poolID, "size_usd", sizeUSD.StringFixed(2))
}

// Has reports whether a pool currently holds a simulated position.
func (b *paperBook) Has(poolID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[poolID]
	return ok
}

// OpenCount reports the number of simulated positions.
func (b *paperBook) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// ExitStats returns cumulative executed and forced exit counts.
func (b *paperBook) ExitStats() (executed, forced int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executedExits, b.forcedExits
}

// PnlUSD returns total realized plus unrealized paper fees.
func (b *paperBook) PnlUSD() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.realizedUSD
	for _, pos := range b.positions {
		total = total.Add(pos.accruedUSD)
	}
	return total
}

// Tick manages every open position against this cycle's snapshots: accrues
// fees, warms the reversal history, and exits positions whose pool died,
// reversed, or decayed. Exit signals confirm over softExitPatience cycles
// before executing; the first trigger is suppressed.
func (b *paperBook) Tick(pools []core.PoolSnapshot, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID := make(map[string]core.PoolSnapshot, len(pools))
	for _, p := range pools {
		byID[p.PoolID] = p
	}

	for poolID, pos := range b.positions {
		snap, seen := byID[poolID]
		if !seen || !snap.Alive {
			pos.deadStreak++
			if pos.deadStreak >= deadExitAfter {
				b.tracker.RecordExitTriggered()
				b.closeLocked(pos, "pool went dark", true, now)
			}
			continue
		}
		pos.deadStreak = 0

		// Accrue paper fees at the pool's advertised APR.
		if hours := now.Sub(pos.lastAccrual).Hours(); hours > 0 {
			fee := pos.sizeUSD.Mul(decimal.NewFromFloat(snap.FeeAPR * hours / hoursPerYear))
			pos.accruedUSD = pos.accruedUSD.Add(fee)
			pos.lastAccrual = now
		}

		b.guard.RecordTick(poolID, snap.State, now)

		if snap.HealthScore < hardExitHealthFloor {
			b.tracker.RecordExitTriggered()
			b.closeLocked(pos, "health collapsed", false, now)
			continue
		}

		outflow := reversal.InferDirection(snap.State.LiquidityFlow) == core.MigrationOut
		decayed := snap.HealthScore < exitHealthFloor
		if !outflow && !decayed {
			pos.softStreak = 0
			continue
		}

		b.tracker.RecordExitTriggered()
		pos.softStreak++
		if pos.softStreak < softExitPatience {
			b.tracker.RecordExitSuppressed()
			b.logger.Debug("Exit signal held",
				"pool", poolID,
				"health", snap.HealthScore,
				"flow", snap.State.LiquidityFlow,
				"streak", pos.softStreak,
			)
			continue
		}

		reason := "liquidity flowing out"
		if decayed {
			reason = "pool health decayed"
		}
		b.closeLocked(pos, reason, false, now)
	}
}

// closeLocked exits one position: capital ledger, fee sample, exit counters,
// and a re-entry cooldown on the pool. Caller holds the lock.
func (b *paperBook) closeLocked(pos *paperPosition, reason string, forced bool, now time.Time) {
	holdTime := now.Sub(pos.enteredAt)

	b.capital.RecordExit(pos.poolID, pos.sizeUSD, now)
	b.capital.RecordPoolFeeSample(pos.poolID, pos.accruedUSD, pos.sizeUSD, holdTime, now)
	b.guard.SetCooldown(pos.poolID, exitCooldownSeconds, reason, now)

	if forced {
		b.forcedExits++
		b.tracker.RecordForcedExit()
	} else {
		b.executedExits++
		b.tracker.RecordExitExecuted()
	}

	b.realizedUSD = b.realizedUSD.Add(pos.accruedUSD)
	delete(b.positions, pos.poolID)
	b.logger.Info("Paper position closed",
		"pool", pos.poolID,
		"reason", reason,
		"forced", forced,
		"size_usd", pos.sizeUSD.StringFixed(2),
		"fees_usd", pos.accruedUSD.StringFixed(4),
		"held", holdTime.String(),
	)
}
