// Package orchestrator drives the scan cycle: collect telemetry, update the
// confidence and regime models, manage the paper book, run candidate pools
// through the admission chain, and fan decisions out to the journal and
// publish sinks.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"lp_sentinel/internal/alert"
	"lp_sentinel/internal/capital"
	"lp_sentinel/internal/collector"
	"lp_sentinel/internal/confidence"
	"lp_sentinel/internal/core"
	"lp_sentinel/internal/journal"
	"lp_sentinel/internal/regime"
	"lp_sentinel/internal/reversal"
	"lp_sentinel/internal/validation"
	"lp_sentinel/pkg/telemetry"
)

// Entry cost model. Per-side fees are flat; slippage scales with how thin the
// pool is relative to a 50k USD reference depth.
const (
	entryFeeUSD       = 0.50
	exitFeeUSD        = 0.50
	slippageBaseUSD   = 0.60
	depthReferenceUSD = 50_000
	maxDepthPenalty   = 4.0
)

// Params tune the scan loop. Zero values fall back to defaults.
type Params struct {
	ScanInterval   time.Duration
	SeedEquityUSD  decimal.Decimal
	StatusLogEvery int // cycles between capital / confidence status dumps
}

func DefaultParams() Params {
	return Params{
		ScanInterval:   30 * time.Second,
		SeedEquityUSD:  decimal.NewFromInt(10_000),
		StatusLogEvery: 10,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.ScanInterval <= 0 {
		p.ScanInterval = def.ScanInterval
	}
	if p.SeedEquityUSD.LessThanOrEqual(decimal.Zero) {
		p.SeedEquityUSD = def.SeedEquityUSD
	}
	if p.StatusLogEvery <= 0 {
		p.StatusLogEvery = def.StatusLogEvery
	}
	return p
}

// Deps bundles the orchestrator's collaborators. Source, Tracker, Capital,
// Guard, Pipeline, Detector, KillSwitch, ChaosGate and Logger are required;
// the rest may be nil.
type Deps struct {
	Source     core.ITelemetrySource
	Tracker    *confidence.Tracker
	Capital    *capital.Manager
	Guard      *reversal.Guard
	Pipeline   *validation.Pipeline
	Detector   *regime.Detector
	KillSwitch *regime.KillSwitch
	ChaosGate  *regime.ChaosGate
	Network    *collector.NetworkMonitor
	Journal    journal.Store
	Sinks      []core.IDecisionSink
	Alerts     *alert.AlertManager
	Metrics    *telemetry.MetricsHolder
	Logger     core.ILogger
}

// Orchestrator owns the scan loop and the paper book. One cycle runs at a
// time; if a cycle overruns the interval, the next tick is skipped and
// counted rather than queued.
type Orchestrator struct {
	params Params
	logger core.ILogger

	source     core.ITelemetrySource
	tracker    *confidence.Tracker
	capital    *capital.Manager
	guard      *reversal.Guard
	pipeline   *validation.Pipeline
	detector   *regime.Detector
	killSwitch *regime.KillSwitch
	chaosGate  *regime.ChaosGate
	network    *collector.NetworkMonitor
	journal    journal.Store
	sinks      []core.IDecisionSink
	alerts     *alert.AlertManager
	metrics    *telemetry.MetricsHolder

	book  *paperBook
	nowFn func() time.Time

	// Lifecycle
	running int32 // atomic; 1 while a cycle is in flight
	wg      sync.WaitGroup

	// Cycle-over-cycle state
	mu            sync.RWMutex
	startedAt     time.Time
	lastCompleted time.Time
	cycleCount    int
	prevPnlUSD    decimal.Decimal
	prevKillOpen  bool
	prevUnlocked  bool
}

func NewOrchestrator(params Params, deps Deps) *Orchestrator {
	o := &Orchestrator{
		params:     params.withDefaults(),
		logger:     deps.Logger.WithField("component", "orchestrator"),
		source:     deps.Source,
		tracker:    deps.Tracker,
		capital:    deps.Capital,
		guard:      deps.Guard,
		pipeline:   deps.Pipeline,
		detector:   deps.Detector,
		killSwitch: deps.KillSwitch,
		chaosGate:  deps.ChaosGate,
		network:    deps.Network,
		journal:    deps.Journal,
		sinks:      deps.Sinks,
		alerts:     deps.Alerts,
		metrics:    deps.Metrics,
		nowFn:      time.Now,
	}
	o.book = newPaperBook(deps.Capital, deps.Guard, deps.Tracker, deps.Logger)
	return o
}

// Run executes scan cycles until the context is cancelled. The first cycle
// starts immediately; subsequent cycles follow the scan interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.startedAt = o.nowFn()
	o.mu.Unlock()

	o.logger.Info("Starting scan loop",
		"source", o.source.Name(),
		"interval", o.params.ScanInterval.String(),
		"seed_equity_usd", o.params.SeedEquityUSD.StringFixed(2),
	)
	o.logPreviousRun(ctx)

	ticker := time.NewTicker(o.params.ScanInterval)
	defer ticker.Stop()

	o.spawnCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.logger.Info("Scan loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.spawnCycle(ctx)
		}
	}
}

// spawnCycle runs one cycle in its own goroutine unless the previous cycle
// is still in flight.
func (o *Orchestrator) spawnCycle(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&o.running, 0, 1) {
		o.logger.Warn("Previous cycle still running, skipping tick")
		if o.metrics != nil && o.metrics.CyclesSkippedTotal != nil {
			o.metrics.CyclesSkippedTotal.Add(ctx, 1)
		}
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer atomic.StoreInt32(&o.running, 0)
		if _, err := o.RunCycle(ctx); err != nil {
			o.logger.Error("Cycle failed", "error", err)
		}
	}()
}

// logPreviousRun surfaces where the journal left off so operators can see
// across restarts.
func (o *Orchestrator) logPreviousRun(ctx context.Context) {
	if o.journal == nil {
		return
	}
	last, err := o.journal.LatestCycle(ctx)
	if err != nil {
		o.logger.Warn("Failed to read journal tail", "error", err)
		return
	}
	if last == nil {
		o.logger.Info("Journal is empty, starting fresh")
		return
	}
	o.logger.Info("Resuming after journaled cycle",
		"cycle_id", last.CycleID,
		"started_at", last.StartedAt.Format(time.RFC3339),
		"regime", string(last.Regime),
		"equity_usd", last.EquityUSD.StringFixed(2),
	)
}

// RunCycle executes one full scan cycle and returns its summary. It is
// exported so integration tests can drive the loop with a simulated clock.
func (o *Orchestrator) RunCycle(ctx context.Context) (core.CycleSummary, error) {
	start := o.nowFn()
	cycleID := uuid.NewString()
	log := o.logger.WithField("cycle_id", cycleID)

	tel, err := o.source.Collect(ctx)
	if err != nil {
		o.tracker.RecordAPIError()
		return core.CycleSummary{}, fmt.Errorf("failed to collect telemetry: %w", err)
	}
	now := o.nowFn()

	// Raw telemetry into this cycle's confidence accumulator.
	o.tracker.RecordRequests(tel.Requests)
	for i := 0; i < tel.RPCErrors; i++ {
		o.tracker.RecordRPCError()
	}
	for i := 0; i < tel.APIErrors; i++ {
		o.tracker.RecordAPIError()
	}
	o.tracker.RecordMarketHealth(tel.Market.MarketHealth)
	o.tracker.RecordAliveRatio(tel.Market.AliveRatio)
	for _, snap := range tel.Pools {
		if snap.Alive && o.book.Has(snap.PoolID) {
			o.tracker.RecordPositionHealth(snap.HealthScore)
		}
	}
	if o.network != nil {
		o.network.Update(tel)
	}

	// Manage open positions before the sample is sealed so exits land in
	// this cycle's counters.
	o.book.Tick(tel.Pools, now)

	pnl := o.book.PnlUSD()
	o.mu.Lock()
	pnlDelta := pnl.Sub(o.prevPnlUSD)
	o.prevPnlUSD = pnl
	o.mu.Unlock()
	o.tracker.RecordPnl(pnlDelta.InexactFloat64())

	o.tracker.CompleteCycle(now)
	inputs := o.tracker.ComputeInputs(now)
	score := confidence.Score(inputs)
	unlock := confidence.CheckUnlock(inputs)

	marketRegime := o.detector.Observe(tel.Market)
	o.chaosGate.Update(tel.Market)

	equity := o.params.SeedEquityUSD.Add(pnl)
	o.capital.UpdateEquity(equity, now)
	o.killSwitch.RecordEquity(equity, now)

	executed, forced := o.book.ExitStats()
	if total := executed + forced; total > 0 {
		o.killSwitch.RecordForcedExitRate(float64(forced)/float64(total), total, now)
	}

	tripped := o.killSwitch.IsTripped(now)
	o.capital.SetCooldownState(tripped, o.killSwitch.CooldownEndTime(), now)
	o.capital.UpdateRegime(marketRegime, now)
	o.capital.UpdateConfidence(score, unlock.Unlocked, now)

	events := o.evaluateCandidates(ctx, log, cycleID, tel.Pools, tripped, marketRegime, score, now)

	o.checkInvariants(ctx, log)
	o.noteTransitions(ctx, log, tripped, unlock)

	capState := o.capital.Snapshot()
	o.publishGauges(tripped, score, unlock.Unlocked, capState, now)

	var entries, blocks, skips int
	for _, ev := range events {
		switch ev.Action {
		case core.ActionEnter:
			entries++
		case core.ActionBlock:
			blocks++
		case core.ActionSkip:
			skips++
		}
	}

	summary := core.CycleSummary{
		CycleID:          cycleID,
		StartedAt:        start,
		DurationMs:       o.nowFn().Sub(start).Milliseconds(),
		PoolsEvaluated:   len(events),
		Entries:          entries,
		Blocks:           blocks,
		Skips:            skips,
		Regime:           marketRegime,
		ConfidenceScore:  score,
		ConfidenceUnlock: unlock.Unlocked,
		DeployCapPct:     capState.DynamicDeployCapPct,
		DeployedPct:      capState.DeployedPct,
		EquityUSD:        equity,
	}

	if o.journal != nil {
		if err := o.journal.SaveCycle(ctx, summary); err != nil {
			log.Error("Failed to journal cycle", "error", err)
		}
	}
	for _, sink := range o.sinks {
		sink.PublishCycle(summary)
	}
	if o.metrics != nil {
		if o.metrics.CyclesTotal != nil {
			o.metrics.CyclesTotal.Add(ctx, 1)
		}
		if o.metrics.CycleDuration != nil {
			o.metrics.CycleDuration.Record(ctx, float64(summary.DurationMs))
		}
	}

	o.mu.Lock()
	o.lastCompleted = o.nowFn()
	o.cycleCount++
	count := o.cycleCount
	o.mu.Unlock()

	log.Info("Cycle complete",
		"duration_ms", summary.DurationMs,
		"pools", summary.PoolsEvaluated,
		"entries", entries,
		"blocks", blocks,
		"skips", skips,
		"positions", o.book.OpenCount(),
		"regime", string(marketRegime),
		"confidence", fmt.Sprintf("%.1f", score),
		"deployed_pct", fmt.Sprintf("%.3f", capState.DeployedPct),
	)
	if count%o.params.StatusLogEvery == 0 {
		o.capital.LogStatus()
		o.tracker.LogBreakdown(inputs, score, unlock)
	}

	return summary, nil
}

// evaluateCandidates runs every alive pool without an open position through
// the admission chain and emits one decision event per candidate. When the
// kill switch is open no candidates are evaluated; pool tick history is still
// warmed so the reversal guard has data once trading resumes.
func (o *Orchestrator) evaluateCandidates(
	ctx context.Context,
	log core.ILogger,
	cycleID string,
	pools []core.PoolSnapshot,
	killOpen bool,
	marketRegime core.Regime,
	score float64,
	now time.Time,
) []core.DecisionEvent {
	if killOpen {
		for _, snap := range pools {
			if snap.Alive && !o.book.Has(snap.PoolID) {
				o.guard.RecordTick(snap.PoolID, snap.State, now)
			}
		}
		log.Warn("Kill switch open, admission paused")
		return nil
	}

	var events []core.DecisionEvent
	for _, snap := range pools {
		if !snap.Alive || o.book.Has(snap.PoolID) {
			continue
		}

		ev := core.DecisionEvent{
			CycleID:         cycleID,
			PoolID:          snap.PoolID,
			Timestamp:       now,
			Regime:          marketRegime,
			ConfidenceScore: score,
		}

		res := o.pipeline.Validate(snap.PoolID, snap.State, now)
		if !res.CanEnter {
			ev.Action = core.ActionBlock
			ev.Reason = res.Reason
			ev.CooldownSeconds = res.CooldownSeconds
			o.emitDecision(ctx, log, ev, failedStage(res))
			events = append(events, ev)
			continue
		}
		ev.FinalMultiplier = res.FinalMultiplier

		sizing := o.capital.ComputePositionSize(snap.PoolID, estimateEntryCosts(snap), now)
		if sizing.SkipEntry {
			ev.Action = core.ActionSkip
			ev.Reason = sizing.Reason
			o.emitDecision(ctx, log, ev, "")
			events = append(events, ev)
			continue
		}

		check := o.capital.CheckCapitalAvailability(snap.PoolID, sizing.RecommendedSizeUSD, now)
		if !check.Approved {
			ev.Action = core.ActionSkip
			ev.Reason = fmt.Sprintf("capital unavailable (%s): %s", check.LimitingConstraint, check.Reason)
			o.emitDecision(ctx, log, ev, "")
			events = append(events, ev)
			continue
		}

		o.book.Open(snap.PoolID, check.AdjustedSizeUSD, now)
		ev.Action = core.ActionEnter
		ev.Reason = sizing.Reason
		ev.SizeUSD = check.AdjustedSizeUSD
		ev.ProbeMode = sizing.IsProbeMode
		o.emitDecision(ctx, log, ev, "")
		events = append(events, ev)
	}
	return events
}

// emitDecision journals, publishes and counts one decision event.
func (o *Orchestrator) emitDecision(ctx context.Context, log core.ILogger, ev core.DecisionEvent, blockedStage string) {
	log.Info("Decision",
		"pool", ev.PoolID,
		"action", string(ev.Action),
		"reason", ev.Reason,
		"size_usd", ev.SizeUSD.StringFixed(2),
		"probe", ev.ProbeMode,
	)

	if o.journal != nil {
		if err := o.journal.SaveDecision(ctx, ev); err != nil {
			log.Error("Failed to journal decision", "pool", ev.PoolID, "error", err)
		}
	}
	for _, sink := range o.sinks {
		sink.PublishDecision(ev)
	}

	if o.metrics == nil {
		return
	}
	if o.metrics.DecisionsTotal != nil {
		o.metrics.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(ev.Action))))
	}
	if ev.Action == core.ActionBlock && blockedStage != "" && o.metrics.BlocksTotal != nil {
		o.metrics.BlocksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", blockedStage)))
	}
	if ev.Action == core.ActionEnter && o.metrics.PositionSizeUSD != nil {
		o.metrics.PositionSizeUSD.Record(ctx, ev.SizeUSD.InexactFloat64())
	}
}

// checkInvariants audits the capital ledger and escalates any violation.
func (o *Orchestrator) checkInvariants(ctx context.Context, log core.ILogger) {
	violations := o.capital.AssertCapitalInvariants()
	if len(violations) == 0 {
		return
	}
	for _, v := range violations {
		log.Error("Capital invariant violated", "check", v.Check, "detail", v.Detail)
		if o.metrics != nil && o.metrics.InvariantViolationsTotal != nil {
			o.metrics.InvariantViolationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("check", v.Check)))
		}
		if o.alerts != nil {
			o.alerts.Alert(ctx, "Capital invariant violated", v.Detail, alert.Critical,
				map[string]string{"check": v.Check})
		}
	}
}

// noteTransitions raises alerts on kill-switch and unlock edges. Steady
// states are silent; regime edges are logged and counted by the detector.
func (o *Orchestrator) noteTransitions(ctx context.Context, log core.ILogger, killOpen bool, unlock confidence.UnlockStatus) {
	o.mu.Lock()
	prevKill := o.prevKillOpen
	prevUnlock := o.prevUnlocked
	o.prevKillOpen = killOpen
	o.prevUnlocked = unlock.Unlocked
	o.mu.Unlock()

	if killOpen != prevKill {
		if killOpen {
			_, reason, until := o.killSwitch.Status()
			log.Error("Kill switch tripped", "reason", reason, "until", until.Format(time.RFC3339))
			if o.alerts != nil {
				o.alerts.Alert(ctx, "Kill switch tripped", reason, alert.Critical,
					map[string]string{"until": until.Format(time.RFC3339)})
			}
		} else {
			log.Info("Kill switch cleared, admission resumes")
			if o.alerts != nil {
				o.alerts.Alert(ctx, "Kill switch cleared", "admission resumes under post-cooldown warmup", alert.Info, nil)
			}
		}
	}

	if unlock.Unlocked != prevUnlock {
		if unlock.Unlocked {
			log.Info("Confidence unlocked, deploy cap raised")
			if o.alerts != nil {
				o.alerts.Alert(ctx, "Confidence unlocked", "all unlock conditions met", alert.Info, nil)
			}
		} else {
			log.Warn("Confidence relocked", "failed_conditions", unlock.FailedConditions)
			if o.alerts != nil {
				o.alerts.Alert(ctx, "Confidence relocked", fmt.Sprintf("failed: %v", unlock.FailedConditions), alert.Warning, nil)
			}
		}
	}
}

// publishGauges pushes the cycle's end state into the observable metrics.
// Pools no longer carrying a deployment are zeroed out so the gauge does not
// report stale series.
func (o *Orchestrator) publishGauges(killOpen bool, score float64, unlocked bool, capState capital.State, now time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.SetConfidence(score, unlocked)
	o.metrics.SetDeployCapPct(capState.DynamicDeployCapPct)
	o.metrics.SetDeployedPct(capState.DeployedPct)
	o.metrics.SetKillSwitchOpen(killOpen)
	o.metrics.SetReversalCooldowns(int64(o.guard.ActiveCooldowns(now)))

	current := o.capital.PoolDeployments()
	for pool := range o.metrics.GetPoolDeployments() {
		if _, ok := current[pool]; !ok {
			o.metrics.SetPoolDeployment(pool, 0)
		}
	}
	for pool, usd := range current {
		o.metrics.SetPoolDeployment(pool, usd.InexactFloat64())
	}
}

// CheckHealth reports whether the loop is making progress. It fails once no
// cycle has completed within three scan intervals.
func (o *Orchestrator) CheckHealth() error {
	o.mu.RLock()
	last := o.lastCompleted
	if last.IsZero() {
		last = o.startedAt
	}
	o.mu.RUnlock()

	if last.IsZero() {
		return fmt.Errorf("scan loop not started")
	}
	if age := o.nowFn().Sub(last); age > 3*o.params.ScanInterval {
		return fmt.Errorf("no completed cycle in %s", age.Round(time.Second))
	}
	return nil
}

// OpenPositions reports the current paper position count.
func (o *Orchestrator) OpenPositions() int {
	return o.book.OpenCount()
}

// failedStage returns the name of the first failing pipeline check.
func failedStage(res validation.Result) string {
	for _, c := range res.Checks {
		if !c.Passed {
			return c.Name
		}
	}
	return ""
}

// estimateEntryCosts derives round-trip execution costs from pool depth.
// Thin pools pay a larger slippage penalty, up to maxDepthPenalty for pools
// under a quarter of the reference depth.
func estimateEntryCosts(snap core.PoolSnapshot) capital.EntryCosts {
	liq := snap.LiquidityUSD.InexactFloat64()
	penalty := maxDepthPenalty
	if liq > 0 {
		penalty = depthReferenceUSD / liq
		if penalty < 1 {
			penalty = 1
		}
		if penalty > maxDepthPenalty {
			penalty = maxDepthPenalty
		}
	}
	return capital.EntryCosts{
		EntryFeeUSD: decimal.NewFromFloat(entryFeeUSD),
		ExitFeeUSD:  decimal.NewFromFloat(exitFeeUSD),
		SlippageUSD: decimal.NewFromFloat(slippageBaseUSD * penalty),
	}
}
