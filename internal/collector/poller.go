// Package collector produces the per-cycle telemetry the orchestrator feeds
// the admission stack: a scripted synthetic source for development and tests,
// an HTTP poller for indexer APIs, and a WebSocket stream cache the poller
// falls back on when a per-pool fetch fails.
package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/concurrency"
	apperrors "lp_sentinel/pkg/errors"
	apphttp "lp_sentinel/pkg/http"
)

// poolPayload is the indexer wire format for one pool snapshot.
type poolPayload struct {
	PoolID              string          `json:"pool_id"`
	Pair                string          `json:"pair"`
	LiquidityUSD        decimal.Decimal `json:"liquidity_usd"`
	VolumeUSD           decimal.Decimal `json:"volume_24h_usd"`
	FeeAPR              float64         `json:"fee_apr"`
	HealthScore         float64         `json:"health_score"`
	Entropy             float64         `json:"entropy"`
	LiquidityFlow       float64         `json:"liquidity_flow"`
	MigrationConfidence float64         `json:"migration_confidence"`
	Consistency         float64         `json:"consistency"`
	Velocity            float64         `json:"velocity"`
}

func (p poolPayload) snapshot(observedAt time.Time) core.PoolSnapshot {
	state := core.TradingState{
		Entropy:             p.Entropy,
		LiquidityFlow:       p.LiquidityFlow,
		MigrationConfidence: p.MigrationConfidence,
		Consistency:         p.Consistency,
		Velocity:            p.Velocity,
		ExecutionQuality:    1,
	}
	return core.PoolSnapshot{
		PoolID:       p.PoolID,
		Pair:         p.Pair,
		LiquidityUSD: p.LiquidityUSD,
		VolumeUSD:    p.VolumeUSD,
		FeeAPR:       p.FeeAPR,
		HealthScore:  clampUnit(p.HealthScore),
		Alive:        true,
		State:        state.Clamped(),
		ObservedAt:   observedAt,
	}
}

// marketPayload is the indexer wire format for the market-wide summary.
type marketPayload struct {
	MarketHealth  float64         `json:"market_health"`
	EquityUSD     decimal.Decimal `json:"equity_usd"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
}

// PollerConfig names the indexer endpoints and the pools to scan.
type PollerConfig struct {
	PoolIDs    []string
	MarketPath string
	PoolPath   string
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.MarketPath == "" {
		c.MarketPath = "/v1/market"
	}
	if c.PoolPath == "" {
		c.PoolPath = "/v1/pools"
	}
	return c
}

// Poller collects telemetry by polling an indexer REST API, fanning the
// per-pool fetches out on the shared worker pool. A failed market fetch fails
// the cycle; a failed pool fetch degrades to the stream cache and then to a
// dead snapshot, so one flaky pool cannot stall the loop.
type Poller struct {
	cfg     PollerConfig
	client  *apphttp.Client
	workers *concurrency.WorkerPool
	stream  *Stream
	logger  core.ILogger
}

var _ core.ITelemetrySource = (*Poller)(nil)

// NewPoller creates a poller. stream may be nil when no WebSocket feed is
// configured.
func NewPoller(cfg PollerConfig, client *apphttp.Client, workers *concurrency.WorkerPool, stream *Stream, logger core.ILogger) *Poller {
	return &Poller{
		cfg:     cfg.withDefaults(),
		client:  client,
		workers: workers,
		stream:  stream,
		logger:  logger.WithField("component", "telemetry_poller"),
	}
}

func (p *Poller) Name() string {
	return "rpc-poller"
}

func (p *Poller) Collect(ctx context.Context) (core.CycleTelemetry, error) {
	now := time.Now().UTC()

	var market marketPayload
	if err := p.client.GetJSON(ctx, p.cfg.MarketPath, nil, &market); err != nil {
		return core.CycleTelemetry{}, fmt.Errorf("fetch market summary: %w: %w", apperrors.ErrTelemetryUnavailable, err)
	}

	snapshots := make([]core.PoolSnapshot, len(p.cfg.PoolIDs))
	var rpcErrors, cacheHits int64

	group := p.workers.Group()
	for i, id := range p.cfg.PoolIDs {
		group.Submit(func() {
			var payload poolPayload
			err := p.client.GetJSON(ctx, p.cfg.PoolPath+"/"+id, nil, &payload)
			if err == nil {
				snapshots[i] = payload.snapshot(now)
				return
			}

			atomic.AddInt64(&rpcErrors, 1)
			if p.stream != nil {
				if snap, ok := p.stream.Lookup(id, now); ok {
					atomic.AddInt64(&cacheHits, 1)
					snapshots[i] = snap
					return
				}
			}

			p.logger.Warn("Pool snapshot unavailable", "pool_id", id, "error", err)
			snapshots[i] = core.PoolSnapshot{PoolID: id, ObservedAt: now}
		})
	}
	group.Wait()

	if cacheHits > 0 {
		p.logger.Debug("Served pool snapshots from stream cache", "count", cacheHits)
	}

	summary := core.MarketSummary{
		MarketHealth:  market.MarketHealth,
		PoolsScanned:  len(snapshots),
		EquityUSD:     market.EquityUSD,
		UnrealizedPnl: market.UnrealizedPnl,
	}

	var entropySum, flowSum float64
	for _, snap := range snapshots {
		if !snap.Alive {
			continue
		}
		summary.PoolsAlive++
		entropySum += snap.State.Entropy
		flowSum += snap.State.LiquidityFlow
	}
	if len(snapshots) > 0 {
		summary.AliveRatio = float64(summary.PoolsAlive) / float64(len(snapshots))
	}
	if summary.PoolsAlive > 0 {
		summary.AvgEntropy = entropySum / float64(summary.PoolsAlive)
		summary.AvgFlow = flowSum / float64(summary.PoolsAlive)
	}

	return core.CycleTelemetry{
		Pools:     snapshots,
		Market:    summary,
		Requests:  len(p.cfg.PoolIDs) + 1,
		RPCErrors: int(rpcErrors),
	}, nil
}
