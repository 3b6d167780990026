package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCyclesTotal              = "lp_sentinel_cycles_total"
	MetricCyclesSkippedTotal       = "lp_sentinel_cycles_skipped_total"
	MetricCycleDuration            = "lp_sentinel_cycle_duration_ms"
	MetricDecisionsTotal           = "lp_sentinel_decisions_total"
	MetricBlocksTotal              = "lp_sentinel_blocks_total"
	MetricPositionSizeUSD          = "lp_sentinel_position_size_usd"
	MetricConfidenceScore          = "lp_sentinel_confidence_score"
	MetricConfidenceUnlocked       = "lp_sentinel_confidence_unlocked"
	MetricDeployCapPct             = "lp_sentinel_deploy_cap_pct"
	MetricDeployedPct              = "lp_sentinel_deployed_pct"
	MetricPoolDeploymentUSD        = "lp_sentinel_pool_deployment_usd"
	MetricReversalCooldowns        = "lp_sentinel_reversal_cooldowns"
	MetricKillSwitchOpen           = "lp_sentinel_kill_switch_open"
	MetricInvariantViolationsTotal = "lp_sentinel_invariant_violations_total"
	MetricRegimeTransitionsTotal   = "lp_sentinel_regime_transitions_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	CyclesTotal              metric.Int64Counter
	CyclesSkippedTotal       metric.Int64Counter
	CycleDuration            metric.Float64Histogram
	DecisionsTotal           metric.Int64Counter
	BlocksTotal              metric.Int64Counter
	PositionSizeUSD          metric.Float64Histogram
	ConfidenceScore          metric.Float64ObservableGauge
	ConfidenceUnlocked       metric.Int64ObservableGauge
	DeployCapPct             metric.Float64ObservableGauge
	DeployedPct              metric.Float64ObservableGauge
	PoolDeploymentUSD        metric.Float64ObservableGauge
	ReversalCooldowns        metric.Int64ObservableGauge
	KillSwitchOpen           metric.Int64ObservableGauge
	InvariantViolationsTotal metric.Int64Counter
	RegimeTransitionsTotal   metric.Int64Counter

	// State for observable gauges
	mu                sync.RWMutex
	confidenceScore   float64
	confidenceUnlock  int64
	deployCapPct      float64
	deployedPct       float64
	poolDeploymentMap map[string]float64
	reversalCooldowns int64
	killSwitchOpen    int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			poolDeploymentMap: make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.CyclesTotal, err = meter.Int64Counter(MetricCyclesTotal, metric.WithDescription("Completed decision cycles"))
	if err != nil {
		return err
	}

	m.CyclesSkippedTotal, err = meter.Int64Counter(MetricCyclesSkippedTotal, metric.WithDescription("Cycles skipped because the previous cycle was still running"))
	if err != nil {
		return err
	}

	m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration, metric.WithDescription("Wall time of one decision cycle"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal, metric.WithDescription("Admission decisions by action"))
	if err != nil {
		return err
	}

	m.BlocksTotal, err = meter.Int64Counter(MetricBlocksTotal, metric.WithDescription("Blocked entries by pipeline stage"))
	if err != nil {
		return err
	}

	m.PositionSizeUSD, err = meter.Float64Histogram(MetricPositionSizeUSD, metric.WithDescription("Recommended position sizes"), metric.WithUnit("USD"))
	if err != nil {
		return err
	}

	m.InvariantViolationsTotal, err = meter.Int64Counter(MetricInvariantViolationsTotal, metric.WithDescription("Capital invariant violations detected"))
	if err != nil {
		return err
	}

	m.RegimeTransitionsTotal, err = meter.Int64Counter(MetricRegimeTransitionsTotal, metric.WithDescription("Market regime transitions"))
	if err != nil {
		return err
	}

	// Observables
	m.ConfidenceScore, err = meter.Float64ObservableGauge(MetricConfidenceScore, metric.WithDescription("Current confidence score"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.confidenceScore)
			return nil
		}))
	if err != nil {
		return err
	}

	m.ConfidenceUnlocked, err = meter.Int64ObservableGauge(MetricConfidenceUnlocked, metric.WithDescription("Confidence unlock state (1=unlocked, 0=locked)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.confidenceUnlock)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DeployCapPct, err = meter.Float64ObservableGauge(MetricDeployCapPct, metric.WithDescription("Current dynamic deployment cap"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.deployCapPct)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DeployedPct, err = meter.Float64ObservableGauge(MetricDeployedPct, metric.WithDescription("Fraction of equity currently deployed"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.deployedPct)
			return nil
		}))
	if err != nil {
		return err
	}

	m.PoolDeploymentUSD, err = meter.Float64ObservableGauge(MetricPoolDeploymentUSD, metric.WithDescription("Capital committed per pool"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pool, val := range m.poolDeploymentMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("pool", pool)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ReversalCooldowns, err = meter.Int64ObservableGauge(MetricReversalCooldowns, metric.WithDescription("Pools currently in reversal cooldown"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.reversalCooldowns)
			return nil
		}))
	if err != nil {
		return err
	}

	m.KillSwitchOpen, err = meter.Int64ObservableGauge(MetricKillSwitchOpen, metric.WithDescription("Kill switch state (1=tripped, 0=normal)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.killSwitchOpen)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetConfidence(score float64, unlocked bool) {
	val := int64(0)
	if unlocked {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidenceScore = score
	m.confidenceUnlock = val
}

func (m *MetricsHolder) SetDeployCapPct(cap float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployCapPct = cap
}

func (m *MetricsHolder) SetDeployedPct(deployed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployedPct = deployed
}

func (m *MetricsHolder) SetPoolDeployment(pool string, usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if usd == 0 {
		delete(m.poolDeploymentMap, pool)
		return
	}
	m.poolDeploymentMap[pool] = usd
}

func (m *MetricsHolder) SetReversalCooldowns(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reversalCooldowns = count
}

func (m *MetricsHolder) SetKillSwitchOpen(open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchOpen = val
}

func (m *MetricsHolder) GetPoolDeployments() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.poolDeploymentMap {
		res[k] = v
	}
	return res
}
