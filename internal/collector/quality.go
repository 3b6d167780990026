package collector

import (
	"sync"

	"lp_sentinel/internal/core"
)

// qualitySmoothing is the EWMA weight for new observations. One bad cycle
// nudges the scores; only a run of bad cycles closes the gates.
const qualitySmoothing = 0.3

// NetworkMonitor distills per-cycle telemetry into the execution-quality and
// congestion scores the validation pipeline consumes.
type NetworkMonitor struct {
	mu         sync.RWMutex
	logger     core.ILogger
	execScore  float64
	congestion float64
	cycles     int
}

var (
	_ core.IExecutionQuality = executionView{}
	_ core.ICongestion       = congestionView{}
)

func NewNetworkMonitor(logger core.ILogger) *NetworkMonitor {
	return &NetworkMonitor{
		logger:    logger.WithField("component", "network_monitor"),
		execScore: 1.0,
	}
}

// Update folds one cycle of telemetry into the smoothed scores. Execution
// quality tracks pool liveness and the request error rate; congestion tracks
// the error rate alone, doubled so sustained 50% failures read as saturated.
func (m *NetworkMonitor) Update(tel core.CycleTelemetry) {
	errRate := 0.0
	if tel.Requests > 0 {
		errRate = float64(tel.RPCErrors+tel.APIErrors) / float64(tel.Requests)
	}

	execTarget := 0.6*tel.Market.AliveRatio + 0.4*(1-errRate)
	congTarget := clampUnit(2 * errRate)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	if m.cycles == 1 {
		m.execScore = execTarget
		m.congestion = congTarget
	} else {
		m.execScore += qualitySmoothing * (execTarget - m.execScore)
		m.congestion += qualitySmoothing * (congTarget - m.congestion)
	}
	if m.cycles%20 == 0 {
		m.logger.Debug("Network scores",
			"execution_quality", m.execScore,
			"congestion", m.congestion,
			"error_rate", errRate,
		)
	}
}

// ExecutionQuality exposes the smoothed fill-quality score in [0,1].
func (m *NetworkMonitor) ExecutionQuality() core.IExecutionQuality {
	return executionView{m}
}

// Congestion exposes the smoothed congestion score in [0,1].
func (m *NetworkMonitor) Congestion() core.ICongestion {
	return congestionView{m}
}

type executionView struct{ m *NetworkMonitor }

func (v executionView) Score() float64 {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	return v.m.execScore
}

type congestionView struct{ m *NetworkMonitor }

func (v congestionView) Score() float64 {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	return v.m.congestion
}
