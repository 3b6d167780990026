// Package core defines the shared types and interfaces for the lp_sentinel system
package core

import (
	"context"
)

// ITelemetrySource supplies one cycle's worth of pool and market telemetry.
// Implementations own all I/O; the admission core never fetches anything
// itself.
type ITelemetrySource interface {
	Name() string
	Collect(ctx context.Context) (CycleTelemetry, error)
}

// IExecutionQuality reports the current execution-quality score in [0,1]
// (1 = fills land at expected prices). Consumed only by the entry validation
// pipeline.
type IExecutionQuality interface {
	Score() float64
}

// ICongestion reports the current network congestion score in [0,1]
// (1 = fully congested). Consumed only by the entry validation pipeline.
type ICongestion interface {
	Score() float64
}

// INoTradeGate reports whether the market is in a no-trade regime
// (market-wide chaos). The reason is included in block diagnostics.
type INoTradeGate interface {
	NoTradeRegime() (bool, string)
}

// IDecisionSink receives decision events and cycle summaries as they are
// produced. Implementations must not block the cycle; slow consumers drop.
type IDecisionSink interface {
	PublishDecision(event DecisionEvent)
	PublishCycle(summary CycleSummary)
}

// IHealthMonitor aggregates component health checks
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
