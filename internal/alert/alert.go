// Package alert fans operator notifications out to configured channels.
// Delivery is asynchronous: the decision loop must never wait on a webhook.
package alert

import (
	"context"
	"sync"
	"time"

	"lp_sentinel/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert delivers to every channel in its own goroutine with a per-channel
// timeout. Failures are logged, not returned: a dead webhook is an
// observability problem, not a trading one.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		go func(c AlertChannel) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// LogChannel writes alerts to the structured log. It is registered as the
// fallback so every alert is visible even when no webhook is configured.
type LogChannel struct {
	logger core.ILogger
}

func NewLogChannel(logger core.ILogger) *LogChannel {
	return &LogChannel{logger: logger.WithField("component", "alert_log")}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, alert AlertPayload) error {
	fields := []interface{}{"title", alert.Title, "message", alert.Message}
	for k, v := range alert.Fields {
		fields = append(fields, k, v)
	}

	switch alert.Level {
	case Critical, Error:
		l.logger.Error("ALERT", fields...)
	case Warning:
		l.logger.Warn("ALERT", fields...)
	default:
		l.logger.Info("ALERT", fields...)
	}
	return nil
}
