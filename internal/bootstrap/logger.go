package bootstrap

import (
	"fmt"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/logging"
)

// InitLogger initializes the global zap logger from configuration and
// returns a logger tagged with the application name.
func InitLogger(cfg *Config) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logging.SetGlobalLogger(logger)

	return logger.WithField("app", cfg.App.Name), nil
}
