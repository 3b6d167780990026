// Package bootstrap wires configuration, logging and process lifecycle for
// sentinel binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/telemetry"
)

// App holds the ambient dependencies every sentinel process starts from.
type App struct {
	Cfg    *Config
	Logger core.ILogger
}

// NewApp loads configuration, runs pre-flight checks and initializes the
// global logger and the metrics exporter.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	if cfg.Telemetry.EnableMetrics {
		if err := telemetry.InitMetrics(); err != nil {
			logger.Warn("Failed to initialize metrics exporter", "error", err)
		}
	}

	return &App{Cfg: cfg, Logger: logger}, nil
}

// Runner is a component that runs until its context is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts all runners and blocks until they stop or a termination signal
// arrives. The first runner error cancels the rest.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "name", a.Cfg.App.Name)

	for _, runner := range runners {
		runner := runner
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}
