package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"lp_sentinel/internal/alert"
	"lp_sentinel/internal/bootstrap"
	"lp_sentinel/internal/capital"
	"lp_sentinel/internal/collector"
	"lp_sentinel/internal/confidence"
	"lp_sentinel/internal/config"
	"lp_sentinel/internal/core"
	"lp_sentinel/internal/infrastructure/health"
	"lp_sentinel/internal/infrastructure/metrics"
	"lp_sentinel/internal/journal"
	"lp_sentinel/internal/orchestrator"
	"lp_sentinel/internal/regime"
	"lp_sentinel/internal/reversal"
	"lp_sentinel/internal/sizing"
	"lp_sentinel/internal/validation"
	"lp_sentinel/pkg/concurrency"
	apphttp "lp_sentinel/pkg/http"
	"lp_sentinel/pkg/liveserver"
	"lp_sentinel/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/sentinel.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lp-sentinel version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	cfg, logger := app.Cfg, app.Logger

	logger.Info("Starting lp-sentinel",
		"version", version,
		"collector", cfg.Collector.Source,
		"journal", cfg.Journal.Backend,
		"scan_interval_s", cfg.App.ScanIntervalSeconds)

	// 1. Journal backend
	store, err := buildJournal(cfg)
	if err != nil {
		logger.Fatal("Failed to open journal", "error", err)
	}
	defer store.Close()

	// 2. Telemetry source
	source, stream, workers := buildCollector(cfg, logger)
	if workers != nil {
		defer workers.Stop()
	}
	if stream != nil {
		stream.Start()
		defer stream.Stop()
	}

	// 3. Admission stack
	now := time.Now()
	seedEquity := decimal.NewFromFloat(cfg.App.SeedEquityUSD)
	if seedEquity.LessThanOrEqual(decimal.Zero) {
		seedEquity = decimal.NewFromInt(10_000)
	}

	network := collector.NewNetworkMonitor(logger)
	tracker := confidence.NewTracker(confidenceParams(cfg), logger)
	capitalMgr := capital.NewManager(capitalParams(cfg), seedEquity, logger, now)
	guard := reversal.NewGuard(reversalParams(cfg), logger)
	detector := regime.NewDetector(detectorParams(cfg), logger)
	killSwitch := regime.NewKillSwitch(killSwitchConfig(cfg), logger)
	chaosGate := regime.NewChaosGate(regime.DefaultChaosGateParams(), logger)
	sizer := sizing.NewEngine(sizing.DefaultParams())
	pipeline := validation.NewPipeline(
		validationParams(cfg),
		chaosGate,
		guard,
		network.ExecutionQuality(),
		network.Congestion(),
		sizer,
		logger,
	)

	// 4. Alert channels. The log channel is always on; webhooks are
	// configuration-gated.
	alerts := alert.NewAlertManager(logger)
	alerts.AddChannel(alert.NewLogChannel(logger))
	if url := string(cfg.Alerts.SlackWebhookURL); url != "" {
		alerts.AddChannel(alert.NewSlackChannel(url))
	}
	if token := string(cfg.Alerts.TelegramBotToken); token != "" {
		alerts.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.TelegramChatID))
	}

	// 5. Operator surface. The status closure late-binds the orchestrator:
	// it is only invoked once requests arrive, well after wiring finishes.
	healthMgr := health.NewHealthManager(logger)

	var orch *orchestrator.Orchestrator
	statusFn := func(ctx context.Context) (interface{}, error) {
		snap := capitalMgr.Snapshot()
		doc := map[string]interface{}{
			"equity_usd":          snap.EquityUSD.StringFixed(2),
			"total_deployed_usd":  snap.TotalDeployedUSD.StringFixed(2),
			"deployed_pct":        snap.DeployedPct,
			"deploy_cap_pct":      snap.DynamicDeployCapPct,
			"regime":              snap.Regime,
			"confidence_score":    snap.ConfidenceScore,
			"confidence_unlocked": snap.ConfidenceUnlocked,
			"in_warmup":           snap.IsInWarmup,
			"in_cooldown":         snap.IsInCooldown,
			"pool_deployments":    capitalMgr.PoolDeployments(),
		}
		if orch != nil {
			doc["open_positions"] = orch.OpenPositions()
		}
		if latest, jerr := store.LatestCycle(ctx); jerr == nil && latest != nil {
			doc["last_cycle"] = latest
		}
		return doc, nil
	}

	var sinks []core.IDecisionSink
	var feed *liveserver.Server
	if cfg.Server.Enabled {
		hub := liveserver.NewHub(logger)
		feed = liveserver.NewServer(liveserver.Params{
			ListenAddr: cfg.Server.ListenAddr,
		}, hub, healthMgr, statusFn, logger)
		sinks = append(sinks, feed)
	}

	// 6. Scan loop
	orch = orchestrator.NewOrchestrator(orchestrator.Params{
		ScanInterval:  time.Duration(cfg.App.ScanIntervalSeconds) * time.Second,
		SeedEquityUSD: seedEquity,
	}, orchestrator.Deps{
		Source:     source,
		Tracker:    tracker,
		Capital:    capitalMgr,
		Guard:      guard,
		Pipeline:   pipeline,
		Detector:   detector,
		KillSwitch: killSwitch,
		ChaosGate:  chaosGate,
		Network:    network,
		Journal:    store,
		Sinks:      sinks,
		Alerts:     alerts,
		Metrics:    telemetry.GetGlobalMetrics(),
		Logger:     logger,
	})

	healthMgr.Register("orchestrator", orch.CheckHealth)
	healthMgr.Register("journal", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := store.LatestCycle(ctx)
		return err
	})
	if stream != nil {
		healthMgr.Register("telemetry_stream", func() error {
			if !stream.Connected() {
				return fmt.Errorf("stream disconnected")
			}
			return nil
		})
	}

	// 7. Standalone metrics endpoint when the feed server is off. With the
	// feed enabled /metrics is already served there.
	if cfg.Telemetry.EnableMetrics && !cfg.Server.Enabled {
		metricsServer := metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsServer.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Stop(ctx)
		}()
	}

	runners := []bootstrap.Runner{orch}
	if feed != nil {
		runners = append(runners, feed)
	}

	if err := app.Run(runners...); err != nil {
		os.Exit(1)
	}
}

// buildJournal opens the configured journal backend.
func buildJournal(cfg *config.Config) (journal.Store, error) {
	switch cfg.Journal.Backend {
	case "sqlite":
		return journal.NewSQLiteStore(cfg.Journal.SQLitePath)
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return journal.NewPostgresStore(ctx, string(cfg.Journal.PostgresDSN))
	default:
		return journal.NewMemoryStore(cfg.Journal.MemoryCapacity), nil
	}
}

// buildCollector creates the telemetry source. For the poller it also
// returns the stream cache and worker pool so main can manage their
// lifecycles; both are nil for the synthetic source.
func buildCollector(cfg *config.Config, logger core.ILogger) (core.ITelemetrySource, *collector.Stream, *concurrency.WorkerPool) {
	if cfg.Collector.Source == "poller" {
		client := apphttp.NewClient(apphttp.Config{
			BaseURL:           cfg.Collector.IndexerURL,
			Timeout:           time.Duration(cfg.Collector.RequestTimeoutSeconds) * time.Second,
			MaxRequestsPerSec: cfg.Collector.MaxRequestsPerSec,
		})

		workers := concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "TelemetryPool",
			MaxWorkers:  cfg.Collector.Workers,
			MaxCapacity: 512,
		}, logger)

		var stream *collector.Stream
		if cfg.Collector.StreamURL != "" {
			ttl := time.Duration(cfg.Collector.StreamTTLSeconds) * time.Second
			stream = collector.NewStream(cfg.Collector.StreamURL, ttl, logger)
		}

		poller := collector.NewPoller(collector.PollerConfig{
			PoolIDs: cfg.Collector.PoolIDs,
		}, client, workers, stream, logger)
		return poller, stream, workers
	}

	params := collector.DefaultSyntheticParams()
	if cfg.Collector.SyntheticPools > 0 {
		params.Pools = cfg.Collector.SyntheticPools
	}
	if cfg.Collector.SyntheticSeed != 0 {
		params.Seed = cfg.Collector.SyntheticSeed
	}
	if cfg.App.SeedEquityUSD > 0 {
		params.EquityUSD = decimal.NewFromFloat(cfg.App.SeedEquityUSD)
	}
	return collector.NewSynthetic(params), nil, nil
}

// confidenceParams maps config overrides onto the tracker parameters. Zero
// values defer to the package defaults.
func confidenceParams(cfg *config.Config) confidence.Params {
	return confidence.Params{
		Window:     time.Duration(cfg.Confidence.WindowMinutes) * time.Minute,
		MaxSamples: cfg.Confidence.MaxSamples,
	}
}

func capitalParams(cfg *config.Config) capital.Params {
	return capital.Params{
		HardReservePct:       cfg.Capital.HardReservePct,
		MinPositionUSD:       cfg.Capital.MinPositionUSD,
		MaxSinglePositionPct: cfg.Capital.MaxSinglePositionPct,
		TargetNeutralUSD:     cfg.Capital.TargetNeutralUSD,
		TargetBullUSD:        cfg.Capital.TargetBullUSD,
		TargetBearUSD:        cfg.Capital.TargetBearUSD,
	}
}

func reversalParams(cfg *config.Config) reversal.Params {
	return reversal.Params{
		MaxTicks:           cfg.Reversal.MaxTicks,
		CooldownSeconds:    cfg.Reversal.CooldownSeconds,
		MaxCooldownSeconds: cfg.Reversal.MaxCooldownSeconds,
	}
}

func detectorParams(cfg *config.Config) regime.DetectorParams {
	return regime.DetectorParams{
		BullEnterScore:  cfg.Regime.BullEnterScore,
		BullExitScore:   cfg.Regime.BullExitScore,
		BearEnterScore:  cfg.Regime.BearEnterScore,
		BearExitScore:   cfg.Regime.BearExitScore,
		SmoothingWindow: cfg.Regime.SmoothingWindow,
	}
}

// killSwitchConfig starts from the package defaults because the kill switch
// treats zero thresholds as disabled triggers.
func killSwitchConfig(cfg *config.Config) regime.KillSwitchConfig {
	ks := regime.DefaultKillSwitchConfig()
	if cfg.Regime.MaxDrawdownPct > 0 {
		ks.MaxDrawdownPct = cfg.Regime.MaxDrawdownPct
	}
	if cfg.Regime.MaxForcedExitRate > 0 {
		ks.MaxForcedExitRate = cfg.Regime.MaxForcedExitRate
	}
	if cfg.Regime.KillCooldownMinutes > 0 {
		ks.Cooldown = time.Duration(cfg.Regime.KillCooldownMinutes) * time.Minute
	}
	return ks
}

func validationParams(cfg *config.Config) validation.Params {
	return validation.Params{
		MinCombinedMultiplier: cfg.Validation.MinCombinedMultiplier,
	}
}
