package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/agents"
	"arise-trading-engine/internal/api"
	"arise-trading-engine/internal/candlecache"
	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/eventlog"
	"arise-trading-engine/internal/exits"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/learning"
	"arise-trading-engine/internal/logging"
	"arise-trading-engine/internal/marketclock"
	"arise-trading-engine/internal/monitor"
	"arise-trading-engine/internal/provider"
	"arise-trading-engine/internal/scheduler"
	"arise-trading-engine/internal/srlevels"
	"arise-trading-engine/internal/stream"
	"arise-trading-engine/internal/vault"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("configuration load failed")
	}

	log := logging.New(cfg.LoggingConfig)
	log.Info().Strs("universes", cfg.EngineConfig.Universes).Msg("starting arise")

	clock := marketclock.SystemClock{}

	// Broker credentials: environment values win, Vault fills the gaps
	// when configured.
	secrets, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("vault client init failed")
	}
	if secrets.Enabled() && (cfg.ProviderConfig.KiteAPIKey == "" || cfg.ProviderConfig.KiteAccessToken == "") {
		if creds, err := secrets.Credentials(context.Background(), "kite"); err == nil {
			if cfg.ProviderConfig.KiteAPIKey == "" {
				cfg.ProviderConfig.KiteAPIKey = creds.APIKey
			}
			if cfg.ProviderConfig.KiteAccessToken == "" {
				cfg.ProviderConfig.KiteAccessToken = creds.AccessToken
			}
		} else {
			log.Warn().Err(err).Msg("vault kite credentials unavailable, using environment")
		}
	}
	secrets.Seed("kite", vault.BrokerCredentials{
		APIKey:      cfg.ProviderConfig.KiteAPIKey,
		AccessToken: cfg.ProviderConfig.KiteAccessToken,
	})

	db, err := database.NewDB(cfg.DatabaseConfig, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()
	repo := database.NewRepository(db, cfg.EngineConfig.RetentionDays, log)

	kvStore := kv.NewStore(cfg.RedisConfig, log)
	defer func() { _ = kvStore.Close() }()

	candles, err := candlecache.New(cfg.StorageConfig.CacheDir, clock, log)
	if err != nil {
		log.Fatal().Err(err).Msg("candle cache init failed")
	}

	kite := provider.NewKiteClient(cfg.ProviderConfig, log)
	yahoo := provider.NewYahooClient(cfg.ProviderConfig, log)
	market := provider.NewUnifiedProvider(kite, yahoo, candles, clock, log)

	var sentiment agents.SentimentProvider
	if client := provider.NewSentimentClient(cfg.SentimentConfig, log); client != nil {
		sentiment = client
	}
	coord := agents.NewCoordinator(
		agents.DefaultEnsemble(sentiment),
		time.Duration(cfg.EngineConfig.AgentTimeoutSecs)*time.Second,
		log,
	)

	weights, err := config.LoadModeWeights(filepath.Join("config", "mode_weights.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("mode weights load failed")
	}

	events := eventlog.New(cfg.StorageConfig.DataDir, log)

	// The hub and the Kite ticker reference each other, so the upstream
	// side is attached after both exist.
	hub := stream.NewHub(nil, log)
	var ticker *stream.KiteTicker
	tokens, err := config.LoadInstrumentTokens(filepath.Join("config", "instrument_tokens.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("instrument tokens load failed")
	}
	if len(tokens) > 0 && cfg.ProviderConfig.KiteAPIKey != "" && cfg.ProviderConfig.KiteAccessToken != "" {
		ticker = stream.NewKiteTicker(
			cfg.ProviderConfig.KiteAPIKey,
			cfg.ProviderConfig.KiteAccessToken,
			stream.NewTokenTable(tokens),
			hub,
			log,
		)
		hub.SetUpstream(ticker)
	} else {
		log.Info().Msg("live tick feed disabled, serving cached quotes only")
	}

	eng := engine.NewTopPicksEngine(
		market, coord, repo, kvStore, events, hub, clock,
		weights, cfg.EngineConfig, cfg.StorageConfig.DataDir, log,
	)

	srService := srlevels.NewService(market, kvStore, clock, log)

	scalpTracker, err := exits.NewScalpingExitTracker(cfg.StorageConfig.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("scalping exit tracker init failed")
	}
	strategyTracker, err := exits.NewStrategyExitTracker(cfg.StorageConfig.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("strategy exit tracker init failed")
	}

	maxBackoff := time.Duration(cfg.MonitorConfig.MaxFailureBackoffSecs) * time.Second
	scalpingMonitor := monitor.NewScalpingMonitor(
		market, scalpTracker, repo, kvStore, events, hub, clock,
		cfg.StorageConfig.DataDir, cfg.MonitorConfig.ScalpingLookbackHours, maxBackoff, log,
	)
	positionsMonitor := monitor.NewPositionsMonitor(
		eng, market, srService, strategyTracker, kvStore, events, hub, clock,
		cfg.EngineConfig.Universes, maxBackoff, log,
	)
	portfolioMonitor := monitor.NewPortfolioMonitor(
		kite, market, hub, kvStore, events, hub, clock,
		cfg.MonitorConfig.Watchlist, maxBackoff, log,
	)

	outcomes := learning.NewOutcomeEvaluator(repo, market, log)
	trainer := learning.NewNightlyTrainer(repo, outcomes, market, clock, log)

	dashboard := scheduler.NewDashboard(
		eng, repo, scalpTracker, strategyTracker, kvStore, hub, clock,
		cfg.EngineConfig.Universes, log,
	)
	sched := scheduler.New(
		eng, cfg.EngineConfig.Universes,
		scalpingMonitor, positionsMonitor, portfolioMonitor,
		outcomes, trainer, dashboard, clock, log,
	)

	server := api.NewServer(cfg.ServerConfig, eng, repo, market, hub, clock, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub.Start(ctx)
	if ticker != nil {
		go ticker.Run(ctx)
	}
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("scheduler start failed")
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()
	log.Info().Int("port", cfg.ServerConfig.Port).Msg("arise up")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("shutdown complete")
}
