// decisiond is the decision-intelligence daemon: it schedules per-symbol
// pipeline runs, serves the operator API and SSE stream, and maintains the
// learning loop over resolved outcomes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/marketmind/decisioncore/internal/agents"
	"github.com/marketmind/decisioncore/internal/api"
	"github.com/marketmind/decisioncore/internal/config"
	"github.com/marketmind/decisioncore/internal/market"
	"github.com/marketmind/decisioncore/internal/metrics"
	"github.com/marketmind/decisioncore/internal/notify"
	"github.com/marketmind/decisioncore/internal/pipeline"
	"github.com/marketmind/decisioncore/internal/replay"
	"github.com/marketmind/decisioncore/internal/scheduler"
	"github.com/marketmind/decisioncore/internal/store"
	"github.com/marketmind/decisioncore/internal/strategist"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("environment", cfg.App.Environment).
		Strs("symbols", cfg.Scheduler.Symbols).
		Msg("Starting decisioncore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Secrets: Vault when configured, environment variables otherwise.
	if err := config.LoadSecretsFromVault(ctx, cfg, config.GetVaultConfigFromEnv()); err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve secrets")
	}

	location, err := cfg.Scheduler.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load exchange time zone")
	}

	// Database and store.
	database, err := store.NewDB(ctx, cfg.Database.GetDSN(), int32(cfg.Database.PoolSize))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	decisionStore := store.New(database.Pool(), store.Config{
		MinResolvedOutcomes: cfg.Feedback.MinResolvedOutcomes,
		ProfitThresholdPct:  cfg.Feedback.ProfitThresholdPct,
	})
	defer decisionStore.Shutdown()

	// Quote cache. Redis being down degrades to cacheless operation.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, running without quote cache")
		redisClient = nil
	}
	quoteCache := market.NewQuoteCache(redisClient, cfg.Market.CacheTTL.TTLOverrides())

	// External collaborators.
	marketClient, err := market.NewClient(
		cfg.Market.BaseURL,
		cfg.Market.Timeout,
		cfg.Market.RatePerSec,
		market.WithMaxRetries(cfg.Market.MaxRetries),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create market data client")
	}

	agentClient, err := agents.NewClient(cfg.Agents.DispatchURL, cfg.Agents.Timeout, cfg.Agents.Registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create agent dispatch client")
	}

	strategistClient := strategist.New(strategist.Config{
		Enabled:     cfg.Strategist.Enabled,
		Endpoint:    cfg.Strategist.Endpoint,
		APIKey:      cfg.Strategist.APIKey,
		DeepModel:   cfg.Strategist.DeepModel,
		FastModel:   cfg.Strategist.FastModel,
		Timeout:     cfg.Strategist.Timeout,
		PeakTimeout: cfg.Strategist.PeakTimeout,
		Temperature: cfg.Strategist.Temperature,
		MaxTokens:   cfg.Strategist.MaxTokens,
	})

	notifier := notify.New(cfg.Notifier.URL, cfg.Notifier.Timeout)

	// Core pipeline and its drivers.
	pipe := pipeline.New(marketClient, quoteCache, agentClient, strategistClient, decisionStore, notifier, location)

	replayRegistry := replay.NewRegistry()

	sched := scheduler.New(scheduler.Config{
		Symbols:  cfg.Scheduler.Symbols,
		Location: location,
		Tempo: scheduler.TempoConfig{
			Volatile: cfg.Scheduler.Tempo.Volatile,
			Trending: cfg.Scheduler.Tempo.Trending,
			Ranging:  cfg.Scheduler.Tempo.Ranging,
			Calm:     cfg.Scheduler.Tempo.Calm,
			Unknown:  cfg.Scheduler.Tempo.Unknown,
			OffHours: cfg.Scheduler.SessionOverrides.OffHours,
			Midday:   cfg.Scheduler.SessionOverrides.Midday,
		},
	}, pipe, decisionStore, replayRegistry)

	apiServer := api.NewServer(api.Config{
		Host:         cfg.API.Host,
		Port:         cfg.API.Port,
		ReplayHeader: cfg.Replay.HeaderName,
	}, pipe, decisionStore, replayRegistry)

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort)
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}

	sched.Start(ctx)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("API server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	// Graceful shutdown: stop emitting triggers first, then close the outer
	// surfaces. In-flight pipeline side effects run on their own contexts and
	// finish on their own.
	log.Info().Msg("Initiating graceful shutdown...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop API server gracefully")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server gracefully")
		}
	}

	log.Info().Msg("Shutdown complete")
}
