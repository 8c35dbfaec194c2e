package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"champs/internal/api"
	"champs/internal/auth"
	"champs/internal/cache"
	"champs/internal/config"
	"champs/internal/db"
	"champs/internal/events"
	"champs/internal/game"
	"champs/internal/market"
	"champs/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if cfg.ApplySchema {
		if err := db.ApplySchema(ctx, pool); err != nil {
			logger.Error("apply schema failed", "err", err)
			os.Exit(1)
		}
	}

	reg := metrics.New()
	prizeCache, closeCache := cache.NewAuto(cfg.RedisAddr, cfg.PrizeCacheTTL)
	defer closeCache()

	prices, err := market.NewSource(marketConfig(cfg.Market), reg)
	if err != nil {
		logger.Error("market config invalid", "err", err)
		os.Exit(1)
	}
	if _, offline := prices.(market.Unavailable); offline {
		logger.Warn("MARKET_API_URL not set, holdings are valued at average price")
	}

	var publisher game.RosterPublisher = events.Noop{}
	if cfg.Kafka.Enabled() {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.RosterTopic, reg)
		defer kp.Close()
		publisher = kp
	}

	gameSvc := game.NewService(pool, logger, game.ServiceOptions{
		Prices:  prices,
		Cache:   prizeCache,
		Events:  publisher,
		Metrics: reg,
		Leaderboard: game.LeaderboardOptions{
			Concurrency:    cfg.Leaderboard.Concurrency,
			StrictProfiles: cfg.Leaderboard.StrictProfiles,
			SkipFailed:     cfg.Leaderboard.SkipFailed,
		},
	})

	// Other replicas enroll players too; their roster events drop our cached pools.
	if cfg.Kafka.Enabled() {
		consumer := events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.RosterTopic, cfg.Kafka.GroupID,
			func(ctx context.Context, e events.RosterEvent) error {
				return gameSvc.InvalidatePrizePool(ctx, e.ChampionshipID)
			}, logger, reg)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("roster consumer stopped", "err", err)
			}
		}()
	}

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	server := api.New(cfg, logger, authClient, gameSvc, reg)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("champs api listening", "addr", cfg.Addr, "kafka", cfg.Kafka.Enabled(), "redis", cfg.RedisAddr != "")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func marketConfig(c config.MarketConfig) market.Config {
	return market.Config{
		BaseURL:      c.BaseURL,
		APIKey:       c.APIKey,
		RPS:          c.RPS,
		Burst:        c.Burst,
		StaticPrices: c.StaticPrices,
	}
}
