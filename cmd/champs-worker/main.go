package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"champs/internal/cache"
	"champs/internal/config"
	"champs/internal/db"
	"champs/internal/game"
	"champs/internal/market"
	"champs/internal/metrics"
	"champs/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 8})
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

	prices, err := market.NewSource(market.Config{
		BaseURL:      cfg.Market.BaseURL,
		APIKey:       cfg.Market.APIKey,
		RPS:          cfg.Market.RPS,
		Burst:        cfg.Market.Burst,
		StaticPrices: cfg.Market.StaticPrices,
	}, reg)
	if err != nil {
		logger.Error("market config invalid", "err", err)
		os.Exit(1)
	}

	svc := game.NewService(pool, logger, game.ServiceOptions{
		Prices:  prices,
		Cache:   prizeCache,
		Metrics: reg,
		Leaderboard: game.LeaderboardOptions{
			Concurrency:    cfg.Leaderboard.Concurrency,
			StrictProfiles: cfg.Leaderboard.StrictProfiles,
			SkipFailed:     cfg.Leaderboard.SkipFailed,
		},
	})
	snapshots := worker.NewSnapshotter(svc, logger, reg)

	if cfg.RunOnce {
		if err := snapshots.RunOnce(ctx); err != nil {
			logger.Error("snapshot pass failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	go func() {
		if err := worker.ServeAdmin(ctx, cfg.MetricsAddr, reg, logger); err != nil {
			logger.Error("worker admin listener failed", "err", err)
		}
	}()

	logger.Info("worker started", "snapshot_every", cfg.SnapshotEvery.String())
	if err := snapshots.Schedule(ctx, cfg.SnapshotEvery); err != nil {
		logger.Error("scheduler failed", "err", err)
		os.Exit(1)
	}
	logger.Info("worker shutdown")
}
