package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cinequery/cinequery/internal/backfill"
	catalogpostgres "github.com/cinequery/cinequery/internal/catalog/postgres"
	"github.com/cinequery/cinequery/internal/config"
	"github.com/cinequery/cinequery/internal/embedding"
	"github.com/cinequery/cinequery/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("cinequery-backfill")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if cfg.Store.Backend != config.StoreBackendPostgres {
		logger.Error("backfill requires the postgres store backend", slog.String("backend", cfg.Store.Backend))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Store.ConnectionString(),
		Pooled:          cfg.Store.Pooled,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open movie store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	encoder, err := embedding.NewFromConfig(ctx, cfg.Embedding)
	if err != nil {
		logger.Error("failed to initialize embedding encoder", slog.Any("error", err))
		os.Exit(1)
	}

	job, err := backfill.NewJob(catalogpostgres.NewEmbeddingRepository(db), encoder, logger)
	if err != nil {
		logger.Error("failed to initialize backfill", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("embedding backfill started")
	result, err := job.Run(ctx)
	if err != nil {
		logger.Error("embedding backfill failed",
			slog.Int("updated", result.Updated),
			slog.Int("skipped", result.Skipped),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
	logger.Info("embedding backfill finished", slog.Int("updated", result.Updated), slog.Int("skipped", result.Skipped))
}
