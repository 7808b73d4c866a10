package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	catalogpostgres "github.com/cinequery/cinequery/internal/catalog/postgres"
	"github.com/cinequery/cinequery/internal/config"
	"github.com/cinequery/cinequery/internal/observability"
	"github.com/cinequery/cinequery/internal/snapshot"
	s3store "github.com/cinequery/cinequery/internal/storage/s3"
)

func main() {
	interval := flag.Duration("interval", 0, "re-export on this interval; 0 exports once and exits")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("cinequery-snapshot")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
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

	objectStore, err := s3store.New(ctx, cfg.Snapshot)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	exporter, err := snapshot.NewExporter(catalogpostgres.NewStore(db, cfg.Store.QueryTimeout), objectStore, cfg.Snapshot.Key, logger)
	if err != nil {
		logger.Error("failed to initialize exporter", slog.Any("error", err))
		os.Exit(1)
	}

	if *interval <= 0 {
		if _, err := exporter.Export(ctx); err != nil {
			logger.Error("snapshot export failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	logger.Info("snapshot worker started", slog.Duration("interval", *interval))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if _, err := exporter.Export(ctx); err != nil {
			logger.Error("snapshot export failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			logger.Info("snapshot worker stopped")
			return
		case <-ticker.C:
		}
	}
}
