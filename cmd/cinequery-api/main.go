package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cinequery/cinequery/internal/answer"
	"github.com/cinequery/cinequery/internal/api"
	"github.com/cinequery/cinequery/internal/auth"
	"github.com/cinequery/cinequery/internal/catalog"
	catalogduckdb "github.com/cinequery/cinequery/internal/catalog/duckdb"
	catalogpostgres "github.com/cinequery/cinequery/internal/catalog/postgres"
	"github.com/cinequery/cinequery/internal/config"
	"github.com/cinequery/cinequery/internal/embedding"
	"github.com/cinequery/cinequery/internal/intent"
	"github.com/cinequery/cinequery/internal/llm"
	"github.com/cinequery/cinequery/internal/nl2sql"
	"github.com/cinequery/cinequery/internal/observability"
	"github.com/cinequery/cinequery/internal/retrieval"
	"github.com/cinequery/cinequery/internal/router"
	s3store "github.com/cinequery/cinequery/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("cinequery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open movie store", slog.String("backend", cfg.Store.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	completer, err := llm.NewFromConfig(ctx, cfg.Completion, logger)
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}
	encoder, err := embedding.NewFromConfig(ctx, cfg.Embedding)
	if err != nil {
		logger.Error("failed to initialize embedding encoder", slog.Any("error", err))
		os.Exit(1)
	}
	retriever, err := retrieval.NewRetriever(encoder, store)
	if err != nil {
		logger.Error("failed to initialize retriever", slog.Any("error", err))
		os.Exit(1)
	}

	generator := nl2sql.NewCompletionGenerator(completer)
	questionRouter, err := router.New(router.Dependencies{
		Classifier:  intent.NewClassifier(completer),
		Generator:   generator,
		Executor:    store,
		Synthesizer: answer.NewSynthesizer(completer),
		Retriever:   retriever,
	}, router.Options{
		SimilarityFallback: cfg.Router.SimilarityFallback,
		SimilarityK:        cfg.Router.SimilarityK,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("failed to initialize router", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:    logger,
		Router:    questionRouter,
		Retriever: retriever,
		Generator: generator,
		Readiness: api.CombineReadinessChecks(
			api.CheckStoreConfig(cfg),
			api.CheckCompletionConfig(cfg),
			store.Ping,
		),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store_backend", cfg.Store.Backend),
			slog.Bool("similarity_fallback", cfg.Router.SimilarityFallback),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config) (catalog.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendDuckDB:
		objectStore, err := s3store.New(ctx, cfg.Snapshot)
		if err != nil {
			return nil, nil, err
		}
		engine, err := catalogduckdb.NewEngine(objectStore, cfg.Snapshot.Key, cfg.Store.QueryTimeout)
		if err != nil {
			return nil, nil, err
		}
		return engine, func() { _ = engine.Close() }, nil
	default:
		db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
			DSN:             cfg.Store.ConnectionString(),
			Pooled:          cfg.Store.Pooled,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return catalogpostgres.NewStore(db, cfg.Store.QueryTimeout), func() { _ = db.Close() }, nil
	}
}
