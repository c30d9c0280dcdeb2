package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lumina-salon/lumina/internal/app"
	"github.com/lumina-salon/lumina/internal/ledger"
	"github.com/lumina-salon/lumina/internal/observability"
	"github.com/lumina-salon/lumina/internal/platform/cache"
	"github.com/lumina-salon/lumina/internal/platform/db"
	"github.com/lumina-salon/lumina/internal/pos"
	"github.com/lumina-salon/lumina/internal/products"
	"github.com/lumina-salon/lumina/internal/recon"
	"github.com/lumina-salon/lumina/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	productRepo := products.NewRepository(dbpool)
	registry := products.NewRegistry(productRepo)
	productsHandler := products.NewHandler(logger, registry)

	ledgerRepo := ledger.NewRepository(dbpool)
	mutator := ledger.NewMutator(registry, ledgerRepo, metrics, logger, ledger.MutatorConfig{
		BalanceRetries: cfg.BalanceRetries,
	})
	ledgerHandler := ledger.NewHandler(logger, mutator)

	calculator := ledger.NewCalculator(ledgerRepo)
	reconService := recon.NewService(calculator, registry, ledgerRepo, redisClient, metrics, logger, cfg.ReconReportTTL)
	reconHandler := recon.NewHandler(logger, reconService)

	intakeKeys := pos.NewIntakeKeyStore(dbpool)
	posService := pos.NewService(mutator, intakeKeys, logger)
	posHandler := pos.NewHandler(logger, posService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		ProductsHandler: productsHandler,
		LedgerHandler:   ledgerHandler,
		ReconHandler:    reconHandler,
		POSHandler:      posHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
