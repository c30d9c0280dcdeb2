package main

import (
	"context"
	"log/slog"
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
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	productRepo := products.NewRepository(pool)
	registry := products.NewRegistry(productRepo)
	ledgerRepo := ledger.NewRepository(pool)
	calculator := ledger.NewCalculator(ledgerRepo)
	reconService := recon.NewService(calculator, registry, ledgerRepo, redisClient, metrics, logger, cfg.ReconReportTTL)
	reconJob := jobs.NewReconJob(reconService, logger)

	intakeKeys := pos.NewIntakeKeyStore(pool)
	cleanupJob := jobs.NewCleanupJob(intakeKeys, logger)

	reconTask, err := jobs.NewReconRecomputeTask(time.Now().UTC())
	if err != nil {
		logger.Error("build recompute task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIntakeKeyCleanupTask(30 * 24 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconRecompute, Handler: reconJob.Handle},
			{Type: jobs.TaskIntakeKeyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconCronSpec, Task: reconTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 4 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
