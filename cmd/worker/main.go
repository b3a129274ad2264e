package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/atelier-erp/atelier/internal/app"
	jobmetrics "github.com/atelier-erp/atelier/internal/jobs"
	"github.com/atelier-erp/atelier/internal/platform/cache"
	"github.com/atelier-erp/atelier/internal/platform/db"
	"github.com/atelier-erp/atelier/internal/procurement"
	"github.com/atelier-erp/atelier/internal/rbac"
	"github.com/atelier-erp/atelier/internal/shared"
	"github.com/atelier-erp/atelier/jobs"
)

func main() {
	_ = godotenv.Load()

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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLife})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	directory := rbac.NewService(pool)
	configStore := procurement.NewConfigStore(pool, cache.NewJSONCache(redisClient, "atelier:approval", cfg.ApprovalConfigCacheTTL))
	idempotency := shared.NewIdempotencyStore(pool)
	service := procurement.NewService(procurement.NewRepository(pool, shared.NewApprovalRecorder()), directory, configStore, procurement.ServiceOptions{
		Locker:      shared.NewRedisLocker(redisClient, cfg.POLockTTL),
		Idempotency: idempotency,
		Publisher:   jobs.NewEventPublisher(jobClient),
		Logger:      logger,
	})

	reconcileJob := jobs.NewReconcileJob(service, logger, metrics, cfg.ReconcileBatchSize)
	eventJob := &jobs.EventJob{Notifier: jobs.LogNotifier{Logger: logger}, Metrics: metrics}
	purgeJob := &jobs.PurgeJob{Store: idempotency, Retention: cfg.IdempotencyRetention, Logger: logger, Metrics: metrics}

	reconcileTask, err := jobs.NewReconcileTask(cfg.ReconcileBatchSize)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskProcurementReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskProcurementEvent, Handler: eventJob.Handle},
			{Type: jobs.TaskIdempotencyPurge, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyPurgeCron, Task: jobs.NewIdempotencyPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
