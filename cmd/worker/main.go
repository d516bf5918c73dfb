package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makehaven/storetab/internal/accounts"
	"github.com/makehaven/storetab/internal/app"
	"github.com/makehaven/storetab/internal/billing"
	"github.com/makehaven/storetab/internal/billing/stripe"
	"github.com/makehaven/storetab/internal/catalog"
	"github.com/makehaven/storetab/internal/ledger"
	"github.com/makehaven/storetab/internal/platform/cache"
	"github.com/makehaven/storetab/internal/platform/db"
	"github.com/makehaven/storetab/jobs"
)

// autoChargeCron fires nightly shortly before local midnight; the charger
// itself decides per account whether the month is ending.
const autoChargeCron = "30 23 * * *"

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
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	storeLocation, err := time.LoadLocation(cfg.StoreTimezone)
	if err != nil {
		logger.Error("load store timezone", slog.String("tz", cfg.StoreTimezone), slog.Any("error", err))
		os.Exit(1)
	}

	accountsService := accounts.NewService(accounts.NewRepository(pool), logger)
	catalogService := catalog.NewService(catalog.NewRepository(pool))
	ledgerService := ledger.NewService(ledger.NewRepository(pool), logger)

	charger := billing.NewAutoCharger(billing.AutoChargerParams{
		Accounts:    accountsService,
		Ledger:      ledgerService,
		Catalog:     catalogService,
		Gateway:     stripe.NewClient(cfg.StripeSecretKey),
		Locker:      cache.NewLock(redisClient),
		Logger:      logger,
		MinCharge:   cfg.MinChargeAmountDecimal(),
		DefaultLoc:  storeLocation,
		Concurrency: cfg.AutoChargeConcurrency,
	})

	cronTask, err := jobs.NewAutoChargeTask(jobs.AutoChargePayload{RequestedAt: time.Now().UTC()})
	if err != nil {
		logger.Error("build auto-charge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTabAutoCharge, Handler: jobs.NewAutoChargeHandler(charger, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: autoChargeCron, Task: cronTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
		CronLocation: storeLocation,
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting",
		slog.String("cron", autoChargeCron),
		slog.String("tz", cfg.StoreTimezone))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
