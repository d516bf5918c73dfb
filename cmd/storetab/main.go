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
	"github.com/redis/go-redis/v9"

	"github.com/makehaven/storetab/internal/accounts"
	"github.com/makehaven/storetab/internal/app"
	"github.com/makehaven/storetab/internal/catalog"
	"github.com/makehaven/storetab/internal/ledger"
	"github.com/makehaven/storetab/internal/platform/cache"
	"github.com/makehaven/storetab/internal/platform/db"
	"github.com/makehaven/storetab/internal/settlement"
	"github.com/makehaven/storetab/internal/store"
	"github.com/makehaven/storetab/internal/tablimit"
	"github.com/makehaven/storetab/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	accountsService := accounts.NewService(accounts.NewRepository(pool), logger)
	catalogService := catalog.NewService(catalog.NewRepository(pool))
	ledgerService := ledger.NewService(ledger.NewRepository(pool), logger)

	limits := tablimit.Limits{
		MaxAmount:     cfg.MaxTabAmountDecimal(),
		MaxAgeDays:    cfg.MaxTabDays,
		RequireTerms:  cfg.RequireTerms,
		RequireStripe: cfg.RequireStripe,
	}

	storeHandler := store.NewHandler(store.HandlerParams{
		Logger:       logger,
		Accounts:     accountsService,
		Catalog:      catalogService,
		Ledger:       ledgerService,
		Limits:       limits,
		APIKey:       cfg.APIKey,
		AdminKeyHash: cfg.AdminKeyHash,
	})

	settlementService := settlement.NewService(ledgerService, accountsService, logger)
	webhookHandler := settlement.NewWebhookHandler(settlementService, cfg.StripeWebhookSecret, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("build job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		StoreHandler:   storeHandler,
		WebhookHandler: webhookHandler,
		JobHandler:     jobHandler,
		Pool:           pool,
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
