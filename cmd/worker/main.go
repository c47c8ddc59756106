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
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/reembolso/internal/app"
	"github.com/odyssey-erp/reembolso/internal/identity"
	jobmetrics "github.com/odyssey-erp/reembolso/internal/jobs"
	"github.com/odyssey-erp/reembolso/internal/observability"
	"github.com/odyssey-erp/reembolso/internal/platform/cache"
	"github.com/odyssey-erp/reembolso/internal/platform/db"
	"github.com/odyssey-erp/reembolso/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DependencyTimeout)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var store identity.Store = identity.NewMemoryStore()
	if cfg.MismatchStore != "memory" {
		redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.DependencyTimeout)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		store = identity.NewRedisStore(redisClient, "")
	} else {
		logger.Warn("memory mismatch store selected, results stay inside the worker process")
	}

	identityRepo := identity.NewRepository(pool)
	reconciler := identity.NewReconciler(identityRepo, identityRepo, store, logger)
	reconciler.WithOptions(cfg.DetectOptions())
	reconciler.WithTimeout(cfg.DependencyTimeout)

	registry := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(registry.Registerer())
	refreshJob := jobs.NewIdentityRefreshJob(reconciler, logger, metrics)

	refreshTask, err := jobs.NewIdentityRefreshTask(jobs.IdentityRefreshPayload{})
	if err != nil {
		logger.Error("build identity refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIdentityRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: refreshTask, Options: []asynq.Option{asynq.Unique(time.Hour)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           registry.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("worker started", slog.String("cron", cfg.ReconcileCron), slog.String("metrics_addr", cfg.WorkerMetricsAddr))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
