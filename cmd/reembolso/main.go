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
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/reembolso/cmd/reembolso/cli"
	"github.com/odyssey-erp/reembolso/internal/app"
	"github.com/odyssey-erp/reembolso/internal/audit"
	audithttp "github.com/odyssey-erp/reembolso/internal/audit/http"
	"github.com/odyssey-erp/reembolso/internal/expenses"
	expenseshttp "github.com/odyssey-erp/reembolso/internal/expenses/http"
	"github.com/odyssey-erp/reembolso/internal/identity"
	identityhttp "github.com/odyssey-erp/reembolso/internal/identity/http"
	"github.com/odyssey-erp/reembolso/internal/observability"
	"github.com/odyssey-erp/reembolso/internal/periods"
	periodshttp "github.com/odyssey-erp/reembolso/internal/periods/http"
	"github.com/odyssey-erp/reembolso/internal/platform/cache"
	"github.com/odyssey-erp/reembolso/internal/platform/db"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
	"github.com/odyssey-erp/reembolso/jobs"
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := cli.RunJobs(ctx, cfg.RedisAddr, os.Args[2:], os.Stdout); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reembolso", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.DependencyTimeout)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.DependencyTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	location := cfg.Location()
	now := func() time.Time { return time.Now().In(location) }
	retry := cfg.RetryPolicy()

	roleService, err := roles.NewFromOptions(cfg.RoleOptions(), pool, redisClient, logger)
	if err != nil {
		return err
	}

	ledger := audit.NewLedger(audit.NewRepository(pool), logger)
	ledger.WithRetry(retry)
	ledger.WithTimeout(cfg.DependencyTimeout)
	ledger.WithFailureRecorder(metrics)

	periodService := periods.NewService(periods.NewRepository(pool), roleService, ledger, logger)
	periodService.WithNow(now)
	periodService.WithTimeout(cfg.DependencyTimeout)
	periodService.WithRetry(retry)
	periodService.WithClosingLock(shared.NewRedisLocker(redisClient))

	expenseRepo := expenses.NewRepository(pool)
	expenseService := expenses.NewService(expenseRepo, expenseRepo, periodService, roleService, ledger, logger)
	expenseService.WithNow(now)
	expenseService.WithTimeout(cfg.DependencyTimeout)
	expenseService.WithRetry(retry)
	expenseService.WithRecorder(metrics)
	periodService.SetExpenseLocker(expenseService)

	identityRepo := identity.NewRepository(pool)
	reconciler := identity.NewReconciler(identityRepo, identityRepo, mismatchStore(cfg, redisClient), logger)
	reconciler.WithOptions(cfg.DetectOptions())
	reconciler.WithTimeout(cfg.DependencyTimeout)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction()),
		Principals:      roleService,
		RolesHandler:    roles.NewHandler(logger, roleService),
		ExpensesHandler: expenseshttp.NewHandler(logger, expenseService, periodService, roleService, reconciler, identityRepo),
		PeriodsHandler:  periodshttp.NewHandler(logger, periodService),
		AuditHandler:    audithttp.NewHandler(logger, ledger, audit.NewExporter(location), roleService).WithExportLimit(cfg.AuditExportsPerMin),
		IdentityHandler: identityhttp.NewHandler(logger, reconciler, roleService, jobClient),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Readiness: map[string]app.ReadinessCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func mismatchStore(cfg *app.Config, client *redis.Client) identity.Store {
	if cfg.MismatchStore == "memory" {
		return identity.NewMemoryStore()
	}
	return identity.NewRedisStore(client, "")
}
