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

	"github.com/arvalox/arvalox/cmd/arvalox/cli"
	"github.com/arvalox/arvalox/internal/aging"
	"github.com/arvalox/arvalox/internal/app"
	"github.com/arvalox/arvalox/internal/ar"
	"github.com/arvalox/arvalox/internal/observability"
	"github.com/arvalox/arvalox/internal/platform/cache"
	"github.com/arvalox/arvalox/internal/platform/db"
	"github.com/arvalox/arvalox/internal/shared"
	"github.com/arvalox/arvalox/internal/usage"
	"github.com/arvalox/arvalox/jobs"
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, os.Args[2:]))
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{Application: "arvalox-api"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var locker usage.Locker
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, usage locks are process-local", slog.Any("error", err))
		locker = usage.NewLocalLocker()
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		locker = usage.NewRedisLocker(redisClient, cfg.UsageLockTTL, cfg.UsageLockWait)
	}

	metrics := observability.NewMetrics()

	usageRepo := usage.NewRepository(dbpool)
	usageService := usage.NewService(usageRepo, usageRepo, locker, logger).
		WithRegisterer(metrics.Registerer())
	usageHandler := usage.NewHandler(logger, usageService)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	arRepo := ar.NewRepository(dbpool)
	arService := ar.NewService(arRepo, usageService, auditLogger, idempotencyStore, logger)
	arHandler := ar.NewHandler(logger, arService)

	agingRepo := aging.NewRepository(dbpool)
	agingService := aging.NewService(agingRepo, logger).WithAtRiskThreshold(cfg.AgingAtRiskThreshold)
	agingHandler := aging.NewHandler(logger, agingService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		ARHandler:    arHandler,
		AgingHandler: agingHandler,
		UsageHandler: usageHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
		Usage:        usageService,
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

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		slog.Default().Error("jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() {
		_ = jobsCLI.Close()
	}()
	return cli.JobsCommand(ctx, jobsCLI, args, os.Stdout, os.Stderr)
}
