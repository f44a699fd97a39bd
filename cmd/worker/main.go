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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/comptoir-erp/comptoir/internal/app"
	jobmetrics "github.com/comptoir-erp/comptoir/internal/jobs"
	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/lettering"
	"github.com/comptoir-erp/comptoir/internal/observability"
	"github.com/comptoir-erp/comptoir/internal/platform/db"
	"github.com/comptoir-erp/comptoir/jobs"
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registry())

	ledgerRepo := ledger.NewRepository(pool)
	letteringService := lettering.NewService(ledgerRepo, metrics, logger)

	letteringJob := jobs.NewLetteringHandler(letteringService, jobMetrics, logger)
	integrityJob := jobs.NewGLIntegrityHandler(ledgerRepo, metrics, jobMetrics, logger)

	recomputeTask, err := jobs.NewLetteringRecomputeTask("")
	if err != nil {
		logger.Error("build recompute task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewGLIntegrityTask(time.Time{}, time.Time{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLetteringRecompute, Handler: letteringJob.Handle},
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LetteringCron, Task: recomputeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.GLIntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobsHandler := jobs.NewHandler(inspector, logger)
	router := chi.NewRouter()
	jobsHandler.MountRoutes(router)
	router.Handle("/metrics", metrics.Handler())
	httpSrv := &http.Server{Addr: cfg.WorkerAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
