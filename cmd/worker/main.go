package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-suite/meridian-authz/internal/app"
	"github.com/meridian-suite/meridian-authz/internal/assignment"
	"github.com/meridian-suite/meridian-authz/internal/authz"
	authzcache "github.com/meridian-suite/meridian-authz/internal/authz/cache"
	"github.com/meridian-suite/meridian-authz/internal/platform/db"
	"github.com/meridian-suite/meridian-authz/internal/policy"
	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/jobs"
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	policyService := policy.NewService(policy.NewRepository(pool, logger), nil, logger)
	assignmentStore := assignment.NewStore(assignment.NewRepository(pool), nil, logger)
	registryService := registry.NewService(registry.NewRepository(pool), nil, logger)

	engine := authz.NewEngine(assignmentStore, registryService, policyService, logger)
	decisionCache := authzcache.New(engine, redisClient, cfg.DecisionCacheTTL, nil, logger)

	warm := func(ctx context.Context, principalID, tenantID uuid.UUID, permission string) error {
		_, err := decisionCache.Authorize(ctx, principalID, tenantID, permission)
		return err
	}
	warmupJob := jobs.NewDecisionWarmupJob(warm, pool, logger, nil)
	scanJob := jobs.NewIntegrityScanJob(pool, logger, nil)

	warmupTask, err := jobs.NewDecisionWarmupTask(jobs.DecisionWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewIntegrityScanTask(jobs.IntegrityScanPayload{})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDecisionWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIntegrityScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: warmupTask},
			{Spec: "5 * * * *", Task: scanTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
