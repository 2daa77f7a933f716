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

	"github.com/redis/go-redis/v9"

	"github.com/meridian-suite/meridian-authz/internal/app"
	"github.com/meridian-suite/meridian-authz/internal/assignment"
	"github.com/meridian-suite/meridian-authz/internal/authz"
	authzcache "github.com/meridian-suite/meridian-authz/internal/authz/cache"
	authzhttp "github.com/meridian-suite/meridian-authz/internal/authz/http"
	"github.com/meridian-suite/meridian-authz/internal/observability"
	"github.com/meridian-suite/meridian-authz/internal/platform/db"
	"github.com/meridian-suite/meridian-authz/internal/policy"
	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/internal/shared"
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	policyService := policy.NewService(policy.NewRepository(pool, logger), nil, logger)
	assignmentStore := assignment.NewStore(assignment.NewRepository(pool), nil, logger)
	registryService := registry.NewService(registry.NewRepository(pool), nil, logger)

	engine := authz.NewEngine(assignmentStore, registryService, policyService, logger)
	decisionCache := authzcache.New(engine, redisClient, cfg.DecisionCacheTTL, metrics, logger)

	// Writes must flush affected verdicts before they are acknowledged; the
	// cache exists only now, so bind it onto the write paths late.
	policyService.SetInvalidator(decisionCache)
	assignmentStore.SetInvalidator(decisionCache)
	registryService.SetInvalidator(decisionCache)

	auditLogger := shared.NewAuditLogger(pool)
	policyService.SetAuditor(auditLogger)
	assignmentStore.SetAuditor(auditLogger)
	registryService.SetAuditor(auditLogger)

	handler := authzhttp.NewHandler(logger, decisionCache, metrics, cfg.AuthorizeTimeout)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthzHandler: handler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("authorization service listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
