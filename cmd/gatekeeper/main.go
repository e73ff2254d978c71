package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/gatekeeper/cmd/gatekeeper/cli"
	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args := os.Args[1:]; len(args) > 0 && args[0] != "serve" {
		os.Exit(cli.Run(ctx, args, os.Stdout, os.Stderr))
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	policy, err := app.LoadPolicy(cfg)
	if err != nil {
		logger.Error("load access policy", slog.Any("error", err))
		os.Exit(1)
	}

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

	deps := app.Deps{
		Logger:  logger,
		Config:  cfg,
		Redis:   redisClient,
		Policy:  policy,
		Metrics: observability.NewMetrics(),
	}

	var pool *pgxpool.Pool
	if cfg.UserStore == app.UserStoreMemory {
		logger.Warn("using in-memory user store; accounts are lost on restart")
		deps.Users = users.NewMemoryRepository()
	} else {
		pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		deps.Audit = shared.NewAuditLogger(pool)
		deps.Users = users.NewRepository(pool, deps.Audit)
		deps.LoginSessions = auth.NewRepository(pool)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	deps.Jobs = inspector

	handler, err := app.NewServer(deps)
	if err != nil {
		logger.Error("build server", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      handler,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           deps.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Int("rules", len(policy.Rules())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()
	go func() {
		logger.Info("starting metrics server", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", slog.Any("error", err))
	}
}
