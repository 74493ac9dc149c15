package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/parishdesk/internal/database"
	"github.com/hugh/parishdesk/internal/membership"
	"github.com/hugh/parishdesk/internal/session"
	"github.com/hugh/parishdesk/internal/tasks"
	"github.com/hugh/parishdesk/pkg/config"
	"github.com/hugh/parishdesk/pkg/queue"
	"github.com/hugh/parishdesk/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	if err := util.ValidateCronExpr(cfg.Housekeeping.Cron); err != nil {
		logger.Error("invalid HOUSEKEEPING_CRON", "error", err)
		os.Exit(1)
	}

	logger.Info("starting parishdesk worker", "cron", cfg.Housekeeping.Cron)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// The server falls back to database sessions when Redis is down, so the
	// sessions table is purged whatever the configured backend.
	handler := tasks.NewHandler(membership.NewStore(db), session.NewDBStore(db), logger)

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	srv := queue.NewServer(&cfg.Redis, cfg.Housekeeping.Concurrency, logger)
	if err := srv.Start(mux); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	scheduler := queue.NewScheduler(&cfg.Redis, logger)
	if err := tasks.Schedule(scheduler, cfg.Housekeeping.Cron); err != nil {
		logger.Error("failed to register schedule", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if next, err := util.NextCronTime(cfg.Housekeeping.Cron, time.Now()); err == nil {
		logger.Info("worker started", "next_housekeeping", next)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()

	if err := database.Close(db); err != nil {
		logger.Error("failed to close database", "error", err)
	}

	logger.Info("worker stopped")
}
