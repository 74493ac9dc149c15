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
	"github.com/hugh/parishdesk/internal/api"
	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/database"
	"github.com/hugh/parishdesk/internal/membership"
	"github.com/hugh/parishdesk/internal/session"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/hugh/parishdesk/pkg/config"
	"github.com/hugh/parishdesk/pkg/queue"
	"github.com/hugh/parishdesk/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
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

	logger.Info("starting parishdesk server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if cfg.Database.Migrate {
		if err := database.ApplyMigrations(db); err != nil {
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	// Redis is optional: without it sessions live in the database and
	// revocations are swept by the worker's schedule only.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("failed to connect to Redis", "error", err)
		_ = redisClient.Close()
		redisClient = nil
	}
	cancelPing()

	var sessions session.Store
	if cfg.Session.UseRedis() && redisClient != nil {
		sessions = session.NewRedisStore(redisClient)
		logger.Info("session store", "backend", "redis")
	} else {
		sessions = session.NewDBStore(db)
		logger.Info("session store", "backend", "database")
	}

	var asynqClient *asynq.Client
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
	}

	memberships := membership.NewStore(db)
	sync := tenancy.NewSynchronizer(memberships, memberships, sessions, cfg.Claims.RefreshAttempts, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, sessions, cfg.Session.TTL())

	routerCfg := api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Logger:         logger,
		JWTService:     jwtService,
		AuthService:    authService,
		Memberships:    memberships,
		Sessions:       sessions,
		Guard:          tenancy.NewGuard(sync),
		Gate:           tenancy.NewRoleGate(memberships, logger),
		Switcher:       tenancy.NewSwitcher(memberships, logger),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
	}
	// A nil *asynq.Client must not become a non-nil interface.
	if asynqClient != nil {
		routerCfg.Queue = asynqClient
	}
	router := api.NewRouter(routerCfg)
	defer router.Close()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if asynqClient != nil {
		asynqClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if err := database.Close(db); err != nil {
		logger.Error("failed to close database", "error", err)
	}

	logger.Info("server stopped")
}
