package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nika/server/internal/auth"
	"github.com/nika/server/internal/broker"
	"github.com/nika/server/internal/chat"
	"github.com/nika/server/internal/config"
	"github.com/nika/server/internal/db"
	"github.com/nika/server/internal/gateway"
	httphandler "github.com/nika/server/internal/http"
	"github.com/nika/server/internal/http/handlers"
	"github.com/nika/server/internal/llm"
	"github.com/nika/server/internal/payments"
	"github.com/nika/server/internal/repo"
	"github.com/nika/server/internal/session"
	"github.com/nika/server/internal/sms"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config_load_failed", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	// ctx lives until SIGINT/SIGTERM and bounds every background worker.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("db_open_failed", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database, logger); err != nil {
		logger.Fatal("db_migrate_failed", zap.Error(err))
	}

	userRepo := repo.NewUserRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	limitRepo := repo.NewLimitRepo(database)
	tokenRepo := repo.NewTokenRepo(database)
	messageRepo := repo.NewMessageRepo(database)
	orderRepo := repo.NewOrderRepo(database)

	codes := auth.NewCodeStore(otpRepo, auth.NewCodeGenerator(cfg.OTPSecret), cfg.OTPSalt)
	limits := auth.NewRateLimiter(limitRepo)
	tokens := auth.NewTokenService(auth.NewJWTService(cfg.JWTSecret), tokenRepo, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	smsClient := sms.NewClient(cfg.SMSAPIKey, cfg.SMSSender, cfg.SMSDryRun, logger)
	authService := auth.NewAuthService(codes, limits, tokens, userRepo, smsClient, logger)

	chatService := chat.NewService(messageRepo, llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel), cfg.AssistantName, logger)
	paymentService := payments.NewService(orderRepo, cfg.PaymentPassword, logger)

	var wg sync.WaitGroup

	reaper := auth.NewReaper(codes, limits, cfg.ReaperInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()

	sessions := session.NewRegistry()
	rooms := session.NewRooms()
	checks := map[string]handlers.Check{
		"db": func(ctx context.Context) error { return db.Ping(ctx, database) },
	}

	var pub gateway.Publisher = broker.NewLocal(rooms)
	if cfg.RedisURL != "" {
		client, err := broker.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("redis_connect_failed", zap.Error(err))
		}
		defer client.Close()

		relay := broker.NewRelay(client, rooms, logger)
		pub = relay
		checks["redis"] = func(ctx context.Context) error { return broker.Ping(ctx, client) }

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				logger.Error("room_relay_stopped", zap.Error(err))
			}
		}()
	}

	orch := gateway.NewOrchestrator(authService, chatService, sessions, rooms, pub, logger)

	router := httphandler.NewRouter(ctx, httphandler.Handlers{
		Health:   handlers.NewHealthHandler(checks, logger),
		Auth:     handlers.NewAuthHandler(authService, logger),
		Payments: handlers.NewPaymentsHandler(paymentService, logger),
		WS:       handlers.NewWSHandler(ctx, orch, cfg.AllowedOrigins, logger),
	}, authService, logger)

	// No WriteTimeout: it would cut long-lived websocket connections.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server_starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websockets are not tracked by Shutdown; they close through ctx.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_forced_shutdown", zap.Error(err))
	}
	wg.Wait()

	logger.Info("server_exited", zap.Int("open_sessions", sessions.Len()))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
