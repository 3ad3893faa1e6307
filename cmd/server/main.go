package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Duet/internal/config"
	"Duet/internal/events"
	"Duet/internal/handlers"
	"Duet/internal/middleware"
	"Duet/internal/push"
	"Duet/internal/repo"
	"Duet/internal/service"
	"Duet/internal/worker"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.NewConfig()

	// создаём предустановленный регистратор zap
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	// делаем регистратор SugaredLogger
	sugar := logger.Sugar()
	middleware.SetLogger(sugar) // передаём логгер в middleware
	//сброс буфера логгера
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Errorw("Failed to sync logger", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gormDB, err := repo.InitDB(cfg.DatabaseDSN, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize database", "error", err)
	}

	userRepo := repo.NewUserRepository(gormDB)
	pairingRepo := repo.NewPairingRepository(gormDB)
	messageRepo := repo.NewMessageRepository(gormDB)
	lockRepo := repo.NewSessionLockRepository(gormDB)

	hub := events.NewHub(sugar)
	if cfg.RedisAddr != "" {
		relay, err := events.NewRedisRelay(ctx, cfg.RedisAddr, cfg.RedisTLS, sugar)
		if err != nil {
			sugar.Fatalw("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer relay.Close()
		if err := hub.AttachRelay(ctx, relay); err != nil {
			sugar.Fatalw("failed to subscribe to redis", "error", err)
		}
		sugar.Infow("redis relay attached", "addr", cfg.RedisAddr)
	}

	var notifier push.Notifier = push.LogNotifier{Logger: sugar}
	if cfg.PushQueueURL != "" {
		sqsNotifier, err := push.NewSQSNotifier(ctx, cfg.PushQueueURL, cfg.SQSEndpoint)
		if err != nil {
			sugar.Fatalw("failed to init push queue", "error", err)
		}
		notifier = sqsNotifier
	}

	pairingService := service.NewPairingService(userRepo, pairingRepo, hub, sugar)
	svc := handlers.Services{
		Users:    service.NewUserService(userRepo, pairingService, sugar),
		Pairing:  pairingService,
		Messages: service.NewMessageService(userRepo, messageRepo, hub, notifier, cfg.BootstrapWindow, cfg.CatchupWindow, sugar),
		Sessions: service.NewSessionService(lockRepo, cfg.SessionLockTimeout, sugar),
	}

	limiter := middleware.NewLimiterStore(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute/4+1, 5*time.Minute)
	defer limiter.Stop()

	h := handlers.NewHandler(svc, limiter, sugar, cfg)

	housekeeper := worker.NewHousekeeper(messageRepo, pairingService,
		cfg.EnvelopeRetention, cfg.EnvelopeSweepInterval, cfg.RequestSweepInterval, sugar)
	go housekeeper.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.BaseURL,
		Handler:           h.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sugar.Infow(
		"Starting server",
		"addr", srv.Addr,
	)

	sugar.Infow("Config",
		"BaseURL", cfg.BaseURL,
		"EnableHTTPS", cfg.EnableHTTPS,
		"Redis", cfg.RedisAddr != "",
		"PushQueue", cfg.PushQueueURL != "",
		"EnvelopeRetention", cfg.EnvelopeRetention,
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	h.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}
}
