package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/auth"
	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/database"
	"github.com/quizline/quizline-backend/internal/handler"
	"github.com/quizline/quizline-backend/internal/ingest"
	"github.com/quizline/quizline-backend/internal/logger"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/middleware"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/quiz"
	"github.com/quizline/quizline-backend/internal/recovery"
	"github.com/quizline/quizline-backend/internal/router"
	"github.com/quizline/quizline-backend/internal/scoring"
	"github.com/quizline/quizline-backend/internal/session"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/validator"
	"github.com/quizline/quizline-backend/internal/ws"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Quizline Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Core infrastructure ───────────────────────────────────────────
	met := metrics.NewRegistry()
	sessionStore := store.NewRedisStore(rdb, log)
	answerLog := store.NewPostgresAnswerLog(pool, log)
	quizStore := quiz.NewCachingStore(quiz.NewPostgresStore(pool))
	bus := pubsub.NewRedisBus(rdb, log)
	registry := ws.NewRegistry()
	tokens := auth.NewTokenService(cfg)

	// ─── Runtime services ──────────────────────────────────────────────
	batcher := ingest.NewBatcher(answerLog, cfg.BatchInterval, cfg.BatchSize, log)
	scoringWorker := scoring.NewWorker(sessionStore, quizStore, bus, batcher, met, log)
	manager := session.NewManager(cfg, sessionStore, quizStore, bus, registry, rdb, scoringWorker, met, log)
	pipeline := ingest.NewPipeline(sessionStore, quizStore, bus, met, log)
	recoverySvc := recovery.NewService(sessionStore, quizStore, tokens, met, log)

	// Submissions are throttled per participant on the socket.
	submitLimiter := middleware.NewRateLimiter(10, time.Second)

	checker := metrics.NewHealthChecker(
		metrics.Dependency{
			Pinger: metrics.PingerFunc{
				PingerName: "redis",
				Fn:         func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			},
			Persistent: true,
		},
		metrics.Dependency{
			Pinger: metrics.PingerFunc{
				PingerName: "postgres",
				Fn:         func(ctx context.Context) error { return pool.Ping(ctx) },
			},
			Persistent: true,
		},
	)
	system := metrics.NewSystemSampler()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session:    handler.NewSessionHandler(cfg, manager, sessionStore, tokens, bus, log),
		WS:         handler.NewWSHandler(cfg, recoverySvc, pipeline, registry, sessionStore, bus, submitLimiter, met, log),
		Controller: handler.NewControllerHandler(manager, tokens, registry, met, log, cfg.AllowedOrigins),
		Health:     handler.NewHealthHandler(checker, met, system, registry),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	go batcher.Run(workerCtx)
	go checker.Run(workerCtx, 15*time.Second)
	go func() {
		if err := scoringWorker.Run(workerCtx); err != nil {
			log.Error().Err(err).Msg("scoring worker stopped")
		}
	}()
	go func() {
		if err := manager.RunEventRelay(workerCtx); err != nil {
			log.Error().Err(err).Msg("event relay stopped")
		}
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, tokens, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Release session leases so another instance can adopt.
	manager.Shutdown(shutdownCtx)

	// 3. Stop background workers and wait for the batcher to drain.
	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
