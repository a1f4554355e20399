package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pineos/referral-ledger/internal/infra/postgres"
	infraRedis "github.com/pineos/referral-ledger/internal/infra/redis"
	"github.com/pineos/referral-ledger/internal/ledger"
	"github.com/pineos/referral-ledger/internal/rules"
	"github.com/pineos/referral-ledger/internal/transport/httpapi"
	"github.com/pineos/referral-ledger/internal/transport/httpapi/handler"
	"github.com/pineos/referral-ledger/pkg/config"
	"github.com/pineos/referral-ledger/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting referral ledger API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Initialize database connection pool
	dbCfg := postgres.Config{
		URL: cfg.DatabaseURL,
	}
	db, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Initialize Redis-backed idempotency cache when configured.
	// The ledger works without it; the database stays authoritative.
	var idempotencyCache ledger.IdempotencyCache
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("Failed to connect to Redis, idempotency cache disabled", "error", err)
		} else {
			idempotencyCache = infraRedis.NewIdempotencyCache(redisClient, log)
			log.Info("Redis connection established")
		}
	} else {
		log.Info("REDIS_URL not configured, idempotency cache disabled")
	}

	// Initialize repositories
	ledgerRepo := postgres.NewLedgerRepository(db.Pool)
	ruleRepo := postgres.NewRuleRepository(db.Pool)

	// Initialize services
	ledgerSvc := ledger.NewService(ledgerRepo, idempotencyCache, log)
	ruleStore := rules.NewStore(ruleRepo, log)
	ruleEvaluator := rules.NewEvaluator(ruleRepo, ledgerSvc, log)
	log.Info("Ledger and rule services initialized")

	// Initialize HTTP handlers
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc)
	ruleHandler := handler.NewRuleHandler(ruleStore, ruleEvaluator)
	healthHandler := handler.NewHealthHandler(db.Pool)

	// Create HTTP router
	routerCfg := httpapi.Config{
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		LedgerHandler:  ledgerHandler,
		RuleHandler:    ruleHandler,
		HealthHandler:  healthHandler,
	}
	r := httpapi.NewRouter(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}
