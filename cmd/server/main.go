// Package main is the entry point for the abasto API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	domaingate "abasto/internal/domain/authgate"
	"abasto/internal/domain/pipeline"
	"abasto/internal/domain/policy"
	"abasto/internal/domain/registers/stock"
	"abasto/internal/infrastructure/auth"
	"abasto/internal/infrastructure/authgate"
	v1 "abasto/internal/infrastructure/http/v1"
	"abasto/internal/infrastructure/http/v1/middleware"
	"abasto/internal/infrastructure/storage/postgres"
	"abasto/internal/infrastructure/storage/postgres/document_repo"
	"abasto/internal/infrastructure/storage/postgres/register_repo"
	"abasto/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)
	log.Info("starting abasto server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	// --- Repositories ---
	requestRepo := document_repo.NewRequestRepo(txManager)
	orderRepo := document_repo.NewOrderRepo(txManager)
	receiptRepo := document_repo.NewReceiptRepo(txManager)
	dispatchRepo := document_repo.NewDispatchRepo(txManager)
	stockRepo := register_repo.NewStockRepo(txManager)

	stockService := stock.NewService(stockRepo)

	// --- Approval gate ---
	// APPROVAL_PINS holds responsible:bcrypt-hash pairs, comma separated.
	// When unset the gate is open and approval relies on the API token.
	var gate domaingate.Gate
	if pinHashes := parsePinHashes(getEnv("APPROVAL_PINS", "")); len(pinHashes) > 0 {
		gate = authgate.NewPinGate(pinHashes)
		log.Infow("approval pin gate enabled", "responsibles", len(pinHashes))
	}

	// --- Auto-approval policy ---
	var approver *policy.AutoApprover
	if rules := getEnv("AUTO_APPROVE_RULES", ""); rules != "" {
		engine, err := policy.NewEngine()
		if err != nil {
			log.Fatalw("failed to create policy engine", "error", err)
		}
		approver, err = policy.NewAutoApprover(engine, strings.Split(rules, ";"))
		if err != nil {
			log.Fatalw("failed to compile auto-approval rules", "error", err)
		}
		log.Info("auto-approval policy loaded")
	}

	// --- Audit sink ---
	auditSink, err := postgres.NewAuditSink(txManager)
	if err != nil {
		log.Fatalw("failed to create audit sink", "error", err)
	}

	// --- Coordinator ---
	coordinator := pipeline.New(pipeline.Config{
		TxManager:  txManager,
		Requests:   requestRepo,
		Orders:     orderRepo,
		Receipts:   receiptRepo,
		Dispatches: dispatchRepo,
		Stock:      stockService,
		Numberer:   postgres.NewNumberer(txManager),
		Gate:       gate,
		Approver:   approver,
		Sink:       auditSink,
	})

	// --- Token validation ---
	var validator middleware.TokenValidator
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		validator = auth.NewJWTService(auth.DefaultJWTConfig(secret))
	} else {
		log.Warn("JWT_SECRET not set, API runs without authentication")
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:           pool,
		Logger:         log,
		TokenValidator: validator,
		Coordinator:    coordinator,
		StockService:   stockService,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

// parsePinHashes parses "name:hash,name:hash" pairs.
func parsePinHashes(raw string) map[string]string {
	hashes := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, hash, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		hashes[name] = hash
	}
	return hashes
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}
