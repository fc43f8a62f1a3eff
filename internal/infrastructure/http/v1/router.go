// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"abasto/internal/domain/pipeline"
	"abasto/internal/domain/registers/stock"
	"abasto/internal/infrastructure/http/v1/handlers"
	"abasto/internal/infrastructure/http/v1/middleware"
	"abasto/internal/infrastructure/storage/postgres"
	"abasto/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Pool is the database connection pool (for health checks).
	Pool *postgres.Pool

	// Logger for request logging.
	Logger *logger.Logger

	// TokenValidator validates bearer tokens. Nil disables auth, which
	// is only acceptable in local development.
	TokenValidator middleware.TokenValidator

	// Coordinator drives the procurement pipeline.
	Coordinator *pipeline.Coordinator

	// StockService serves register queries.
	StockService *stock.Service
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1
	api := router.Group("/api/v1")
	if cfg.TokenValidator != nil {
		api.Use(middleware.Auth(cfg.TokenValidator))
	}

	baseHandler := handlers.NewBaseHandler()

	requestHandler := handlers.NewRequestHandler(baseHandler, cfg.Coordinator)
	requests := api.Group("/requests")
	{
		requests.POST("", requestHandler.Create)
		requests.GET("/:id", requestHandler.Get)
		requests.POST("/:id/submit", requestHandler.Submit)
		requests.POST("/:id/approve", requestHandler.Approve)
		requests.POST("/:id/reject", requestHandler.Reject)
		requests.GET("/:id/record", requestHandler.Record)
		requests.GET("/:id/history", requestHandler.History)
		requests.POST("/:id/dispatches", requestHandler.Dispatch)
	}

	orderHandler := handlers.NewOrderHandler(baseHandler, cfg.Coordinator)
	orders := api.Group("/orders")
	{
		orders.POST("", orderHandler.Batch)
		orders.GET("/:id", orderHandler.Get)
		orders.POST("/:id/confirm", orderHandler.Confirm)
		orders.POST("/:id/cancel", orderHandler.Cancel)
		orders.POST("/:id/receipts", orderHandler.Receive)
	}

	stockHandler := handlers.NewStockHandler(baseHandler, cfg.StockService)
	stockGroup := api.Group("/stock")
	{
		stockGroup.GET("/balances", stockHandler.GetBalances)
		stockGroup.GET("/availability/:itemId", stockHandler.GetAvailability)
		stockGroup.GET("/movements/:itemId", stockHandler.GetMovements)
	}

	return router
}
