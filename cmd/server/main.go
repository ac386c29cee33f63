package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/LeeeWayyy/execution-core/internal/auth"
	"github.com/LeeeWayyy/execution-core/internal/broker"
	"github.com/LeeeWayyy/execution-core/internal/config"
	"github.com/LeeeWayyy/execution-core/internal/database"
	"github.com/LeeeWayyy/execution-core/internal/execution"
	"github.com/LeeeWayyy/execution-core/internal/ledger"
	"github.com/LeeeWayyy/execution-core/internal/orders"
	"github.com/LeeeWayyy/execution-core/internal/reconcile"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/scheduler"
	"github.com/LeeeWayyy/execution-core/internal/types"
	"github.com/LeeeWayyy/execution-core/pkg/middleware"
)

// Development credentials registered when not running in production.
var (
	devTraderKey    = "test-api-key"
	devTraderSecret = "test-api-secret"
	devAdminKey     = "ops-admin-key"
	devAdminSecret  = "ops-admin-secret"
)

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}

	if cfg.Logging.File != "" {
		zlog.Logger = zerolog.New(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		}).With().Timestamp().Logger()
	}
}

// main initializes and runs the execution core with graceful shutdown
// support. It wires the safety gate, broker adapter, and reconciliation
// pipeline before exposing the API.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	db, err := database.NewDatabase(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	maxNotional, err := decimal.NewFromString(cfg.Risk.MaxNotional)
	if err != nil {
		zlog.Fatal().Err(err).Str("max_notional", cfg.Risk.MaxNotional).Msg("Invalid risk configuration")
	}

	// Safety state and gate
	safetyService := safety.NewService(db)
	if err := safetyService.Seed(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed safety state")
	}
	gate := safety.NewGate(safetyService.DB(), safety.Limits{
		MaxOrderQuantity: cfg.Risk.MaxOrderQuantity,
		MaxNotional:      maxNotional,
		OrdersPerSecond:  cfg.Risk.OrdersPerSecond,
	}, cfg.Breaker.Freshness.Std())
	safetyHandlers := safety.NewGinHandlers(safetyService)

	// Reconciliation consumes broker callbacks.
	reconcileService := reconcile.NewService(db)
	verifier := reconcile.NewVerifier(cfg.Webhook.Secret)
	reconcileHandlers := reconcile.NewGinHandlers(reconcileService, verifier)

	// Broker adapter: the simulator plays callbacks straight into the
	// reconciler so development works without an external broker.
	var adapter broker.Adapter
	if cfg.Broker.Simulated {
		sim := broker.NewSimulator()
		sim.PartialFillRate = 0.3
		sim.OnEvent = func(event types.WebhookEvent) {
			if err := reconcileService.Apply(&event); err != nil {
				zlog.Error().Err(err).Msg("Failed to apply simulated broker event")
			}
		}
		adapter = sim
	} else {
		adapter = broker.NewHTTPAdapter(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.Timeout.Std())
	}
	zlog.Info().Str("adapter", adapter.Name()).Msg("Broker adapter initialized")

	// Core services
	executionService := execution.NewService(db, gate, adapter)
	executionHandlers := execution.NewGinHandlers(executionService)

	schedulerService := scheduler.NewService(db, executionService, cfg.Scheduler.MaxSlices)
	schedulerHandlers := scheduler.NewGinHandlers(schedulerService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if !cfg.IsProduction() {
		authService.RegisterAPICredentials(devTraderKey, devTraderSecret, auth.RoleTrader)
		authService.RegisterAPICredentials(devAdminKey, devAdminSecret, auth.RoleOperatorAdmin)
	}

	// Background stuck-order monitor
	monitor := orders.NewMonitor(executionService.Store(), cfg.Orders.MonitorEvery.Std(), cfg.Orders.StuckAfter.Std())
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	go monitor.Start(monitorCtx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg, authService, authHandlers, executionHandlers, schedulerHandlers, ledgerHandlers, safetyHandlers, reconcileHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Msg("Starting execution core")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop in-flight slice runs; interrupted runs are recorded as CANCELLED.
	schedulerService.Shutdown()

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Routes are grouped by concern:
//   - Auth routes: public token issuance
//   - Order routes: protected by JWT authentication
//   - Position routes: protected by JWT authentication
//   - Kill-switch routes: JWT-protected, disengage additionally requires the
//     operator_admin role
//   - Webhook routes: authenticated by HMAC signature, not tokens
//   - Internal routes: shared-secret header for the market-data pipeline
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	executionHandlers *execution.GinHandlers,
	schedulerHandlers *scheduler.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	safetyHandlers *safety.GinHandlers,
	reconcileHandlers *reconcile.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth(authService))
		{
			ordersGroup.POST("", executionHandlers.SubmitOrderHandler)
			ordersGroup.GET("/:order_id", executionHandlers.GetOrderHandler)
			ordersGroup.GET("/:order_id/children", executionHandlers.ListChildOrdersHandler)
			ordersGroup.GET("/:order_id/fills", ledgerHandlers.ListFillsHandler())
			ordersGroup.POST("/:order_id/cancel", executionHandlers.CancelOrderHandler)
		}

		// Sliced execution routes live beside /orders so the :order_id
		// parameter route does not collide with a static segment.
		if cfg.Scheduler.Enabled {
			sliced := v1.Group("/sliced-orders")
			sliced.Use(middleware.JWTAuth(authService))
			{
				sliced.POST("", schedulerHandlers.SubmitSlicedHandler)
				sliced.GET("/:run_id", schedulerHandlers.GetRunHandler)
			}
		}

		// Position routes
		positions := v1.Group("/positions")
		positions.Use(middleware.JWTAuth(authService))
		{
			positions.GET("", ledgerHandlers.ListPositionsHandler())
			positions.GET("/:symbol", ledgerHandlers.GetPositionHandler())
		}

		// Kill-switch routes
		killSwitch := v1.Group("/kill-switch")
		{
			killSwitch.POST("/engage", middleware.JWTAuth(authService), safetyHandlers.EngageHandler())
			killSwitch.POST("/disengage", middleware.OperatorAuth(authService, auth.RoleOperatorAdmin), safetyHandlers.DisengageHandler())
			killSwitch.GET("/status", middleware.JWTAuth(authService), safetyHandlers.StatusHandler())
			killSwitch.GET("/audit", middleware.JWTAuth(authService), safetyHandlers.AuditHandler())
		}

		// Broker webhook: authenticated by payload signature
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/broker", reconcileHandlers.WebhookHandler)
		}

		// Internal routes (market-data pipeline heartbeat)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.InternalSecret))
		{
			internal.POST("/breaker/heartbeat", safetyHandlers.HeartbeatHandler())
		}
	}
}
