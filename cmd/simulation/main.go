package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/LeeeWayyy/execution-core/internal/auth"
	"github.com/LeeeWayyy/execution-core/internal/broker"
	"github.com/LeeeWayyy/execution-core/internal/config"
	"github.com/LeeeWayyy/execution-core/internal/database"
	"github.com/LeeeWayyy/execution-core/internal/execution"
	"github.com/LeeeWayyy/execution-core/internal/ledger"
	"github.com/LeeeWayyy/execution-core/internal/reconcile"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/scheduler"
	"github.com/LeeeWayyy/execution-core/internal/types"
	"github.com/LeeeWayyy/execution-core/pkg/middleware"
)

const (
	minOrders     = 15
	maxOrders     = 80
	numWorkers    = 5
	serverAddress = "http://localhost:8080"

	traderKey    = "test-api-key"
	traderSecret = "test-api-secret"
	adminKey     = "ops-admin-key"
	adminSecret  = "ops-admin-secret"
)

var (
	symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides   = []string{"BUY", "SELL"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the execution API
type simulationClient struct {
	baseURL    string
	authToken  string
	adminToken string
	client     *http.Client
	stats      map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client.
// It authenticates as both a trader and an operator admin.
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"submit":    {name: "Submit Order"},
			"duplicate": {name: "Duplicate Submit"},
			"get":       {name: "Get Order"},
			"cancel":    {name: "Cancel Order"},
			"sliced":    {name: "Sliced Order"},
			"positions": {name: "List Positions"},
			"kill":      {name: "Kill Switch"},
		},
	}

	token, err := sc.authenticate(traderKey, traderSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate trader: %w", err)
	}
	sc.authToken = token

	adminToken, err := sc.authenticate(adminKey, adminSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate admin: %w", err)
	}
	sc.adminToken = adminToken

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}
	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Data.Token, nil
}

// doJSON performs an authenticated request and decodes the standard envelope.
func (sc *simulationClient) doJSON(method, path, token string, payload interface{}, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return resp.StatusCode, nil
}

// submitOrder submits a new order and returns it, along with the HTTP status
// so callers can distinguish 201 (created) from 200 (idempotent replay).
func (sc *simulationClient) submitOrder(req *types.OrderRequest, statKey string) (*types.Order, int, error) {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var result struct {
		Data types.Order `json:"data"`
	}
	status, err := sc.doJSON("POST", "/api/v1/orders", sc.authToken, req, &result)
	if err != nil {
		sc.stats[statKey].failures++
		return nil, status, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		sc.stats[statKey].failures++
		return nil, status, fmt.Errorf("submit failed with status %d", status)
	}
	return &result.Data, status, nil
}

// getOrder retrieves the current state of an order
func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	var result struct {
		Data types.Order `json:"data"`
	}
	status, err := sc.doJSON("GET", "/api/v1/orders/"+orderID, sc.authToken, nil, &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get order failed with status %d", status)
	}
	return &result.Data, nil
}

// cancelOrder requests cancellation of an order
func (sc *simulationClient) cancelOrder(orderID string) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["cancel"].addDuration(time.Since(start))
	}()
	return sc.doJSON("POST", "/api/v1/orders/"+orderID+"/cancel", sc.authToken, nil, nil)
}

// submitSliced submits a parent order worked as timed slices
func (sc *simulationClient) submitSliced(req *types.SlicedOrderRequest) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["sliced"].addDuration(time.Since(start))
	}()

	var result struct {
		Data struct {
			Parent types.Order `json:"parent"`
			Run    struct {
				RunID string `json:"run_id"`
			} `json:"run"`
		} `json:"data"`
	}
	status, err := sc.doJSON("POST", "/api/v1/sliced-orders", sc.authToken, req, &result)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("sliced submit failed with status %d", status)
	}
	return result.Data.Run.RunID, nil
}

// listPositions fetches the current position book
func (sc *simulationClient) listPositions() ([]types.Position, error) {
	start := time.Now()
	defer func() {
		sc.stats["positions"].addDuration(time.Since(start))
	}()

	var result struct {
		Data []types.Position `json:"data"`
	}
	status, err := sc.doJSON("GET", "/api/v1/positions", sc.authToken, nil, &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list positions failed with status %d", status)
	}
	return result.Data, nil
}

// engageKillSwitch engages the kill switch as the trader (any authenticated
// client may engage; only operator admins may disengage).
func (sc *simulationClient) engageKillSwitch(operator, reason string) error {
	start := time.Now()
	defer func() {
		sc.stats["kill"].addDuration(time.Since(start))
	}()

	status, err := sc.doJSON("POST", "/api/v1/kill-switch/engage", sc.authToken, map[string]string{
		"operator": operator,
		"reason":   reason,
	}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("engage failed with status %d", status)
	}
	return nil
}

// disengageKillSwitch disengages using the operator-admin token
func (sc *simulationClient) disengageKillSwitch(operator, reason string) error {
	start := time.Now()
	defer func() {
		sc.stats["kill"].addDuration(time.Since(start))
	}()

	status, err := sc.doJSON("POST", "/api/v1/kill-switch/disengage", sc.adminToken, map[string]string{
		"operator":     operator,
		"reason":       reason,
		"confirmation": "CONFIRM",
	}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("disengage failed with status %d", status)
	}
	return nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the execution simulation. It starts a local API server with the
// simulated broker and drives the full order lifecycle: submission with
// duplicates, cancellation, sliced execution, the kill switch, and the
// resulting position book.
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	ordersChan := make(chan string, targetOrders)
	var duplicateHits int64
	var dupMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			hits := submitOrders(workerID, targetOrders/numWorkers, simClient, ordersChan)
			dupMu.Lock()
			duplicateHits += hits
			dupMu.Unlock()
		}(i)
	}

	wg.Wait()
	close(ordersChan)

	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}
	log.Info().Int("orders_created", len(orderIDs)).Int64("duplicate_hits", duplicateHits).Msg("All orders submitted")

	// Cancel a handful of orders; late fills may still win some of these.
	cancelled := 0
	for i, orderID := range orderIDs {
		if i%7 != 0 {
			continue
		}
		if status, err := simClient.cancelOrder(orderID); err == nil && status == http.StatusOK {
			cancelled++
		}
	}
	log.Info().Int("cancel_requests", cancelled).Msg("Cancellations requested")

	// Sliced execution
	limitPrice := decimal.NewFromInt(120)
	runID, err := simClient.submitSliced(&types.SlicedOrderRequest{
		OrderRequest: types.OrderRequest{
			Symbol:     "NVDA",
			Side:       "BUY",
			Quantity:   103,
			OrderType:  "LIMIT",
			LimitPrice: &limitPrice,
			StrategyID: "sim-twap",
		},
		Slices:        5,
		WindowSeconds: 3,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to submit sliced order")
	} else {
		log.Info().Str("run_id", runID).Msg("Sliced order running")
	}

	// Kill switch: engage, verify denial, disengage with the admin token.
	if err := simClient.engageKillSwitch("sim-operator", "simulation drill: verifying denial path"); err != nil {
		log.Error().Err(err).Msg("Failed to engage kill switch")
	}
	deniedPrice := decimal.NewFromInt(100)
	_, status, err := simClient.submitOrder(&types.OrderRequest{
		Symbol:     "AAPL",
		Side:       "BUY",
		Quantity:   10,
		OrderType:  "LIMIT",
		LimitPrice: &deniedPrice,
		StrategyID: "sim-denied",
	}, "submit")
	if status == http.StatusLocked {
		log.Info().Msg("Kill switch correctly denied submission with 423")
	} else {
		log.Error().Err(err).Int("status", status).Msg("Expected 423 while kill switch engaged")
	}
	if err := simClient.disengageKillSwitch("sim-operator", "simulation drill complete, resuming"); err != nil {
		log.Error().Err(err).Msg("Failed to disengage kill switch")
	}

	// Let simulated fills play back through the webhook pipeline.
	time.Sleep(4 * time.Second)

	// Summarize final order states.
	states := make(map[string]int)
	for _, orderID := range orderIDs {
		order, err := simClient.getOrder(orderID)
		if err != nil {
			continue
		}
		states[order.State]++
	}

	positions, err := simClient.listPositions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list positions")
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("EXECUTION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("\nOrder States")
	fmt.Println("------------")
	for state, count := range states {
		fmt.Printf("%-22s: %d\n", state, count)
	}
	fmt.Printf("%-22s: %d\n", "DUPLICATE_HITS", duplicateHits)

	fmt.Println("\nPositions")
	fmt.Println("---------")
	for _, pos := range positions {
		fmt.Printf("%-6s qty=%6d avg=%10s realized=%10s\n",
			pos.Symbol, pos.Quantity, pos.AvgEntryPrice.StringFixed(2), pos.RealizedPnL.StringFixed(2))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	simClient.printPerformanceStats()
}

// submitOrders generates and submits random orders, deliberately resubmitting
// some of them to exercise the idempotency path. Returns the number of
// duplicate submissions that resolved to an existing order.
func submitOrders(workerID, numOrders int, simClient *simulationClient, ordersChan chan<- string) int64 {
	var duplicateHits int64

	for i := 0; i < numOrders; i++ {
		price := decimal.NewFromInt(int64(rand.Intn(900) + 100))
		req := &types.OrderRequest{
			Symbol:     symbols[rand.Intn(len(symbols))],
			Side:       sides[rand.Intn(len(sides))],
			Quantity:   int64(rand.Intn(100) + 1),
			OrderType:  "LIMIT",
			LimitPrice: &price,
			StrategyID: fmt.Sprintf("sim-worker-%d-%d", workerID, i),
		}

		order, _, err := simClient.submitOrder(req, "submit")
		if err != nil {
			log.Error().Err(err).Int("worker_id", workerID).Str("symbol", req.Symbol).Msg("Failed to submit order")
			continue
		}
		ordersChan <- order.OrderID

		log.Info().
			Int("worker_id", workerID).
			Str("order_id", order.OrderID).
			Str("symbol", req.Symbol).
			Str("side", req.Side).
			Int64("quantity", req.Quantity).
			Msg("Order submitted")

		// Every third order is resubmitted verbatim; the API must return
		// the same order with 200 instead of creating a new one.
		if i%3 == 0 {
			dup, status, err := simClient.submitOrder(req, "duplicate")
			if err == nil && status == http.StatusOK && dup.OrderID == order.OrderID {
				duplicateHits++
			} else {
				log.Error().Err(err).Int("status", status).Msg("Duplicate submission was not deduplicated")
			}
		}

		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
	return duplicateHits
}

// startServer initializes and starts the execution API with the simulated
// broker wired straight into the reconciliation pipeline.
func startServer() error {
	cfg := config.Default()
	cfg.Database.Path = "simulation.db"
	cfg.Webhook.Secret = "simulation-webhook-secret"

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	maxNotional, err := decimal.NewFromString(cfg.Risk.MaxNotional)
	if err != nil {
		return err
	}

	safetyService := safety.NewService(db)
	if err := safetyService.Seed(); err != nil {
		return err
	}
	gate := safety.NewGate(safetyService.DB(), safety.Limits{
		MaxOrderQuantity: cfg.Risk.MaxOrderQuantity,
		MaxNotional:      maxNotional,
		OrdersPerSecond:  cfg.Risk.OrdersPerSecond,
	}, 0)

	reconcileService := reconcile.NewService(db)
	verifier := reconcile.NewVerifier(cfg.Webhook.Secret)

	sim := broker.NewSimulator()
	sim.PartialFillRate = 0.3
	sim.OnEvent = func(event types.WebhookEvent) {
		if err := reconcileService.Apply(&event); err != nil {
			log.Error().Err(err).Msg("Failed to apply simulated broker event")
		}
	}

	executionService := execution.NewService(db, gate, sim)
	schedulerService := scheduler.NewService(db, executionService, cfg.Scheduler.MaxSlices)
	ledgerService := ledger.NewService(db)

	authService := auth.NewService(cfg.Auth.JWTSecret)
	authService.RegisterAPICredentials(traderKey, traderSecret, auth.RoleTrader)
	authService.RegisterAPICredentials(adminKey, adminSecret, auth.RoleOperatorAdmin)

	router := gin.Default()
	setupRoutes(router, cfg, authService,
		auth.NewGinHandlers(authService),
		execution.NewGinHandlers(executionService),
		scheduler.NewGinHandlers(schedulerService),
		ledger.NewGinHandlers(ledgerService),
		safety.NewGinHandlers(safetyService),
		reconcile.NewGinHandlers(reconcileService, verifier),
	)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
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
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth(authService))
		{
			ordersGroup.POST("", executionHandlers.SubmitOrderHandler)
			ordersGroup.GET("/:order_id", executionHandlers.GetOrderHandler)
			ordersGroup.GET("/:order_id/children", executionHandlers.ListChildOrdersHandler)
			ordersGroup.GET("/:order_id/fills", ledgerHandlers.ListFillsHandler())
			ordersGroup.POST("/:order_id/cancel", executionHandlers.CancelOrderHandler)
		}

		sliced := v1.Group("/sliced-orders")
		sliced.Use(middleware.JWTAuth(authService))
		{
			sliced.POST("", schedulerHandlers.SubmitSlicedHandler)
			sliced.GET("/:run_id", schedulerHandlers.GetRunHandler)
		}

		positions := v1.Group("/positions")
		positions.Use(middleware.JWTAuth(authService))
		{
			positions.GET("", ledgerHandlers.ListPositionsHandler())
			positions.GET("/:symbol", ledgerHandlers.GetPositionHandler())
		}

		killSwitch := v1.Group("/kill-switch")
		{
			killSwitch.POST("/engage", middleware.JWTAuth(authService), safetyHandlers.EngageHandler())
			killSwitch.POST("/disengage", middleware.OperatorAuth(authService, auth.RoleOperatorAdmin), safetyHandlers.DisengageHandler())
			killSwitch.GET("/status", middleware.JWTAuth(authService), safetyHandlers.StatusHandler())
			killSwitch.GET("/audit", middleware.JWTAuth(authService), safetyHandlers.AuditHandler())
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/broker", reconcileHandlers.WebhookHandler)
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.InternalSecret))
		{
			internal.POST("/breaker/heartbeat", safetyHandlers.HeartbeatHandler())
		}
	}
}
