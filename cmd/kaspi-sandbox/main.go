package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PaymentResult mirrors the numeric result codes of the payment network.
type PaymentResult int

const (
	ResultSuccess      PaymentResult = 0
	ResultDeviceError  PaymentResult = 1
	ResultNotAvailable PaymentResult = 5
)

// GatewayResponse is the flat reply the gateway sends to check/pay calls.
type GatewayResponse struct {
	TxnID   string          `json:"txn_id"`
	PrvTxn  string          `json:"prv_txn,omitempty"`
	Result  PaymentResult   `json:"result"`
	Sum     string          `json:"sum,omitempty"`
	Comment string          `json:"comment"`
	Fields  json.RawMessage `json:"fields,omitempty"`
}

// PayRequest triggers one simulated customer payment.
type PayRequest struct {
	Account string  `json:"account" binding:"required"`
	Sum     float64 `json:"sum" binding:"required"`
}

// PayOutcome reports both legs of the simulated payment.
type PayOutcome struct {
	TxnID       string           `json:"txn_id"`
	Account     string           `json:"account"`
	Sum         float64          `json:"sum"`
	CheckResult *GatewayResponse `json:"check_result"`
	PayResult   *GatewayResponse `json:"pay_result,omitempty"`
	NetworkID   string           `json:"network_id"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// StatusRecord is what the gateway's status probe reads back.
type StatusRecord struct {
	Account string `json:"account"`
	Status  string `json:"status"`
	Sum     string `json:"sum"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string    `json:"status"`
	NetworkID   string    `json:"network_id"`
	Timestamp   time.Time `json:"timestamp"`
	SettleRate  float64   `json:"settle_rate"`
	GatewayBase string    `json:"gateway_base"`
}

// MockNetwork simulates the payment network: it drives the gateway's
// check/pay webhooks the way the real network would after a QR scan.
type MockNetwork struct {
	gatewayBase string
	settleRate  float64
	minDelay    time.Duration
	maxDelay    time.Duration
	networkID   string
	rng         *rand.Rand
	client      *http.Client

	mu       sync.RWMutex
	payments map[string]*StatusRecord
}

func NewMockNetwork(gatewayBase string, settleRate float64, minDelay, maxDelay time.Duration) *MockNetwork {
	return &MockNetwork{
		gatewayBase: gatewayBase,
		settleRate:  settleRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		networkID:   "MOCK_KASPI_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		client:      &http.Client{Timeout: 10 * time.Second},
		payments:    make(map[string]*StatusRecord),
	}
}

// newTxnID imitates the network's transaction reference format.
func (m *MockNetwork) newTxnID() string {
	return fmt.Sprintf("%d%04d", time.Now().UnixMilli(), m.rng.Intn(10000))
}

func (m *MockNetwork) call(command, txnID, account string, sum float64, extra url.Values) (*GatewayResponse, error) {
	q := url.Values{}
	q.Set("command", command)
	q.Set("txn_id", txnID)
	q.Set("account", account)
	q.Set("sum", fmt.Sprintf("%.2f", sum))
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	endpoint := fmt.Sprintf("%s/api/v1/kaspi/%s?%s", m.gatewayBase, command, q.Encode())
	resp, err := m.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	// The protocol answers HTTP 200 even on failures
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway answered status %d", resp.StatusCode)
	}

	var gr GatewayResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("malformed gateway response: %w", err)
	}
	return &gr, nil
}

// simulatePayment runs the full check-then-pay sequence against the gateway.
func (m *MockNetwork) simulatePayment(req *PayRequest) (*PayOutcome, error) {
	txnID := m.newTxnID()

	outcome := &PayOutcome{
		TxnID:       txnID,
		Account:     req.Account,
		Sum:         req.Sum,
		NetworkID:   m.networkID,
		ProcessedAt: time.Now(),
	}

	checkResp, err := m.call("check", txnID, req.Account, req.Sum, nil)
	if err != nil {
		return nil, err
	}
	outcome.CheckResult = checkResp

	if checkResp.Result != ResultSuccess {
		log.Warn().
			Str("txn_id", txnID).
			Str("account", req.Account).
			Int("result", int(checkResp.Result)).
			Str("comment", checkResp.Comment).
			Msg("Check declined, not paying")
		m.record(req.Account, "declined", req.Sum)
		return outcome, nil
	}

	// Customer confirms in the app after a short while
	time.Sleep(m.randomDelay())

	if !m.shouldSettle() {
		log.Warn().
			Str("txn_id", txnID).
			Str("account", req.Account).
			Msg("Customer abandoned the payment")
		m.record(req.Account, "abandoned", req.Sum)
		return outcome, nil
	}

	extra := url.Values{}
	extra.Set("txn_date", time.Now().Format("20060102150405"))
	payResp, err := m.call("pay", txnID, req.Account, req.Sum, extra)
	if err != nil {
		return nil, err
	}
	outcome.PayResult = payResp

	if payResp.Result == ResultSuccess {
		log.Info().
			Str("txn_id", txnID).
			Str("account", req.Account).
			Str("prv_txn", payResp.PrvTxn).
			Msg("Payment settled")
		m.record(req.Account, "settled", req.Sum)
	} else {
		log.Warn().
			Str("txn_id", txnID).
			Str("account", req.Account).
			Int("result", int(payResp.Result)).
			Str("comment", payResp.Comment).
			Msg("Payment rejected by gateway")
		m.record(req.Account, "rejected", req.Sum)
	}

	return outcome, nil
}

func (m *MockNetwork) record(account, status string, sum float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[account] = &StatusRecord{
		Account: account,
		Status:  status,
		Sum:     fmt.Sprintf("%.2f", sum),
	}
}

func (m *MockNetwork) lookup(account string) *StatusRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payments[account]
}

func (m *MockNetwork) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockNetwork) shouldSettle() bool {
	return m.rng.Float64() < m.settleRate
}

// Handler struct holds the mock network and routes
type Handler struct {
	network *MockNetwork
}

func NewHandler(network *MockNetwork) *Handler {
	return &Handler{network: network}
}

// Pay triggers a simulated customer payment against the gateway
func (h *Handler) Pay(c *gin.Context) {
	var req PayRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("account", req.Account).
		Float64("sum", req.Sum).
		Msg("Simulating customer payment")

	outcome, err := h.network.simulatePayment(&req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Gateway unreachable",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// PaymentStatus serves the status probe the gateway's kaspi client queries
func (h *Handler) PaymentStatus(c *gin.Context) {
	account := c.Query("account")

	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "account is required",
		})
		return
	}

	if rec := h.network.lookup(account); rec != nil {
		c.JSON(http.StatusOK, rec)
		return
	}

	c.JSON(http.StatusOK, StatusRecord{
		Account: account,
		Status:  "unknown",
		Sum:     "0.00",
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		NetworkID:   h.network.networkID,
		Timestamp:   time.Now(),
		SettleRate:  h.network.settleRate,
		GatewayBase: h.network.gatewayBase,
	})
}

// UpdateConfig allows changing network behavior at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SettleRate *float64 `json:"settle_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.SettleRate != nil {
		if *config.SettleRate >= 0 && *config.SettleRate <= 1.0 {
			h.network.settleRate = *config.SettleRate
			log.Info().Float64("rate", *config.SettleRate).Msg("Updated settle rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Configuration updated",
		"settle_rate": h.network.settleRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments", handler.Pay)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	// Status probe path matches what the gateway's client expects
	router.GET("/payment/status", handler.PaymentStatus)

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8082")
	gatewayBase := getEnv("GATEWAY_BASE_URL", "http://localhost:8080")
	settleRate := getEnvFloat("SETTLE_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 1*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 5*time.Second)

	log.Info().
		Str("port", port).
		Str("gateway", gatewayBase).
		Float64("settle_rate", settleRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Kaspi Network")

	// Create mock network
	network := NewMockNetwork(gatewayBase, settleRate, minDelay, maxDelay)
	handler := NewHandler(network)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
