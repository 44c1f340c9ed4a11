// Package gateway is the HTTP surface of the provisioning service.
package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/terminal-bench/cyclemint/internal/conversion"
	"github.com/terminal-bench/cyclemint/internal/costmodel"
	"github.com/terminal-bench/cyclemint/internal/ledger"
	"github.com/terminal-bench/cyclemint/internal/oracle"
	"github.com/terminal-bench/cyclemint/internal/saga"
	"github.com/terminal-bench/cyclemint/internal/txstore"
	"github.com/terminal-bench/cyclemint/pkg/lock"
)

// Config holds gateway configuration
type Config struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Gateway wires the provisioning pipeline behind HTTP handlers.
type Gateway struct {
	router      *gin.Engine
	ledger      ledger.Ledger
	store       txstore.Store
	engine      *conversion.Engine
	orch        *saga.Orchestrator
	rateLimiter *RateLimiter
}

// RateLimiter implements a sliding-window per-client limit.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewGateway creates the gateway and registers its routes.
func NewGateway(cfg Config, l ledger.Ledger, store txstore.Store, engine *conversion.Engine, orch *saga.Orchestrator) *Gateway {
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 60
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	g := &Gateway{
		router: gin.Default(),
		ledger: l,
		store:  store,
		engine: engine,
		orch:   orch,
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.correlationMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/quotes", g.quote)
		v1.POST("/provision", g.provision)

		v1.GET("/transactions/:id", g.getTransaction)
		v1.GET("/transactions/:id/history", g.getTransactionHistory)
		v1.GET("/transactions", g.listTransactions)
		v1.GET("/reconciliation", g.listReconciliation)

		v1.GET("/accounts/:id/balance", g.getBalance)
		v1.GET("/accounts/:id/entries", g.getEntries)
	}
}

// Start starts the gateway.
func (g *Gateway) Start(addr string) error {
	return g.router.Run(addr)
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// AllocationBody is the shared allocation portion of quote and
// provision requests.
type AllocationBody struct {
	MemoryUnits   int64 `json:"memory_units" binding:"required"`
	DurationDays  int64 `json:"duration_days" binding:"required"`
	InstanceCount int64 `json:"instance_count"`
}

// ProvisionRequest is the provision endpoint body.
type ProvisionRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	TargetID  string `json:"target_id" binding:"required"`
	AllocationBody
}

func (g *Gateway) quote(c *gin.Context) {
	var req AllocationBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cost, err := costmodel.Compute(costmodel.Request{
		MemoryUnits:   req.MemoryUnits,
		DurationDays:  req.DurationDays,
		InstanceCount: req.InstanceCount,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := g.engine.Plan(c.Request.Context(), cost.BufferedTotalCycles)
	if err != nil {
		if errors.Is(err, oracle.ErrPricingUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pricing unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cost":    cost,
		"plan":    plan,
		"credits": costmodel.CreditsToFund(cost.BufferedTotalCycles),
	})
}

func (g *Gateway) provision(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cost, err := costmodel.Compute(costmodel.Request{
		MemoryUnits:   req.MemoryUnits,
		DurationDays:  req.DurationDays,
		InstanceCount: req.InstanceCount,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := g.engine.Plan(c.Request.Context(), cost.BufferedTotalCycles)
	if err != nil {
		if errors.Is(err, oracle.ErrPricingUnavailable) {
			// Abort before any debit: no guessed prices.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pricing unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tx, err := g.orch.Run(c.Request.Context(), saga.Request{
		AccountID:        req.AccountID,
		TargetID:         req.TargetID,
		RequestedCredits: costmodel.CreditsToFund(cost.BufferedTotalCycles),
		Plan:             plan,
	})

	switch {
	case errors.Is(err, lock.ErrTargetBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "provisioning already in flight for target"})
	case errors.Is(err, ledger.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits", "transaction": tx})
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"transaction": tx,
			// Floor-rounded so the response never overstates what
			// actually arrived.
			"received_credits": costmodel.DisplayCredits(tx.ActualCyclesReceived),
		})
	case tx != nil && tx.State.NeedsReconciliation():
		// Value may have moved; the transaction is terminal but needs
		// an operator. Not an outright failure.
		c.JSON(http.StatusAccepted, gin.H{"transaction": tx, "reconciliation": true})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "transaction": tx})
	}
}

func (g *Gateway) getTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}

	rec, err := g.store.Get(c.Request.Context(), id)
	if errors.Is(err, txstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (g *Gateway) getTransactionHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}

	recs, err := g.store.History(c.Request.Context(), id)
	if errors.Is(err, txstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (g *Gateway) listTransactions(c *gin.Context) {
	from, err := parseTimeParam(c.DefaultQuery("from", ""), time.Time{})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := parseTimeParam(c.DefaultQuery("to", ""), time.Now().Add(time.Hour))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	recs, err := g.store.Range(c.Request.Context(), from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (g *Gateway) listReconciliation(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	recs, err := g.store.Reconciliation(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (g *Gateway) getBalance(c *gin.Context) {
	accountID := c.Param("id")
	balance, err := g.ledger.Balance(c.Request.Context(), accountID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "balance": balance})
}

func (g *Gateway) getEntries(c *gin.Context) {
	accountID := c.Param("id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	entries, err := g.ledger.Entries(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// Allow checks if a request is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := requests[:0]
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}
