package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"twap-core/internal/balance"
	"twap-core/internal/events"
	"twap-core/internal/monitor"
	"twap-core/internal/order"
	"twap-core/internal/reconciliation"
	"twap-core/pkg/cache"
	"twap-core/pkg/tokens"
)

// AttemptReader returns the execution attempt history of an order, newest first.
type AttemptReader interface {
	ByOrder(ctx context.Context, orderID uint64, limit int) ([]order.Attempt, error)
}

// Reconciler runs or returns the latest escrow audit.
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconciliation.Report, error)
	Last() *reconciliation.Report
}

// Config holds the HTTP layer settings.
type Config struct {
	JWTSecret      string
	JWTTTL         time.Duration
	NonceTTL       time.Duration
	EnableFaucet   bool
	CORSOrigins    []string
	RateLimit      float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

// Deps are the services the API fronts. Attempts and Reconciler may be nil.
type Deps struct {
	Manager    *order.Manager
	Engine     *order.Engine
	Query      *order.QueryService
	Ledger     *balance.Ledger
	Tokens     *tokens.Registry
	Clock      order.Clock
	Attempts   AttemptReader
	Reconciler Reconciler
	Metrics    *monitor.SystemMetrics
	Bus        *events.Bus
}

// Server wires HTTP routes to the order engine.
type Server struct {
	Router *gin.Engine

	manager    *order.Manager
	engine     *order.Engine
	query      *order.QueryService
	ledger     *balance.Ledger
	tokens     *tokens.Registry
	clock      order.Clock
	attempts   AttemptReader
	reconciler Reconciler
	metrics    *monitor.SystemMetrics
	bus        *events.Bus

	nonces       *cache.ShardedTTLCache[string]
	jwtSecret    string
	jwtTTL       time.Duration
	enableFaucet bool
}

func NewServer(deps Deps, cfg Config) *Server {
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = 24 * time.Hour
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 5 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = order.SystemClock{}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(deps.Metrics))
	r.Use(RateLimitMiddleware(cfg.RateLimit, cfg.RateLimitBurst))
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	s := &Server{
		Router:       r,
		manager:      deps.Manager,
		engine:       deps.Engine,
		query:        deps.Query,
		ledger:       deps.Ledger,
		tokens:       deps.Tokens,
		clock:        deps.Clock,
		attempts:     deps.Attempts,
		reconciler:   deps.Reconciler,
		metrics:      deps.Metrics,
		bus:          deps.Bus,
		nonces:       cache.NewShardedTTLCache[string](cfg.NonceTTL),
		jwtSecret:    cfg.JWTSecret,
		jwtTTL:       cfg.JWTTTL,
		enableFaucet: cfg.EnableFaucet,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/tokens", s.listTokens)
		api.GET("/metrics", s.getMetrics)
		api.GET("/reconciliation", s.getReconciliation)

		auth := api.Group("/auth")
		auth.POST("/nonce", s.issueNonce)
		auth.POST("/login", s.login)

		api.GET("/orders/executable", s.listExecutable)
		api.GET("/orders/:id", s.getOrder)
		api.GET("/orders/:id/summary", s.getOrderSummary)
		api.GET("/orders/:id/attempts", s.getOrderAttempts)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		protected.POST("/orders", s.createOrder)
		protected.GET("/orders", s.listMyOrders)
		protected.POST("/orders/:id/execute", s.executeOrder)
		protected.POST("/orders/:id/cancel", s.cancelOrder)
		protected.GET("/balances", s.getBalances)
		protected.POST("/approve", s.approve)
		protected.POST("/faucet", s.faucet)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   s.clock.Now(),
	})
}

// CleanupNonces drops expired login nonces.
func (s *Server) CleanupNonces() int {
	return s.nonces.Cleanup()
}
