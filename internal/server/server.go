// Package server wires the engine together and exposes it over HTTP.
//
// The server owns construction: it builds the policy tables from
// configuration, picks storage and settlement backends, connects the
// domain services to each other through their narrow interfaces, and
// registers routes with the right auth posture (public, key-holder,
// owner, operator). Background loops are started in Run and stopped
// through Shutdown.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/accordproto/accord/internal/auth"
	"github.com/accordproto/accord/internal/chainled"
	"github.com/accordproto/accord/internal/config"
	"github.com/accordproto/accord/internal/crosschain"
	"github.com/accordproto/accord/internal/escrow"
	"github.com/accordproto/accord/internal/health"
	"github.com/accordproto/accord/internal/logging"
	"github.com/accordproto/accord/internal/metrics"
	"github.com/accordproto/accord/internal/ratelimit"
	"github.com/accordproto/accord/internal/realtime"
	"github.com/accordproto/accord/internal/registry"
	"github.com/accordproto/accord/internal/reputation"
	"github.com/accordproto/accord/internal/revenue"
	"github.com/accordproto/accord/internal/security"
	"github.com/accordproto/accord/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	registry   *registry.Service
	escrow     *escrow.Service
	revenue    *revenue.Service
	reputation *reputation.Ledger
	crosschain *crosschain.Coordinator
	authMgr    *auth.Manager
	gateway    chainled.Gateway

	sweepTimer  *escrow.Timer
	distributor *revenue.Distributor
	syncWorker  *reputation.Worker
	partitions  *reputation.PartitionMaintainer // nil without Postgres
	hub         *realtime.Hub

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom settlement gateway (for testing)
func WithGateway(g chainled.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Economic policy tables from configuration
	tiers, err := registry.NewTierPolicy(cfg.TierThresholds)
	if err != nil {
		return nil, fmt.Errorf("tier policy: %w", err)
	}
	capPolicy, err := registry.NewCapabilityPolicy(cfg.CapabilityMinimums, cfg.DefaultMinStake)
	if err != nil {
		return nil, fmt.Errorf("capability policy: %w", err)
	}
	tierCaps, err := escrow.NewTierCaps(cfg.TierPaymentCaps)
	if err != nil {
		return nil, fmt.Errorf("tier payment caps: %w", err)
	}
	split, err := revenue.NewFeeSplit(cfg.FeeAgentBPS, cfg.FeePoolBPS, cfg.FeeTreasuryBPS)
	if err != nil {
		return nil, fmt.Errorf("fee split: %w", err)
	}
	table, err := crosschain.NewNetworkTable(networkSpecs(cfg.Networks))
	if err != nil {
		return nil, fmt.Errorf("network table: %w", err)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		regStore   registry.Store
		escStore   escrow.Store
		revStore   revenue.Store
		eventStore reputation.EventStore
		scoreStore reputation.NetworkScoreStore
		regnStore  crosschain.RegistrationStore
		authStore  auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		regStore = registry.NewPostgresStore(db)
		escStore = escrow.NewPostgresStore(db)
		revStore = revenue.NewPostgresStore(db)
		eventStore = reputation.NewPostgresEventStore(db)
		scoreStore = reputation.NewPostgresNetworkScoreStore(db)
		regnStore = crosschain.NewPostgresRegistrationStore(db)

		pgAuth := auth.NewPostgresStore(db)
		if err := pgAuth.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate auth store", "error", err)
		}
		authStore = pgAuth

		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		regStore = registry.NewMemoryStore()
		escStore = escrow.NewMemoryStore()
		revStore = revenue.NewMemoryStore()
		eventStore = reputation.NewMemoryEventStore()
		scoreStore = reputation.NewMemoryNetworkScoreStore()
		regnStore = crosschain.NewMemoryRegistrationStore()
		authStore = auth.NewMemoryStore()

		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Create settlement gateway if not injected
	if s.gateway == nil {
		switch cfg.GatewayMode {
		case "evm":
			gw, err := chainled.NewEVMGateway(chainled.EVMConfig{
				RPCURL:         cfg.RPCURL,
				PrivateKey:     cfg.PrivateKey,
				ChainID:        cfg.ChainID,
				TokenContracts: cfg.TokenContracts,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create evm gateway: %w", err)
			}
			s.gateway = gw
			s.logger.Info("evm settlement gateway enabled", "chain_id", cfg.ChainID)
		default:
			gw := chainled.NewMemoryGateway()
			if !cfg.IsProduction() {
				// Fund the treasury so pool distributions and claims
				// settle in demo deployments.
				if err := gw.Seed(cfg.TreasuryAddress, "1000000", cfg.DefaultCurrency); err != nil {
					s.logger.Warn("failed to seed treasury demo balance", "error", err)
				} else {
					s.logger.Info("seeded treasury demo balance", "address", cfg.TreasuryAddress)
				}
			}
			s.gateway = gw
			s.logger.Info("in-memory settlement gateway enabled")
		}
	}

	// Domain services. The registry is the shared directory: the
	// reputation ledger writes scores back to it, the coordinator
	// writes supported networks, and escrow reads tiers and records
	// execution outcomes through it.
	s.registry = registry.NewService(regStore, tiers, capPolicy).
		WithReputationPrior(cfg.ReputationPrior)

	s.reputation = reputation.NewLedger(eventStore, scoreStore, s.registry).
		WithAlpha(cfg.ReputationAlpha).
		WithPrior(cfg.ReputationPrior)

	s.crosschain = crosschain.NewCoordinator(table, regnStore, s.registry)

	payer := &treasuryPayer{gateway: s.gateway, treasury: cfg.TreasuryAddress, currency: cfg.DefaultCurrency}
	s.revenue = revenue.NewService(revStore, payer, split, cfg.StrictPeriods)

	s.escrow = escrow.NewService(escStore, s.gateway, s.registry, tierCaps, escrow.NewVerifierRegistry(), cfg.DefaultCurrency).
		WithOutcomeRecorder(s.reputation).
		WithRevenueAccumulator(s.revenue).
		WithRouteChecker(s.crosschain)

	s.authMgr = auth.NewManager(authStore)
	s.logger.Info("API authentication enabled")

	// Background loops
	s.sweepTimer = escrow.NewTimer(s.escrow, cfg.SweepInterval, s.logger)
	s.distributor = revenue.NewDistributor(s.revenue, cfg.DistributeInterval, s.logger)
	s.syncWorker = reputation.NewWorker(s.reputation, cfg.SyncInterval, s.logger)
	if s.db != nil {
		s.partitions = reputation.NewPartitionMaintainer(s.db, 24*time.Hour, s.logger)
	}

	// Realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Health checks. Loop checks are added in Run once the loops start.
	s.checks = health.NewRegistry()
	s.checks.Register("database", health.DB(s.db))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// networkSpecs converts the configured bridge table into the
// coordinator's network specs.
func networkSpecs(networks map[string]config.NetworkConfig) map[string]crosschain.NetworkSpec {
	specs := make(map[string]crosschain.NetworkSpec, len(networks))
	for id, n := range networks {
		specs[id] = crosschain.NetworkSpec{
			NativeCurrency:  n.NativeCurrency,
			BridgeProtocols: n.BridgeProtocols,
		}
	}
	return specs
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RPS = s.cfg.RateLimitRPS
		rlCfg.Burst = s.cfg.RateLimitRPS * 2
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// requireAgentOwner loads the agent named by the URL parameter and
// rejects the request unless the caller's API key belongs to the
// agent's owner. Must run after auth middleware.
func (s *Server) requireAgentOwner(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := auth.GetAPIKey(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}

		profile, err := s.registry.Get(c.Request.Context(), c.Param(param))
		if err != nil {
			if errors.Is(err, registry.ErrAgentNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
					"error":   "not_found",
					"message": "Agent not found",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load agent",
			})
			return
		}

		if !strings.EqualFold(profile.OwnerAddress, key.OwnerAddr) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You do not own this agent.",
			})
			return
		}

		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/livez", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API index
	s.router.GET("/", s.infoHandler)

	events := &realtimeEvents{s.hub}

	registryHandler := registry.NewHandler(s.registry).
		WithEvents(events).
		WithKeyIssuer(&authKeyIssuer{s.authMgr})
	escrowHandler := escrow.NewHandler(s.escrow).WithEvents(events)
	revenueHandler := revenue.NewHandler(s.revenue).WithEvents(events)
	reputationHandler := reputation.NewHandler(s.reputation).WithEvents(events)
	crosschainHandler := crosschain.NewHandler(s.crosschain)
	authHandler := auth.NewHandler(s.authMgr)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no auth required)
	// Registration is public and returns the owner's first API key;
	// everything else here is a read.
	registryHandler.RegisterRoutes(v1)
	escrowHandler.RegisterRoutes(v1)
	revenueHandler.RegisterRoutes(v1)
	reputationHandler.RegisterRoutes(v1)
	crosschainHandler.RegisterRoutes(v1)

	// AUTH INFO (public)
	v1.GET("/auth/info", authHandler.Info)

	// WebSocket for real-time streaming
	v1.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		escrowHandler.RegisterProtectedRoutes(protected)
		revenueHandler.RegisterProtectedRoutes(protected)
		reputationHandler.RegisterProtectedRoutes(protected)

		// Agent mutations (must own the agent)
		protected.POST("/agents/:id/restake", s.requireAgentOwner("id"), registryHandler.Restake)
		protected.POST("/agents/:id/deactivate", s.requireAgentOwner("id"), registryHandler.Deactivate)
		protected.POST("/agents/:id/networks", s.requireAgentOwner("id"), crosschainHandler.RegisterNetworks)

		// Payout history (must own the address)
		protected.GET("/revenue/claims/:address", auth.RequireOwnership(s.authMgr, "address"), revenueHandler.ListClaims)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.POST("/auth/keys/:keyId/regenerate", authHandler.RegenerateKey)
		protected.GET("/auth/me", authHandler.GetCurrentOwner)
	}

	// ADMIN ROUTES (operator only)
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAdmin())
	{
		escrowHandler.RegisterAdminRoutes(admin)
		revenueHandler.RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Health & info handlers
// -----------------------------------------------------------------------------

// HealthResponse is the payload of GET /healthz.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		switch {
		case st.Healthy && st.Detail != "":
			checks[st.Name] = st.Detail
		case st.Healthy:
			checks[st.Name] = "healthy"
		case st.Detail != "":
			checks[st.Name] = st.Detail
		default:
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Accord",
		"description": "Economic coordination engine for autonomous agents",
		"version":     "0.1.0",
		"currency":    s.cfg.DefaultCurrency,
		"endpoints": gin.H{
			"api":     "/v1",
			"health":  "/healthz",
			"metrics": "/metrics",
			"ws":      "/v1/ws",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, then blocks until
// the context is cancelled, a termination signal arrives, or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"gateway", s.cfg.GatewayMode,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start escrow expiry sweep
	go s.sweepTimer.Start(runCtx)

	// Start revenue pool distribution
	go s.distributor.Start(runCtx)

	// Start network score sync
	go s.syncWorker.Start(runCtx)

	// Keep future reputation event partitions provisioned
	if s.partitions != nil {
		go s.partitions.Start(runCtx)
	}

	// Sample connection pool stats into metrics
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup, and only then put
	// the loops under health watch.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.checks.Register("escrow_sweep", health.Loop("escrow_sweep", s.sweepTimer.Running))
		s.checks.Register("revenue_distribution", health.Loop("revenue_distribution", s.distributor.Running))
		s.checks.Register("reputation_sync", health.Loop("reputation_sync", s.syncWorker.Running))
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, loops)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop escrow sweep
	s.sweepTimer.Stop()
	s.logger.Info("escrow sweep stopped")

	// Stop revenue distributor
	s.distributor.Stop()
	s.logger.Info("revenue distributor stopped")

	// Stop reputation sync
	s.syncWorker.Stop()
	s.logger.Info("reputation sync stopped")

	// Stop partition maintenance
	if s.partitions != nil {
		s.partitions.Stop()
		s.logger.Info("partition maintenance stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// realtimeEvents fans handler events out to the websocket hub. It
// satisfies each package's EventEmitter interface so handlers stay
// decoupled from the hub type.
type realtimeEvents struct {
	hub *realtime.Hub
}

func (e *realtimeEvents) EmitAgentRegistered(data map[string]interface{}) {
	e.hub.BroadcastAgentRegistered(data)
}

func (e *realtimeEvents) EmitEscrowCreated(data map[string]interface{}) {
	e.hub.BroadcastEscrowCreated(data)
}

func (e *realtimeEvents) EmitMilestoneReleased(data map[string]interface{}) {
	e.hub.BroadcastMilestoneReleased(data)
}

func (e *realtimeEvents) EmitEscrowResolved(data map[string]interface{}) {
	e.hub.BroadcastEscrowResolved(data)
}

func (e *realtimeEvents) EmitReputationRecorded(data map[string]interface{}) {
	e.hub.BroadcastReputationRecorded(data)
}

func (e *realtimeEvents) EmitRevenueDistributed(data map[string]interface{}) {
	e.hub.BroadcastRevenueDistributed(data)
}

func (e *realtimeEvents) EmitRevenueClaimed(data map[string]interface{}) {
	e.hub.BroadcastRevenueClaimed(data)
}

// authKeyIssuer adapts auth.Manager to registry.KeyIssuer so agent
// registration can hand the owner their first key.
type authKeyIssuer struct {
	mgr *auth.Manager
}

func (i *authKeyIssuer) IssueKey(ctx context.Context, ownerAddr, name string) (string, string, error) {
	rawKey, key, err := i.mgr.GenerateKey(ctx, ownerAddr, name)
	if err != nil {
		return "", "", err
	}
	return rawKey, key.ID, nil
}

// treasuryPayer settles revenue claims out of the treasury account
// through the ledger gateway.
type treasuryPayer struct {
	gateway  chainled.Gateway
	treasury string
	currency string
}

func (p *treasuryPayer) Pay(ctx context.Context, recipient, amount, ref string) (string, error) {
	return p.gateway.Transfer(ctx, p.treasury, recipient, amount, p.currency, ref)
}
