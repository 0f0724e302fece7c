// Package server sets up the HTTP server with all routes
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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/authorize"
	"github.com/mbd888/tiptap/internal/banklink"
	"github.com/mbd888/tiptap/internal/checkout"
	"github.com/mbd888/tiptap/internal/circuitbreaker"
	"github.com/mbd888/tiptap/internal/config"
	"github.com/mbd888/tiptap/internal/device"
	"github.com/mbd888/tiptap/internal/fraud"
	"github.com/mbd888/tiptap/internal/gateways/sandbox"
	"github.com/mbd888/tiptap/internal/gateways/stripe"
	"github.com/mbd888/tiptap/internal/health"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/metrics"
	"github.com/mbd888/tiptap/internal/payment"
	"github.com/mbd888/tiptap/internal/ratelimit"
	"github.com/mbd888/tiptap/internal/realtime"
	"github.com/mbd888/tiptap/internal/receipts"
	"github.com/mbd888/tiptap/internal/reconciliation"
	"github.com/mbd888/tiptap/internal/retry"
	"github.com/mbd888/tiptap/internal/securestore"
	"github.com/mbd888/tiptap/internal/security"
	"github.com/mbd888/tiptap/internal/session"
	"github.com/mbd888/tiptap/internal/tip"
	"github.com/mbd888/tiptap/internal/validation"
	"github.com/mbd888/tiptap/internal/webhooks"
	"github.com/mbd888/tiptap/migrations"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// SandboxGatewayID is the always-on test gateway.
const SandboxGatewayID = "sandbox"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	// Storage
	db          *sql.DB // nil unless DATABASE_URL is set
	sqlite      *securestore.SQLiteBackend
	backend     securestore.Backend
	secure      securestore.Store
	paymentRepo payment.Store

	// Domain
	deviceInfo   device.InfoProvider
	identity     *device.Identity
	detector     *fraud.Detector
	pins         *authn.PINAuthenticator
	gate         *authn.Gate
	sessions     *session.Manager
	authorizer   *authorize.Authorizer
	orchestrator *payment.Orchestrator
	checkout     *checkout.Service
	linker       *banklink.Linker
	webhooks     *webhooks.Processor
	receipts     *receipts.Issuer
	extraGWs     []registeredGateway

	realtimeHub    *realtime.Hub
	reconcileTimer *reconciliation.Timer
	health         *health.Registry
	rateLimiter    *ratelimit.Limiter
	credLimiter    *ratelimit.Limiter
	unsubscribe    func()

	router       *gin.Engine
	httpSrv      *http.Server
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

type registeredGateway struct {
	gw      payment.Gateway
	adapter payment.Adapter
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSecureBackend replaces the SQLite secure store (for testing)
func WithSecureBackend(b securestore.Backend) Option {
	return func(s *Server) {
		s.backend = b
	}
}

// WithPaymentStore sets a custom transaction store (for testing)
func WithPaymentStore(store payment.Store) Option {
	return func(s *Server) {
		s.paymentRepo = store
	}
}

// WithGateway registers an extra gateway next to the sandbox.
func WithGateway(gw payment.Gateway, adapter payment.Adapter) Option {
	return func(s *Server) {
		s.extraGWs = append(s.extraGWs, registeredGateway{gw: gw, adapter: adapter})
	}
}

// WithDeviceInfo sets the fingerprint source. The default reports only
// the configured device id.
func WithDeviceInfo(p device.InfoProvider) Option {
	return func(s *Server) {
		s.deviceInfo = p
	}
}

// WithDrainDelay sets how long Shutdown waits before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set logger/storage)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	if err := s.setupStorage(ctx); err != nil {
		s.closeStorage()
		return nil, err
	}
	if err := s.setupServices(ctx); err != nil {
		s.closeStorage()
		return nil, err
	}
	s.setupHealth()

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStorage picks Postgres when DATABASE_URL is set and the device-local
// SQLite file otherwise.
func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		s.db = db

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

		if s.backend == nil {
			s.backend = securestore.NewPostgresBackend(db)
		}
		if s.paymentRepo == nil {
			s.paymentRepo = payment.NewPostgresStore(db)
		}
	}

	if s.backend == nil {
		lite, err := securestore.OpenSQLite(ctx, s.cfg.SecureStorePath)
		if err != nil {
			return fmt.Errorf("failed to open secure store: %w", err)
		}
		s.sqlite = lite
		if err := lite.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate secure store: %w", err)
		}
		s.backend = lite
		s.logger.Info("using SQLite secure store", "path", s.cfg.SecureStorePath)
	}
	if s.paymentRepo == nil {
		s.paymentRepo = payment.NewMemoryStore()
		s.logger.Info("using in-memory transaction store")
	}

	s.secure = securestore.New(s.backend, s.cfg.DeviceID)
	return nil
}

func (s *Server) setupServices(ctx context.Context) error {
	cfg := s.cfg
	password := cfg.DeviceStorePassword

	// Device identity
	if s.deviceInfo == nil {
		s.deviceInfo = device.Static{DeviceID: cfg.DeviceID, UserAgent: "tiptap-server/" + Version}
	}
	s.identity = device.NewIdentity(s.deviceInfo, s.secure, password, s.logger)

	// Fraud detection
	defaults := fraud.DefaultConfig()
	defaults.Enabled = cfg.FraudEnabled
	defaults.BlockThreshold = float64(cfg.FraudBlockThreshold)
	defaults.StepUpThreshold = float64(cfg.FraudStepUpThreshold)
	defaults.FailurePolicy = fraud.FailurePolicy(cfg.FraudFailurePolicy)
	fraudStore := fraud.NewSecureStore(s.secure, password, cfg.FraudHistoryRetention)
	s.detector = fraud.NewDetector(fraudStore, s.identity, defaults, s.logger)

	// Authentication. Server requests carry their own credentials, so the
	// base gate only knows the PIN store.
	s.pins = authn.NewPINAuthenticator(s.secure, password, cfg.DeviceID, authn.PINConfig{
		Length:         cfg.PINLength,
		MaxAttempts:    cfg.PINMaxAttempts,
		Lockout:        cfg.PINLockout,
		RequireComplex: cfg.PINRequireComplex,
	}, s.logger)
	s.gate = authn.NewGate(nil, nil, s.pins, s.logger).WithTimeout(cfg.ChallengeTimeout)

	// Sessions
	s.sessions = session.NewManager(session.Config{
		SessionTimeout:      cfg.SessionTimeout,
		AutoLock:            cfg.AutoLockTimeout,
		LockOnBackground:    cfg.LockOnBackground,
		RequireAuthToUnlock: cfg.RequireAuthToUnlock,
	}, s.secure, password, s.gate, s.logger)
	if _, _, err := s.sessions.Restore(ctx); err != nil {
		s.logger.Warn("failed to restore session", "error", err)
	}

	// Realtime event stream
	s.realtimeHub = realtime.NewHub(s.logger)
	s.unsubscribe = s.sessions.Subscribe(s.realtimeHub.PublishSession)

	// Authorization
	s.authorizer = authorize.New(s.sessions, s.detector, s.gate, s.logger).
		WithRequireAuth(cfg.RequireAuthForPayments)

	// Payments
	breaker := circuitbreaker.New(5, 30*time.Second)
	breaker.OnTransition(func(gateway string, from, to circuitbreaker.State) {
		s.logger.Warn("gateway circuit changed", "gateway", gateway, "from", from.String(), "to", to.String())
		metrics.GatewayCircuitState.WithLabelValues(gateway).Set(float64(to))
	})
	s.orchestrator = payment.NewOrchestrator(s.paymentRepo, s.logger).
		WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.GatewayMaxAttempts,
			BaseDelay:   cfg.GatewayBaseDelay,
			MaxDelay:    30 * time.Second,
		}).
		WithCircuitBreaker(breaker)

	if err := s.orchestrator.Register(payment.Gateway{
		ID:                  SandboxGatewayID,
		Name:                "Sandbox",
		Type:                payment.GatewayMock,
		IsActive:            true,
		SupportedCurrencies: []string{"USD", "CAD", "GBP", "EUR", "AUD"},
	}, sandbox.New()); err != nil {
		return fmt.Errorf("failed to register sandbox gateway: %w", err)
	}
	if cfg.StripeEnabled() {
		if err := s.orchestrator.Register(payment.Gateway{
			ID:                  "stripe",
			Name:                "Stripe",
			Type:                payment.GatewayStripe,
			IsActive:            true,
			SupportedCurrencies: []string{"USD", "CAD", "GBP", "EUR", "AUD"},
			SupportedCountries:  []string{"US", "CA", "GB", "AU", "DE", "FR", "IT", "ES", "NL", "SE"},
		}, stripe.New(cfg.StripeSecretKey, s.logger)); err != nil {
			return fmt.Errorf("failed to register stripe gateway: %w", err)
		}
		s.logger.Info("stripe gateway enabled")
	}
	for _, g := range s.extraGWs {
		if err := s.orchestrator.Register(g.gw, g.adapter); err != nil {
			return fmt.Errorf("failed to register gateway %s: %w", g.gw.ID, err)
		}
	}

	s.checkout = checkout.New(s.authorizer, s.orchestrator, s.logger).WithPublisher(s.realtimeHub)

	s.receipts = receipts.NewIssuer(receipts.NewSigner(cfg.ReceiptSigningSecret))

	// Gateway callbacks
	if cfg.StripeWebhookSecret != "" {
		ledger := webhooks.NewSecureLedger(s.secure, password, webhooks.DefaultLedgerSize)
		s.webhooks = webhooks.NewProcessor(cfg.StripeWebhookSecret, ledger, s.orchestrator, s.logger).
			WithPublisher(s.realtimeHub)
	}

	// Pending payments are refreshed in the background
	recon := reconciliation.NewService(s.paymentRepo, s.orchestrator, s.logger)
	s.reconcileTimer = reconciliation.NewTimer(recon, cfg.ReconcileInterval, s.logger)

	// Bank linking
	if cfg.PlaidEnabled() {
		client, err := banklink.NewPlaidAPI(banklink.PlaidConfig{
			ClientID:    cfg.PlaidClientID,
			Secret:      cfg.PlaidSecret,
			Environment: cfg.PlaidEnv,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to configure plaid: %w", err)
		}
		s.linker = banklink.NewLinker(client, s.secure, password, s.logger)
		s.logger.Info("bank linking enabled", "env", cfg.PlaidEnv)
	}

	return nil
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry()

	s.health.Register("secure_store", func(ctx context.Context) error {
		const probe = "health_probe"
		if err := s.secure.SetSecureObject(ctx, probe, time.Now().Unix(), s.cfg.DeviceStorePassword); err != nil {
			return err
		}
		var v int64
		return s.secure.GetSecureObject(ctx, probe, &v, s.cfg.DeviceStorePassword)
	})

	if s.db != nil {
		s.health.Register("database", s.db.PingContext)
	}

	s.health.Register("gateways", func(context.Context) error {
		for _, gw := range s.orchestrator.Gateways() {
			if gw.IsActive {
				return nil
			}
		}
		return errors.New("no active gateway")
	})
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
	if s.cfg.IsProduction() {
		s.router.Use(security.HSTSMiddleware())
	}

	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.credLimiter = ratelimit.New(ratelimit.CredentialConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

// credentialLimit applies the stricter limiter to routes that check a PIN.
func (s *Server) credentialLimit() gin.HandlerFunc {
	limit := s.credLimiter.Middleware()
	return func(c *gin.Context) {
		switch c.FullPath() {
		case "/v1/pin", "/v1/sessions/unlock":
			if c.Request.Method != http.MethodGet {
				limit(c)
				return
			}
		}
		c.Next()
	}
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > validation.MaxIDLength {
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health checks
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)

	// Prometheus scrape endpoint
	s.router.GET("/metrics", metrics.Handler())

	// Realtime event stream
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1", s.credentialLimit())
	v1.GET("", s.infoHandler)

	session.NewHandler(s.sessions, s.gate).RegisterRoutes(v1)
	authn.NewHandler(s.pins).RegisterRoutes(v1)
	fraud.NewHandler(s.detector).RegisterRoutes(v1)
	tip.NewHandler().RegisterRoutes(v1)
	checkout.NewHandler(s.checkout, s.authorizer, s.orchestrator, s.gate).RegisterRoutes(v1)
	receipts.NewHandler(s.receipts, s.orchestrator).RegisterRoutes(v1)
	if s.linker != nil {
		banklink.NewHandler(s.linker, s.sessions).RegisterRoutes(v1)
	}
	if s.webhooks != nil {
		webhooks.NewHandler(s.webhooks).RegisterRoutes(v1)
	}
	v1.GET("/realtime/stats", s.realtimeStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
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
	gateways := make([]string, 0)
	for _, gw := range s.orchestrator.Gateways() {
		gateways = append(gateways, gw.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "TipTap",
		"description": "Tap-to-pay authorization and payment processing",
		"version":     Version,
		"gateways":    gateways,
		"bankLinking": s.linker != nil,
	})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.ChallengeTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"device_id", s.cfg.DeviceID,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.reconcileTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

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

	// Cancel the context for all background goroutines (hub, timer, collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.httpSrv != nil {
		// Give load balancers time to stop sending traffic
		time.Sleep(s.drainDelay)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.reconcileTimer.Stop()
	s.rateLimiter.Stop()
	s.credLimiter.Stop()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.sessions.Close()

	s.closeStorage()

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeStorage() {
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			s.logger.Error("secure store close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Sessions returns the session manager for testing
func (s *Server) Sessions() *session.Manager {
	return s.sessions
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
