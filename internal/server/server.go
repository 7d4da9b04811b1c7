// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"github.com/fundlane/adwallet/internal/adaccounts"
	"github.com/fundlane/adwallet/internal/config"
	"github.com/fundlane/adwallet/internal/consolidation"
	"github.com/fundlane/adwallet/internal/distribution"
	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/funding"
	"github.com/fundlane/adwallet/internal/health"
	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/ledger"
	"github.com/fundlane/adwallet/internal/logging"
	"github.com/fundlane/adwallet/internal/metrics"
	"github.com/fundlane/adwallet/internal/notify"
	"github.com/fundlane/adwallet/internal/orgs"
	"github.com/fundlane/adwallet/internal/ratelimit"
	"github.com/fundlane/adwallet/internal/reconcile"
	"github.com/fundlane/adwallet/internal/security"
	"github.com/fundlane/adwallet/internal/traces"
	"github.com/fundlane/adwallet/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	ledger        *ledger.Ledger
	orgs          *orgs.Service
	directory     *adaccounts.Directory
	funding       *funding.Service
	bankProvider  *funding.BankProvider
	reconciler    *reconcile.Reconciler
	distribution  *distribution.Service
	consolidation *consolidation.Service
	dispatcher    *notify.Dispatcher
	notifyStore   notify.Store
	emitter       *notify.Emitter
	expiryTimer   *funding.ExpiryTimer

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx   context.CancelFunc
	shutdownTraces func(context.Context) error

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		ledgerStore ledger.Store
		orgStore    orgs.Store
		acctStore   adaccounts.Store
		intentStore funding.IntentStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		orgStore = orgs.NewPostgresStore(db)
		acctStore = adaccounts.NewPostgresStore(db)
		intentStore = funding.NewPostgresStore(db)
		s.notifyStore = notify.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		orgStore = orgs.NewMemoryStore()
		acctStore = adaccounts.NewMemoryStore()
		intentStore = funding.NewMemoryStore()
		s.notifyStore = notify.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Core services
	s.ledger = ledger.New(ledgerStore, s.logger)
	s.orgs = orgs.NewService(orgStore, s.ledger, s.logger)
	s.directory = adaccounts.NewDirectory(acctStore)

	policy := fees.NewPolicy(fees.Schedule{
		CardBps:   cfg.CardFeeBps,
		BankBps:   cfg.BankFeeBps,
		CryptoBps: cfg.CryptoFeeBps,
	})
	limits := funding.Limits{
		CardMinCents:   cfg.CardMinCents,
		BankMinCents:   cfg.BankMinCents,
		BankMaxCents:   cfg.BankMaxCents,
		CryptoMinCents: cfg.CryptoMinCents,
		CryptoMaxCents: cfg.CryptoMaxCents,
	}
	s.funding = funding.NewService(intentStore, s.ledger, policy, s.orgs, limits,
		cfg.FeeMode == config.FeeModeDeduct, s.logger)

	// Payment rails. A missing credential disables the rail rather than
	// the whole server.
	if cfg.StripeSecretKey != "" {
		s.funding.RegisterProvider(funding.NewCardProvider(cfg.StripeSecretKey, cfg.CheckoutReturnURL))
		s.logger.Info("card rail enabled")
	}
	if cfg.BankAccountNumber != "" {
		s.bankProvider = funding.NewBankProvider(funding.BankDetails{
			AccountName:   cfg.BankAccountName,
			AccountNumber: cfg.BankAccountNumber,
			RoutingNumber: cfg.BankRoutingNumber,
		})
		s.funding.RegisterProvider(s.bankProvider)
		s.logger.Info("bank transfer rail enabled")
	}
	if cfg.CryptoAPIURL != "" {
		expiry := time.Duration(cfg.CryptoExpiryMinutes) * time.Minute
		s.funding.RegisterProvider(funding.NewCryptoProvider(cfg.CryptoAPIURL, cfg.CryptoAPIKey, expiry))
		s.logger.Info("crypto rail enabled", "expiry_minutes", cfg.CryptoExpiryMinutes)
	}

	// Outbound notifications and settlement
	s.dispatcher = notify.NewDispatcher(s.notifyStore, s.logger)
	s.emitter = notify.NewEmitter(s.dispatcher, s.logger)
	s.reconciler = reconcile.New(s.funding, s.emitter, s.logger)

	// Expiry sweeps settle through the reconciler so they share its
	// per-reference serialization with provider webhooks.
	if cfg.CryptoAPIURL != "" {
		s.expiryTimer = funding.NewExpiryTimer(s.funding, s.reconciler, time.Minute, s.logger)
	}

	// Fund movement
	s.distribution = distribution.NewService(s.ledger, s.directory, s.emitter, s.logger)
	s.consolidation = consolidation.NewService(s.ledger, s.directory, s.emitter, s.logger)

	// Health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

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

	// Security headers and CORS
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))

	// Request body size cap
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

// adminMiddleware guards operator routes with a shared secret header.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" && !s.cfg.IsProduction() {
			// Demo mode: admin routes are open.
			c.Next()
			return
		}
		if c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret || s.cfg.AdminSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	walletHandler := ledger.NewHandler(s.ledger).WithNotifier(s.emitter)
	orgHandler := orgs.NewHandler(s.orgs)
	acctHandler := adaccounts.NewHandler(s.directory)
	fundingHandler := funding.NewHandler(s.funding, s.bankProvider)
	webhookHandler := reconcile.NewHandler(s.reconciler, s.cfg.StripeWebhookSecret, s.cfg.CryptoWebhookSecret)
	distHandler := distribution.NewHandler(s.distribution)
	consHandler := consolidation.NewHandler(s.consolidation)
	notifyHandler := notify.NewHandler(s.notifyStore)
	if s.cfg.IsProduction() {
		notifyHandler = notifyHandler.WithStrictURLs()
	}

	v1 := s.router.Group("/v1")

	// Provider webhooks bypass the rate limiter: throttling provider
	// retries delays settlements.
	webhookHandler.RegisterRoutes(v1)

	// Rate-limited API surface
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	})
	api := v1.Group("")
	api.Use(s.rateLimiter.Middleware())
	{
		orgHandler.RegisterRoutes(api)
		walletHandler.RegisterRoutes(api)
		acctHandler.RegisterRoutes(api)
		fundingHandler.RegisterRoutes(api)
		distHandler.RegisterRoutes(api)
		consHandler.RegisterRoutes(api)
		notifyHandler.RegisterRoutes(api)
	}

	// Operator routes
	admin := v1.Group("/admin")
	admin.Use(s.adminMiddleware())
	{
		webhookHandler.RegisterAdminRoutes(admin)
		walletHandler.RegisterAdminRoutes(admin)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
		"name":        "Adwallet",
		"description": "Organization wallets for external ad-spend accounts",
		"version":     "0.1.0",
	})
}

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op if no OTLP endpoint configured)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the funding-intent expiry sweep
	if s.expiryTimer != nil {
		s.expiryTimer.Start(runCtx)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.logger.Info("expiry timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
	}

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
