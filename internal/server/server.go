package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"tollgate/internal/batch"
	"tollgate/internal/config"
	"tollgate/internal/facilitator"
	"tollgate/internal/handlers"
	"tollgate/internal/middleware"
	"tollgate/internal/oracle"
	"tollgate/internal/registry"
	"tollgate/internal/router"
)

// Server represents the HTTP server
type Server struct {
	app      *fiber.App
	config   *config.Config
	registry *registry.Registry
	ledger   *batch.Ledger
	manager  *facilitator.Manager
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	// Provider registry seeded from config
	reg, err := registry.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	rt := router.New(reg)
	ledger := batch.NewLedger()
	prices := oracle.New(cfg.Oracle.URL)

	manager := facilitator.NewManager(facilitator.ManagerConfig{
		PrimaryType:    facilitator.Type(cfg.Facilitator.Type),
		EnableFallback: cfg.Facilitator.EnableFallback,
		FallbackType:   facilitator.Type(cfg.Facilitator.FallbackType),
		CodeNutURL:     cfg.Facilitator.CodeNutURL,
		CorbitsURL:     cfg.Facilitator.CorbitsURL,
		PayAIURL:       cfg.Facilitator.PayAIURL,
		Signer: facilitator.SelfHostedConfig{
			SolanaPrivateKey: cfg.Signer.SolanaPrivateKey,
			EVMPrivateKey:    cfg.Signer.EVMPrivateKey,
			SolanaRPCURL:     cfg.Signer.SolanaRPCURL,
			EVMRPCURL:        cfg.Signer.EVMRPCURL,
		},
	})

	app := fiber.New(fiber.Config{
		AppName:      "Tollgate Gateway",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	})

	s := &Server{
		app:      app,
		config:   cfg,
		registry: reg,
		ledger:   ledger,
		manager:  manager,
	}

	s.setupMiddleware()
	s.setupRoutes(rt, prices)

	return s, nil
}

// setupMiddleware configures all middleware
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.app.Use(recover.New())

	// Request ID middleware - must be early to ensure ID is available for logging
	s.app.Use(middleware.RequestID())

	// Security headers middleware - sets CSP, X-Frame-Options, etc.
	s.app.Use(middleware.SecurityHeaders())

	// Logger middleware - includes request ID
	// Use JSON format in production for log aggregators, text format for development
	if s.config.IsProduction() {
		s.app.Use(logger.New(logger.Config{
			Format: `{"time":"${time}","status":${status},"method":"${method}","path":"${path}","latency":"${latency}","ip":"${ip}","request_id":"${locals:request_id}"}` + "\n",
		}))
	} else {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${method} ${path} ${latency} [${locals:request_id}]\n",
		}))
	}

	// Rate limiting middleware (general limits)
	rateLimiter := middleware.NewRateLimitMiddleware(&s.config.RateLimit)
	s.app.Use(rateLimiter.Middleware())

	// CORS middleware - agents call from anywhere, x402 headers must pass
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.PaymentHeader, middleware.BatchHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(rt *router.Router, prices oracle.PriceSource) {
	if s.config.WalletAddress == "" {
		slog.Warn("x402 payments DISABLED - GATEWAY_WALLET not configured",
			"environment", s.config.Environment,
		)
	}

	x402mw := middleware.NewX402(rt, s.ledger, s.manager, prices,
		s.config.WalletAddress, s.config.Server.PublicURL)

	// Paid RPC + free proxy
	rpcHandler := handlers.NewRPCHandler(rt, x402mw)
	rpcHandler.RegisterRoutes(s.app)

	// Inspection surface (no payment required)
	handlers.NewHealthHandler(s.registry, s.manager).RegisterRoutes(s.app)
	handlers.NewProvidersHandler(s.registry).RegisterRoutes(s.app)
	handlers.NewFacilitatorHandler(s.manager).RegisterRoutes(s.app)
	handlers.NewPricingHandler(s.registry).RegisterRoutes(s.app)

	// 404 handler
	s.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":      "Not found",
			"message":    "The requested endpoint does not exist",
			"path":       c.Path(),
			"request_id": middleware.GetRequestID(c),
		})
	})
}

// Start starts the HTTP server and background workers
func (s *Server) Start(ctx context.Context) error {
	s.registry.StartHealthChecks(s.config.Registry.HealthCheckInterval)
	s.ledger.Start()

	addr := fmt.Sprintf(":%s", s.config.Server.Port)
	slog.Info("starting tollgate gateway", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")

	// Stop background workers first so no probe or sweep races shutdown
	s.registry.StopHealthChecks()
	s.ledger.Stop()

	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// errorHandler handles errors globally
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	requestID := middleware.GetRequestID(c)

	// Log the error with request ID
	slog.Error("request error", "error", err, "request_id", requestID, "status", code)

	// Return JSON response
	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"status":     code,
		"timestamp":  time.Now().Unix(),
		"request_id": requestID,
	})
}
