// Package server wires the HTTP routes and middleware of the API.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/config"
	"reflex-arena/internal/handler"
)

// Server wraps the fiber app with its handlers.
type Server struct {
	app *fiber.App
	cfg *config.Config

	sessions handler.SessionProvider
	health   handler.HealthChecker

	runHandler     *handler.RunHandler
	paymentHandler *handler.PaymentHandler
	prizeHandler   *handler.PrizeHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds everything the routes are served from.
type Dependencies struct {
	Config   *config.Config
	Sessions handler.SessionProvider
	Health   handler.HealthChecker
	Runs     handler.RunService
	Ledger   handler.EntitlementReader
	Payments handler.PaymentService
	Prizes   interface {
		handler.PrizeReader
		handler.Finalizer
	}
	Events handler.EventService
}

// New creates a Server with its routes registered.
func New(deps *Dependencies) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = handler.HeaderSessionProvider{}
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "reflex-arena",
			ReadTimeout:           deps.Config.Server.ReadTimeout,
			WriteTimeout:          deps.Config.Server.WriteTimeout,
			ErrorHandler:          handler.ErrorHandler,
			DisableStartupMessage: true,
		}),
		cfg:            deps.Config,
		sessions:       sessions,
		health:         deps.Health,
		runHandler:     handler.NewRunHandler(deps.Runs, deps.Ledger),
		paymentHandler: handler.NewPaymentHandler(deps.Payments),
		prizeHandler:   handler.NewPrizeHandler(deps.Prizes),
		adminHandler:   handler.NewAdminHandler(deps.Events, deps.Prizes),
	}

	s.registerMiddleware()
	s.registerRoutes()

	return s, nil
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerMiddleware() {
	s.app.Use(RecoveryMiddleware())
	s.app.Use(LoggingMiddleware())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Wallet-Address, X-Verification-Level, X-Admin-Key",
		AllowMethods: "GET, POST, PATCH, OPTIONS",
	}))
}

func (s *Server) registerRoutes() {
	if s.health != nil {
		s.app.Get("/healthz", handler.Health(s.health))
	}

	optional := SessionMiddleware(s.sessions, false)
	required := SessionMiddleware(s.sessions, true)

	api := s.app.Group("/api")
	api.Get("/events/:id", optional, s.adminHandler.GetEvent)
	api.Get("/events/:id/leaderboard", optional, s.runHandler.Leaderboard)
	api.Get("/events/:id/claim", optional, s.prizeHandler.Claim)
	api.Get("/events/:id/champion", optional, s.prizeHandler.Champion)
	api.Get("/events/:id/entitlement", required, s.runHandler.Entitlement)
	api.Post("/runs/start", required, s.runHandler.StartRun)
	api.Post("/runs/finish", required, s.runHandler.FinishRun)
	api.Post("/payments/intents", required, s.paymentHandler.CreateIntent)
	api.Post("/payments/confirm", required, s.paymentHandler.Confirm)
	api.Post("/payments/confirm-trusted", required, s.paymentHandler.ConfirmTrusted)

	admin := s.app.Group("/admin", AdminMiddleware(s.cfg))
	admin.Post("/events", s.adminHandler.CreateEvent)
	admin.Patch("/events/:id", s.adminHandler.UpdateEvent)
	admin.Post("/events/:id/finalize", s.adminHandler.Finalize)
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Server.Addr).Msg("HTTP server starting")
	if err := s.app.Listen(s.cfg.Server.Addr); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server stopping")
	return s.app.ShutdownWithContext(ctx)
}
