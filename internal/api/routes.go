package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	if s.config.Log.Level == "debug" {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api")

	api.Post("/quotes/coverage", s.handleCoverageQuote)
	api.Post("/quotes/commission", s.handleCommissionQuote)
	api.Get("/pharmacies/nearby", s.handleNearbyPharmacies)

	protected := api.Use(s.authMiddleware())

	protected.Get("/appointments", s.handleListAppointments)
	protected.Post("/appointments", s.handleBookAppointment)
	protected.Post("/appointments/:id/status", s.handleAppointmentStatus)
	protected.Post("/appointments/:id/prescription", s.requireRole(RoleDoctor), s.handleIssuePrescription)

	protected.Post("/prescriptions/:id/forward", s.handleForwardPrescription)

	protected.Get("/orders", s.handleListOrders)
	protected.Post("/orders/:id/status", s.requireRole(RolePharmacy), s.handleOrderStatus)

	protected.Get("/claims", s.requireRole(), s.handleListClaims)
	protected.Post("/claims/:id/review", s.requireRole(), s.handleReviewClaim)
	protected.Post("/claims/:id/decision", s.requireRole(), s.handleDecideClaim)
	protected.Post("/claims/:id/pay", s.requireRole(), s.handlePayClaim)

	protected.Post("/payments", s.handleInitiatePayment)
	protected.Post("/payments/:reference/verify", s.handleVerifyPayment)

	protected.Post("/vitals", s.handleRecordVital)
	protected.Get("/vitals/:kind/trend", s.handleVitalTrend)

	s.app.Use("/ws", s.wsUpgrade())
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

func (s *Server) Start() error {
	return s.app.Listen(s.config.Addr())
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
