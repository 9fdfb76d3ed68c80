package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/config"
	"github.com/vitanips/vitanips-core/internal/metrics"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/store"
	"github.com/vitanips/vitanips-core/internal/workflow"
)

// Roles carried in the bearer token
const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RolePharmacy = "pharmacy"
	RoleAdmin    = "admin"
)

type Server struct {
	app     *fiber.App
	config  *config.Config
	store   *store.Store
	service *workflow.Service
	hub     *notify.Hub
	metrics *metrics.Metrics
	logger  *zap.Logger
	version string
}

func New(cfg *config.Config, st *store.Store, svc *workflow.Service, hub *notify.Hub, m *metrics.Metrics, logger *zap.Logger, version string) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		store:   st,
		service: svc,
		hub:     hub,
		metrics: m,
		logger:  logger,
		version: version,
	}

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

type coverageQuote struct {
	PlanType            string           `json:"plan_type"`
	ServiceType         string           `json:"service_type"`
	TotalAmount         decimal.Decimal  `json:"total_amount"`
	DeductibleRemaining *decimal.Decimal `json:"deductible_remaining"`
	LimitRemaining      *decimal.Decimal `json:"limit_remaining"`
}

type commissionQuote struct {
	Service string          `json:"service"`
	Gross   decimal.Decimal `json:"gross"`
}

type statusChange struct {
	Status string `json:"status"`
}

type claimDecision struct {
	ApprovedAmount decimal.Decimal `json:"approved_amount"`
	Notes          string          `json:"notes"`
}

type vitalInput struct {
	PatientID  string    `json:"patient_id"`
	Kind       string    `json:"kind"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
}
