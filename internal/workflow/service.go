// Package workflow runs the appointment, prescription, pharmacy order,
// insurance claim and payment flows on top of the store and the billing
// calculators.
package workflow

import (
	"time"

	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/insurance"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/payments"
	"github.com/vitanips/vitanips-core/internal/rates"
	"github.com/vitanips/vitanips-core/internal/security"
	"github.com/vitanips/vitanips-core/internal/store"
)

// Notifier receives domain events
type Notifier interface {
	Publish(ev notify.Event) error
}

// Recorder receives business metrics
type Recorder interface {
	RecordTransition(entity, to string)
	RecordClaim(status string, amount float64)
	RecordPayment(kind, result string)
	RecordCommission(service string, amount float64)
}

// Options are the billing knobs of the workflow
type Options struct {
	Currency               string
	PrescriptionValidDays  int
	FreeFollowUpDays       int
	DefaultAppointmentMins int
	NoShowGrace            time.Duration
	VerifyLockTTL          time.Duration
}

// Service is the entry point for every workflow operation
type Service struct {
	store      *store.Store
	coverage   *insurance.Calculator
	commission *payments.CommissionCalculator
	rates      rates.Provider
	gateway    payments.Gateway
	notifier   Notifier
	metrics    Recorder
	text       *security.TextValidator
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
}

func New(st *store.Store, rp rates.Provider, gw payments.Gateway, opts Options, logger *zap.Logger) *Service {
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	if opts.PrescriptionValidDays <= 0 {
		opts.PrescriptionValidDays = 30
	}
	if opts.DefaultAppointmentMins <= 0 {
		opts.DefaultAppointmentMins = 30
	}
	if opts.NoShowGrace <= 0 {
		opts.NoShowGrace = 30 * time.Minute
	}
	if opts.VerifyLockTTL <= 0 {
		opts.VerifyLockTTL = 2 * time.Minute
	}
	return &Service{
		store:      st,
		coverage:   insurance.NewCalculator(rp),
		commission: payments.NewCommissionCalculator(rp),
		rates:      rp,
		gateway:    gw,
		text:       security.NewTextValidator(),
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// SetNotifier attaches the event publisher
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetRecorder attaches business metrics
func (s *Service) SetRecorder(r Recorder) {
	s.metrics = r
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Coverage exposes the insurance calculator
func (s *Service) Coverage() *insurance.Calculator {
	return s.coverage
}

// Commission exposes the commission calculator
func (s *Service) Commission() *payments.CommissionCalculator {
	return s.commission
}

func (s *Service) publish(ev notify.Event) {
	if s.notifier == nil || ev.UserID == "" {
		return
	}
	if err := s.notifier.Publish(ev); err != nil {
		s.logger.Warn("Failed to queue notification", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (s *Service) recordTransition(entity, to string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(entity, to)
	}
}
