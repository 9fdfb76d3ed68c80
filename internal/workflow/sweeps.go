package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/appointments"
)

// SweepNoShows marks scheduled or confirmed appointments that ended more
// than the grace period ago as no_show
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	now := s.now()
	open, err := s.store.OpenAppointmentsBefore(now.Add(-s.opts.NoShowGrace))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, a := range open {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !appointments.Overdue(appointments.Status(a.Status), a.StartAt, a.Duration(), s.opts.NoShowGrace, now) {
			continue
		}
		if _, err := s.TransitionAppointment(ctx, a.ID, appointments.StatusNoShow); err != nil {
			s.logger.Warn("Failed to mark no-show", zap.String("appointment_id", a.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// ExpirePrescriptions retires active prescriptions past their validity
func (s *Service) ExpirePrescriptions(ctx context.Context) (int64, error) {
	return s.store.ExpirePrescriptions(s.now())
}

// ExpireSubscriptions deactivates subscriptions whose period has ended
func (s *Service) ExpireSubscriptions(ctx context.Context) (int64, error) {
	return s.store.ExpireSubscriptions(s.now())
}
