package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/appointments"
	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/store"
)

// BookRequest asks for a consultation slot
type BookRequest struct {
	PatientID    string    `json:"patient_id"`
	DoctorID     string    `json:"doctor_id"`
	StartAt      time.Time `json:"start_at"`
	DurationMins int       `json:"duration_mins"`
	ConsultType  string    `json:"consult_type"`
	Telemedicine bool      `json:"telemedicine"`
	Reason       string    `json:"reason"`
}

// BookAppointment prices and books a consultation if the doctor is free
func (s *Service) BookAppointment(ctx context.Context, req BookRequest) (*store.Appointment, error) {
	if req.PatientID == "" || req.DoctorID == "" || req.StartAt.IsZero() {
		return nil, apperrors.With(apperrors.ErrBadRequest, "patient, doctor and start time are required")
	}
	if err := s.text.Check("reason", req.Reason); err != nil {
		return nil, err
	}
	switch req.ConsultType {
	case "":
		req.ConsultType = appointments.ConsultNew
	case appointments.ConsultNew, appointments.ConsultFollowUp, appointments.ConsultWalkIn, appointments.ConsultEmergency:
	default:
		return nil, apperrors.With(apperrors.ErrBadRequest, "unknown consultation type %q", req.ConsultType)
	}
	if req.DurationMins <= 0 {
		req.DurationMins = s.opts.DefaultAppointmentMins
	}
	start := req.StartAt.UTC()
	length := time.Duration(req.DurationMins) * time.Minute

	doctor, err := s.store.GetDoctor(req.DoctorID)
	if err != nil {
		return nil, err
	}

	var appt *store.Appointment
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		// anything starting up to a day earlier may still run into this slot
		booked, err := tx.DoctorAppointments(doctor.ID, start.Add(-24*time.Hour), start.Add(length))
		if err != nil {
			return err
		}
		for _, b := range booked {
			if appointments.Status(b.Status).Blocking() && appointments.Overlaps(start, length, b.StartAt, b.Duration()) {
				return apperrors.With(apperrors.ErrSlotTaken, "%s at %s", doctor.ID, start.Format(time.RFC3339))
			}
		}

		lastVisit, err := tx.LastCompletedVisit(req.PatientID, doctor.ID)
		if err != nil {
			return err
		}
		freeDays := doctor.FreeFollowUpDays
		if freeDays == 0 {
			freeDays = s.opts.FreeFollowUpDays
		}
		fee := appointments.Fee(appointments.FeeSchedule{
			ConsultationFee:  doctor.ConsultationFee,
			FollowUpFee:      doctor.FollowUpFee,
			FreeFollowUpDays: freeDays,
		}, req.ConsultType, lastVisit, start)

		appt = &store.Appointment{
			PatientID:    req.PatientID,
			DoctorID:     doctor.ID,
			StartAt:      start,
			DurationMins: req.DurationMins,
			ConsultType:  req.ConsultType,
			Telemedicine: req.Telemedicine,
			Reason:       req.Reason,
			Status:       string(appointments.StatusScheduled),
			Fee:          fee,
		}
		if fee.IsZero() {
			appt.BillingStatus = store.BillingWaived
		}
		return tx.CreateAppointment(appt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Appointment booked",
		zap.String("appointment_id", appt.ID),
		zap.String("doctor_id", appt.DoctorID),
		zap.String("fee", appt.Fee.StringFixed(2)),
	)
	s.recordTransition("appointment", appt.Status)
	s.publish(notify.Event{
		Type:    notify.AppointmentBooked,
		UserID:  appt.PatientID,
		Subject: appt.ID,
		Data:    map[string]string{"start_at": appt.StartAt.Format(time.RFC3339), "fee": appt.Fee.StringFixed(2)},
	})
	return appt, nil
}

// TransitionAppointment moves an appointment to a new status
func (s *Service) TransitionAppointment(ctx context.Context, id string, to appointments.Status) (*store.Appointment, error) {
	var appt *store.Appointment
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		a, err := tx.GetAppointment(id)
		if err != nil {
			return err
		}
		if err := appointments.Transition(appointments.Status(a.Status), to); err != nil {
			return err
		}
		a.Status = string(to)
		appt = a
		return tx.SaveAppointment(a)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition("appointment", appt.Status)
	s.publish(notify.Event{
		Type:    notify.AppointmentStatus,
		UserID:  appt.PatientID,
		Subject: appt.ID,
		Data:    map[string]string{"status": appt.Status},
	})
	return appt, nil
}
