// Package appointments holds the appointment state machine and fee rules.
package appointments

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/money"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Blocking reports whether an appointment in this status holds its slot
func (s Status) Blocking() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns a coded error when it is not allowed
func Transition(from, to Status) error {
	if !to.Valid() {
		return apperrors.With(apperrors.ErrBadRequest, "unknown appointment status %q", to)
	}
	if !CanTransition(from, to) {
		return apperrors.With(apperrors.ErrInvalidTransition, "appointment %s -> %s", from, to)
	}
	return nil
}

// Consultation types
const (
	ConsultNew       = "new"
	ConsultFollowUp  = "followup"
	ConsultWalkIn    = "walkin"
	ConsultEmergency = "emergency"
)

// urgentPremium is applied to walk-in and emergency consultations
var urgentPremium = decimal.RequireFromString("1.2")

// FeeSchedule is a doctor's pricing
type FeeSchedule struct {
	ConsultationFee decimal.Decimal
	FollowUpFee     decimal.Decimal
	// Follow-ups within this many days of the last completed visit are free.
	// Zero disables the free window.
	FreeFollowUpDays int
}

// Fee prices one consultation starting at start. lastVisit is the patient's
// most recent completed appointment with the same doctor, if any.
func Fee(f FeeSchedule, consultType string, lastVisit *time.Time, start time.Time) decimal.Decimal {
	switch consultType {
	case ConsultFollowUp:
		if lastVisit != nil && f.FreeFollowUpDays > 0 {
			days := int(start.Sub(*lastVisit).Hours() / 24)
			if days <= f.FreeFollowUpDays {
				return decimal.Zero
			}
		}
		return money.Quantize(f.FollowUpFee)
	case ConsultWalkIn, ConsultEmergency:
		return money.Quantize(f.ConsultationFee.Mul(urgentPremium))
	default:
		return money.Quantize(f.ConsultationFee)
	}
}

// Overlaps reports whether [aStart, aStart+aLen) intersects [bStart, bStart+bLen)
func Overlaps(aStart time.Time, aLen time.Duration, bStart time.Time, bLen time.Duration) bool {
	return aStart.Before(bStart.Add(bLen)) && bStart.Before(aStart.Add(aLen))
}

// Overdue reports whether an open appointment ended more than grace ago
func Overdue(status Status, start time.Time, length, grace time.Duration, now time.Time) bool {
	if status != StatusScheduled && status != StatusConfirmed {
		return false
	}
	return now.After(start.Add(length).Add(grace))
}
