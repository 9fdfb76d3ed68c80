package payments

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/rates"
)

// PeriodEnd returns when a period of the given kind starting at start ends
func PeriodEnd(start time.Time, period string) time.Time {
	if period == rates.PeriodAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Extend returns the new period for a renewal. A subscription that is still
// running is extended from its current end, a lapsed one restarts at now.
func Extend(currentEnd *time.Time, now time.Time, period string) (time.Time, time.Time) {
	start := now
	if currentEnd != nil && currentEnd.After(now) {
		start = *currentEnd
	}
	return start, PeriodEnd(start, period)
}

// PlanPrice looks up a subscription plan in the rate book
func PlanPrice(p rates.Provider, plan string) (decimal.Decimal, string, error) {
	price, ok := p.Current().Plans[plan]
	if !ok {
		return decimal.Zero, "", apperrors.With(apperrors.ErrUnknownPlanPrice, "%q", plan)
	}
	return price.Price, price.Period, nil
}
