// Package payments splits verified payments between the platform and the
// payee, talks to the payment gateway, and does subscription period math.
package payments

import (
	"github.com/shopspring/decimal"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/money"
	"github.com/vitanips/vitanips-core/internal/rates"
)

type Service string

const (
	ServiceConsultation Service = "consultation"
	ServiceTelemedicine Service = "telemedicine"
	ServiceMedication   Service = "medication"
	ServiceLabTest      Service = "lab_test"
	ServiceSubscription Service = "subscription"
)

// Clamp reasons
const (
	ClampNone  = ""
	ClampMin   = "min"
	ClampMax   = "max"
	ClampGross = "gross"
)

// Commission is the platform/payee split of one gross amount.
// Commission + Net == Gross always holds.
type Commission struct {
	Service    Service         `json:"service"`
	Gross      decimal.Decimal `json:"gross"`
	Rate       decimal.Decimal `json:"rate"`
	Commission decimal.Decimal `json:"commission"`
	Net        decimal.Decimal `json:"net"`
	ClampedBy  string          `json:"clamped_by,omitempty"`
}

// CommissionCalculator applies the commission table of a rate book
type CommissionCalculator struct {
	rates rates.Provider
}

func NewCommissionCalculator(p rates.Provider) *CommissionCalculator {
	return &CommissionCalculator{rates: p}
}

// Calculate takes rate × gross, clamps it to the service's [min, max] and
// never lets it exceed gross.
func (c *CommissionCalculator) Calculate(service Service, gross decimal.Decimal) (*Commission, error) {
	gross = money.Quantize(gross)
	if gross.IsNegative() {
		return nil, apperrors.With(apperrors.ErrNegativeAmount, "gross %s", gross.StringFixed(money.Places))
	}

	r, ok := c.rates.Current().Commission[string(service)]
	if !ok {
		return nil, apperrors.With(apperrors.ErrUnknownService, "no commission rate for %q", service)
	}

	commission := money.Quantize(gross.Mul(r.Rate))
	clamped := ClampNone

	floor := money.Quantize(r.Min)
	if commission.LessThan(floor) {
		commission = floor
		clamped = ClampMin
	}
	if ceiling := money.Quantize(r.Max); ceiling.IsPositive() && commission.GreaterThan(ceiling) {
		commission = ceiling
		clamped = ClampMax
	}
	if commission.GreaterThan(gross) {
		commission = gross
		clamped = ClampGross
	}

	return &Commission{
		Service:    service,
		Gross:      gross,
		Rate:       r.Rate,
		Commission: commission,
		Net:        gross.Sub(commission),
		ClampedBy:  clamped,
	}, nil
}
