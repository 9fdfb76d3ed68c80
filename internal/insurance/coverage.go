// Package insurance computes how much of a bill an insurance plan covers and
// manages the lifecycle of the claims raised against it.
package insurance

import (
	"github.com/shopspring/decimal"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/money"
	"github.com/vitanips/vitanips-core/internal/rates"
)

type PlanType string

const (
	PlanBasic    PlanType = "basic"
	PlanStandard PlanType = "standard"
	PlanPremium  PlanType = "premium"
	PlanFamily   PlanType = "family"
	PlanHDHP     PlanType = "hdhp"
)

type ServiceType string

const (
	ServiceConsultation ServiceType = "consultation"
	ServiceTelemedicine ServiceType = "telemedicine"
	ServiceMedication   ServiceType = "medication"
	ServiceLabTest      ServiceType = "lab_test"
	ServiceProcedure    ServiceType = "procedure"
	ServiceEmergency    ServiceType = "emergency"
)

// Request describes one bill to run through a plan.
//
// DeductibleRemaining is what the member still owes toward the plan
// deductible this year; nil means the full annual deductible from the rate
// book. LimitRemaining caps the covered amount; nil means no cap.
type Request struct {
	PlanType            PlanType
	ServiceType         ServiceType
	TotalAmount         decimal.Decimal
	DeductibleRemaining *decimal.Decimal
	LimitRemaining      *decimal.Decimal
}

// Result splits TotalAmount between insurer and patient.
// CoveredAmount + PatientCopay == TotalAmount always holds.
type Result struct {
	PlanType          PlanType        `json:"plan_type"`
	ServiceType       ServiceType     `json:"service_type"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CoveragePercent   decimal.Decimal `json:"coverage_percent"`
	DeductibleApplied decimal.Decimal `json:"deductible_applied"`
	CoveredAmount     decimal.Decimal `json:"covered_amount"`
	PatientCopay      decimal.Decimal `json:"patient_copay"`
	LimitReached      bool            `json:"limit_reached"`
}

// Calculator applies the coverage table of a rate book
type Calculator struct {
	rates rates.Provider
}

func NewCalculator(p rates.Provider) *Calculator {
	return &Calculator{rates: p}
}

// CoveragePercent looks up the percent a plan pays for a service
func (c *Calculator) CoveragePercent(plan PlanType, service ServiceType) (decimal.Decimal, error) {
	book := c.rates.Current()
	services, ok := book.Coverage[string(plan)]
	if !ok {
		return decimal.Zero, apperrors.With(apperrors.ErrUnknownPlan, "%q", plan)
	}
	p, ok := services[string(service)]
	if !ok {
		return decimal.Zero, apperrors.With(apperrors.ErrUnknownService, "%q under plan %q", service, plan)
	}
	return p, nil
}

// AnnualDeductible returns the plan deductible, zero when the plan has none
func (c *Calculator) AnnualDeductible(plan PlanType) decimal.Decimal {
	return money.Quantize(c.rates.Current().Deductibles[string(plan)])
}

// Calculate splits a bill. The deductible is charged to the patient first;
// the coverage percent applies to what remains.
func (c *Calculator) Calculate(req Request) (*Result, error) {
	total := money.Quantize(req.TotalAmount)
	if total.IsNegative() {
		return nil, apperrors.With(apperrors.ErrNegativeAmount, "total %s", total.StringFixed(money.Places))
	}

	pct, err := c.CoveragePercent(req.PlanType, req.ServiceType)
	if err != nil {
		return nil, err
	}

	remaining := c.AnnualDeductible(req.PlanType)
	if req.DeductibleRemaining != nil {
		remaining = money.Quantize(money.NonNegative(*req.DeductibleRemaining))
	}
	deductible := decimal.Min(remaining, total)

	covered := money.Percent(total.Sub(deductible), pct)

	limitReached := false
	if req.LimitRemaining != nil {
		limit := money.Quantize(money.NonNegative(*req.LimitRemaining))
		if covered.GreaterThan(limit) {
			covered = limit
			limitReached = true
		}
	}

	return &Result{
		PlanType:          req.PlanType,
		ServiceType:       req.ServiceType,
		TotalAmount:       total,
		CoveragePercent:   pct,
		DeductibleApplied: deductible,
		CoveredAmount:     covered,
		PatientCopay:      total.Sub(covered),
		LimitReached:      limitReached,
	}, nil
}
