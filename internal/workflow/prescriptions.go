package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/appointments"
	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/insurance"
	"github.com/vitanips/vitanips-core/internal/money"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/orders"
	"github.com/vitanips/vitanips-core/internal/store"
)

// PrescribedItem is one medication on a new prescription
type PrescribedItem struct {
	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage"`
	Frequency      string `json:"frequency"`
	Quantity       int    `json:"quantity"`
}

// IssueRequest issues the prescription of a completed appointment
type IssueRequest struct {
	AppointmentID string           `json:"appointment_id"`
	Diagnosis     string           `json:"diagnosis"`
	Notes         string           `json:"notes"`
	Items         []PrescribedItem `json:"items"`
}

// IssuePrescription writes the single prescription a completed appointment
// may carry
func (s *Service) IssuePrescription(ctx context.Context, req IssueRequest) (*store.Prescription, error) {
	if err := s.text.CheckAll("diagnosis", req.Diagnosis, "notes", req.Notes); err != nil {
		return nil, err
	}
	var items []store.PrescriptionItem
	for _, it := range req.Items {
		if strings.TrimSpace(it.MedicationName) == "" {
			continue
		}
		if err := s.text.CheckAll("medication_name", it.MedicationName, "dosage", it.Dosage, "frequency", it.Frequency); err != nil {
			return nil, err
		}
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, store.PrescriptionItem{
			MedicationName: strings.TrimSpace(it.MedicationName),
			Dosage:         it.Dosage,
			Frequency:      it.Frequency,
			Quantity:       qty,
		})
	}
	if len(items) == 0 {
		return nil, apperrors.With(apperrors.ErrPrescriptionEmpty, "appointment %s", req.AppointmentID)
	}

	var rx *store.Prescription
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		appt, err := tx.GetAppointment(req.AppointmentID)
		if err != nil {
			return err
		}
		if appt.Status != string(appointments.StatusCompleted) {
			return apperrors.With(apperrors.ErrAppointmentIncomplete, "appointment %s is %s", appt.ID, appt.Status)
		}
		existing, err := tx.PrescriptionForAppointment(appt.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.With(apperrors.ErrPrescriptionExists, "%s", existing.ID)
		}

		rx = &store.Prescription{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			DoctorID:      appt.DoctorID,
			Diagnosis:     req.Diagnosis,
			Notes:         req.Notes,
			Status:        store.PrescriptionActive,
			ExpiresAt:     s.now().AddDate(0, 0, s.opts.PrescriptionValidDays),
			Items:         items,
		}
		return tx.CreatePrescription(rx)
	})
	if err != nil {
		return nil, err
	}

	s.publish(notify.Event{
		Type:    notify.PrescriptionIssued,
		UserID:  rx.PatientID,
		Subject: rx.ID,
		Data:    map[string]string{"expires_at": rx.ExpiresAt.Format(time.RFC3339)},
	})
	return rx, nil
}

// ForwardRequest sends a prescription to a pharmacy
type ForwardRequest struct {
	PrescriptionID string `json:"prescription_id"`
	PharmacyID     string `json:"pharmacy_id"`
	Delivery       bool   `json:"delivery"`
}

// ForwardResult is the order created from a prescription and, when the
// patient is insured, the coverage applied and the claim raised
type ForwardResult struct {
	Order       *store.MedicationOrder `json:"order"`
	Coverage    *insurance.Result      `json:"coverage,omitempty"`
	Claim       *store.InsuranceClaim  `json:"claim,omitempty"`
	Unavailable []string               `json:"unavailable,omitempty"`
}

// ForwardPrescription prices the prescription against the pharmacy's
// inventory, reserves the stock and creates the order. An insured patient's
// total goes through the coverage calculator and a claim is raised for the
// covered part.
func (s *Service) ForwardPrescription(ctx context.Context, req ForwardRequest) (*ForwardResult, error) {
	now := s.now()
	res := &ForwardResult{}

	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		rx, err := tx.GetPrescription(req.PrescriptionID)
		if err != nil {
			return err
		}
		switch {
		case rx.Status == store.PrescriptionForwarded:
			return apperrors.With(apperrors.ErrPrescriptionForwarded, "%s", rx.ID)
		case rx.Status == store.PrescriptionExpired, now.After(rx.ExpiresAt):
			return apperrors.With(apperrors.ErrPrescriptionExpired, "%s expired %s", rx.ID, rx.ExpiresAt.Format(time.RFC3339))
		}

		ph, err := tx.GetPharmacy(req.PharmacyID)
		if err != nil {
			return err
		}
		if !ph.Active {
			return apperrors.With(apperrors.ErrPharmacyNotFound, "%s is not active", ph.ID)
		}
		if req.Delivery && !ph.OffersDelivery {
			return apperrors.With(apperrors.ErrBadRequest, "%s does not deliver", ph.Name)
		}

		reqs := make([]orders.Request, len(rx.Items))
		for i, it := range rx.Items {
			reqs[i] = orders.Request{MedicationName: it.MedicationName, Quantity: it.Quantity}
		}
		stock := make([]orders.Stock, len(ph.Inventory))
		stockIDs := make(map[string]string, len(ph.Inventory))
		for i, inv := range ph.Inventory {
			stock[i] = orders.Stock{MedicationName: inv.MedicationName, Price: inv.Price, Quantity: inv.Quantity}
			stockIDs[inv.MedicationName] = inv.ID
		}
		quote, err := orders.Price(reqs, stock)
		if err != nil {
			return err
		}
		res.Unavailable = quote.Unavailable

		order := &store.MedicationOrder{
			PrescriptionID:    rx.ID,
			PharmacyID:        ph.ID,
			PatientID:         rx.PatientID,
			Status:            string(orders.StatusPending),
			Delivery:          req.Delivery,
			Total:             quote.Total,
			CoveredAmount:     decimal.Zero,
			PatientCopay:      quote.Total,
			DeductibleApplied: decimal.Zero,
		}
		for _, line := range quote.Lines {
			if err := tx.TakeStock(stockIDs[line.MedicationName], line.Quantity); err != nil {
				return err
			}
			order.Items = append(order.Items, store.OrderItem{
				MedicationName: line.MedicationName,
				Quantity:       line.Quantity,
				UnitPrice:      line.UnitPrice,
				Total:          line.Total,
			})
		}

		policy, err := tx.ActivePolicy(rx.PatientID, now)
		if err != nil {
			return err
		}
		if policy != nil {
			cov, err := s.applyCoverage(policy, quote.Total)
			if err != nil {
				return err
			}
			res.Coverage = cov
			order.PolicyID = &policy.ID
			order.CoveredAmount = cov.CoveredAmount
			order.PatientCopay = cov.PatientCopay
			order.DeductibleApplied = cov.DeductibleApplied
		}
		if order.PatientCopay.IsZero() {
			order.BillingStatus = store.BillingWaived
		}
		if err := tx.CreateOrder(order); err != nil {
			return err
		}
		res.Order = order

		if policy != nil {
			if !res.Coverage.DeductibleApplied.IsZero() || res.Coverage.CoveredAmount.IsPositive() {
				policy.DeductibleMet = money.Quantize(policy.DeductibleMet.Add(res.Coverage.DeductibleApplied))
				policy.LimitUsed = money.Quantize(policy.LimitUsed.Add(res.Coverage.CoveredAmount))
				if err := tx.SavePolicy(policy); err != nil {
					return err
				}
			}
			if res.Coverage.CoveredAmount.IsPositive() {
				claim := &store.InsuranceClaim{
					ClaimNumber:    insurance.NewClaimNumber(now),
					PolicyID:       policy.ID,
					PatientID:      rx.PatientID,
					OrderID:        order.ID,
					ServiceType:    string(insurance.ServiceMedication),
					Status:         string(insurance.ClaimSubmitted),
					ClaimedAmount:  res.Coverage.CoveredAmount,
					ApprovedAmount: decimal.Zero,
					PatientCopay:   res.Coverage.PatientCopay,
					SubmittedAt:    now,
				}
				if err := tx.CreateClaim(claim); err != nil {
					return err
				}
				order.ClaimID = &claim.ID
				if err := tx.SaveOrder(order); err != nil {
					return err
				}
				res.Claim = claim
			}
		}

		return tx.UpdatePrescriptionStatus(rx.ID, store.PrescriptionForwarded)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Prescription forwarded",
		zap.String("prescription_id", req.PrescriptionID),
		zap.String("order_id", res.Order.ID),
		zap.String("total", res.Order.Total.StringFixed(2)),
		zap.Int("unavailable", len(res.Unavailable)),
	)
	s.recordTransition("order", res.Order.Status)
	s.publish(notify.Event{
		Type:    notify.OrderCreated,
		UserID:  res.Order.PatientID,
		Subject: res.Order.ID,
		Data:    map[string]string{"total": res.Order.Total.StringFixed(2), "copay": res.Order.PatientCopay.StringFixed(2)},
	})
	if res.Claim != nil {
		if s.metrics != nil {
			s.metrics.RecordClaim(res.Claim.Status, res.Claim.ClaimedAmount.InexactFloat64())
		}
		s.publish(notify.Event{
			Type:    notify.ClaimSubmitted,
			UserID:  res.Claim.PatientID,
			Subject: res.Claim.ClaimNumber,
			Data:    map[string]string{"claimed": res.Claim.ClaimedAmount.StringFixed(2)},
		})
	}
	return res, nil
}

// applyCoverage runs an amount through the calculator with what is left of
// the policy's deductible and annual limit
func (s *Service) applyCoverage(p *store.InsurancePolicy, total decimal.Decimal) (*insurance.Result, error) {
	plan := insurance.PlanType(p.PlanType)
	deductibleLeft := money.NonNegative(s.coverage.AnnualDeductible(plan).Sub(p.DeductibleMet))

	req := insurance.Request{
		PlanType:            plan,
		ServiceType:         insurance.ServiceMedication,
		TotalAmount:         total,
		DeductibleRemaining: &deductibleLeft,
	}
	if p.AnnualLimit.IsPositive() {
		limitLeft := money.NonNegative(p.AnnualLimit.Sub(p.LimitUsed))
		req.LimitRemaining = &limitLeft
	}
	return s.coverage.Calculate(req)
}

// TransitionOrder moves an order along its lifecycle. Cancelling returns the
// reserved stock, gives the deductible the order consumed back to the policy
// and denies an undecided claim.
func (s *Service) TransitionOrder(ctx context.Context, id string, to orders.Status) (*store.MedicationOrder, error) {
	var (
		order  *store.MedicationOrder
		denied *store.InsuranceClaim
	)
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		o, err := tx.GetOrder(id)
		if err != nil {
			return err
		}
		if err := orders.Transition(orders.Status(o.Status), to, o.Delivery); err != nil {
			return err
		}
		o.Status = string(to)
		order = o
		if err := tx.SaveOrder(o); err != nil {
			return err
		}
		if to != orders.StatusCancelled {
			return nil
		}

		for _, it := range o.Items {
			if err := tx.ReturnStock(o.PharmacyID, it.MedicationName, it.Quantity); err != nil {
				return err
			}
		}

		policyID := ""
		if o.PolicyID != nil {
			policyID = *o.PolicyID
		}
		limit := decimal.Zero
		if o.ClaimID != nil {
			claim, err := tx.GetClaim(*o.ClaimID)
			if err != nil {
				return err
			}
			policyID = claim.PolicyID
			if !insurance.ClaimStatus(claim.Status).IsDecided() {
				limit = claim.ClaimedAmount
				decided := s.now()
				claim.Status = string(insurance.ClaimDenied)
				claim.ApprovedAmount = decimal.Zero
				claim.Notes = "order cancelled"
				claim.DecidedAt = &decided
				if err := tx.SaveClaim(claim); err != nil {
					return err
				}
				denied = claim
			}
		}
		if policyID == "" {
			return nil
		}
		return s.releaseCover(tx, policyID, o.DeductibleApplied, limit)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition("order", order.Status)
	s.publish(notify.Event{
		Type:    notify.OrderStatus,
		UserID:  order.PatientID,
		Subject: order.ID,
		Data:    map[string]string{"status": order.Status},
	})
	if denied != nil {
		s.claimDecided(denied)
	}
	return order, nil
}

// releaseCover gives deductible progress and reserved annual limit back to
// a policy
func (s *Service) releaseCover(tx *store.Store, policyID string, deductible, limit decimal.Decimal) error {
	if !deductible.IsPositive() && !limit.IsPositive() {
		return nil
	}
	p, err := tx.GetPolicy(policyID)
	if err != nil {
		return err
	}
	if deductible.IsPositive() {
		p.DeductibleMet = money.NonNegative(money.Quantize(p.DeductibleMet.Sub(deductible)))
	}
	if limit.IsPositive() {
		p.LimitUsed = money.NonNegative(money.Quantize(p.LimitUsed.Sub(limit)))
	}
	return tx.SavePolicy(p)
}
