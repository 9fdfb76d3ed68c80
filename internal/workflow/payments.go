package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/appointments"
	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/money"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/orders"
	"github.com/vitanips/vitanips-core/internal/payments"
	"github.com/vitanips/vitanips-core/internal/store"
)

// PaymentRequest opens a payment. TargetID is the appointment or order ID,
// or the plan name for subscriptions.
type PaymentRequest struct {
	PayerID  string `json:"payer_id"`
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
}

// InitiatePayment creates a pending payment for what the payer owes and
// returns the reference to hand to the gateway checkout. A payer with a
// pending payment for the same target gets that payment back.
func (s *Service) InitiatePayment(ctx context.Context, req PaymentRequest) (*store.Payment, error) {
	var amount decimal.Decimal

	switch req.Kind {
	case store.KindAppointment:
		a, err := s.store.GetAppointment(req.TargetID)
		if err != nil {
			return nil, err
		}
		if a.BillingStatus != store.BillingUnpaid {
			return nil, apperrors.With(apperrors.ErrBadRequest, "appointment %s is %s", a.ID, a.BillingStatus)
		}
		if appointments.Status(a.Status) == appointments.StatusCancelled {
			return nil, apperrors.With(apperrors.ErrBadRequest, "appointment %s is cancelled", a.ID)
		}
		req.PayerID = a.PatientID
		amount = a.Fee
	case store.KindOrder:
		o, err := s.store.GetOrder(req.TargetID)
		if err != nil {
			return nil, err
		}
		if o.BillingStatus != store.BillingUnpaid {
			return nil, apperrors.With(apperrors.ErrBadRequest, "order %s is %s", o.ID, o.BillingStatus)
		}
		req.PayerID = o.PatientID
		amount = o.PatientCopay
	case store.KindSubscription:
		if req.PayerID == "" {
			return nil, apperrors.With(apperrors.ErrBadRequest, "payer is required")
		}
		price, _, err := payments.PlanPrice(s.rates, req.TargetID)
		if err != nil {
			return nil, err
		}
		amount = price
	default:
		return nil, apperrors.With(apperrors.ErrBadRequest, "unknown payment kind %q", req.Kind)
	}

	open, err := s.store.OpenPayment(req.Kind, req.TargetID, req.PayerID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return open, nil
	}

	p := &store.Payment{
		Reference: "VN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")),
		PayerID:   req.PayerID,
		Kind:      req.Kind,
		TargetID:  req.TargetID,
		Amount:    money.Quantize(amount),
		Currency:  s.opts.Currency,
		Status:    store.PaymentPending,
	}
	if err := s.store.CreatePayment(p); err != nil {
		return nil, err
	}
	return p, nil
}

// VerifyResult is the outcome of a verification
type VerifyResult struct {
	Payment         *store.Payment          `json:"payment"`
	Commission      *store.CommissionRecord `json:"commission"`
	AlreadyVerified bool                    `json:"already_verified"`
}

// VerifyPayment confirms a payment with the gateway, marks what it paid for
// and records the commission split. Verifying an already verified reference
// returns the recorded split without calling the gateway again.
func (s *Service) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	p, err := s.store.GetPaymentByReference(reference)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case store.PaymentSuccessful:
		return s.alreadyVerified(p)
	case store.PaymentRefundDue:
		return nil, apperrors.With(apperrors.ErrAlreadySettled, "%s is due for refund", reference)
	}

	lockKey := "verify:" + reference
	acquired, err := s.store.AcquireKey(lockKey, s.opts.VerifyLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperrors.With(apperrors.ErrVerifyInFlight, "%s", reference)
	}
	defer func() {
		if err := s.store.ReleaseKey(lockKey); err != nil {
			s.logger.Warn("Failed to release verification lock", zap.String("reference", reference), zap.Error(err))
		}
	}()

	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.recordPayment(p.Kind, "error")
		return nil, err
	}

	switch v.Status {
	case payments.TxSuccessful:
	case payments.TxPending:
		s.recordPayment(p.Kind, "pending")
		return nil, apperrors.With(apperrors.ErrPaymentFailed, "%s is still pending", reference)
	default:
		p.Status = store.PaymentFailed
		p.GatewayTxID = v.GatewayTxID
		if err := s.store.SavePayment(p); err != nil {
			return nil, err
		}
		s.recordPayment(p.Kind, "failed")
		return nil, apperrors.With(apperrors.ErrPaymentFailed, "%s is %s", reference, v.Status)
	}

	if money.Quantize(v.Amount).LessThan(p.Amount) || !strings.EqualFold(v.Currency, p.Currency) {
		s.logger.Warn("Gateway amount mismatch",
			zap.String("reference", reference),
			zap.String("expected", p.Amount.StringFixed(2)+" "+p.Currency),
			zap.String("got", v.Amount.StringFixed(2)+" "+v.Currency),
		)
		s.recordPayment(p.Kind, "mismatch")
		return nil, apperrors.With(apperrors.ErrPaymentMismatch, "%s", reference)
	}

	res := &VerifyResult{}
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		// re-read inside the transaction; a concurrent verifier may have won
		cur, err := tx.GetPaymentByReference(reference)
		if err != nil {
			return err
		}
		if cur.Status == store.PaymentSuccessful {
			res.AlreadyVerified = true
			res.Payment = cur
			res.Commission, err = tx.CommissionForPayment(cur.ID)
			return err
		}

		service, payeeType, payeeID, err := s.settleTarget(tx, cur)
		if err != nil {
			return err
		}
		split, err := s.commission.Calculate(service, cur.Amount)
		if err != nil {
			return err
		}

		verified := s.now()
		cur.Status = store.PaymentSuccessful
		cur.GatewayTxID = v.GatewayTxID
		cur.VerifiedAt = &verified
		if err := tx.SavePayment(cur); err != nil {
			return err
		}

		rec := &store.CommissionRecord{
			PaymentID:  cur.ID,
			Service:    string(split.Service),
			PayeeType:  payeeType,
			PayeeID:    payeeID,
			Gross:      split.Gross,
			Rate:       split.Rate,
			Commission: split.Commission,
			Net:        split.Net,
			ClampedBy:  split.ClampedBy,
		}
		if err := tx.CreateCommission(rec); err != nil {
			return err
		}
		res.Payment = cur
		res.Commission = rec
		return nil
	})
	if errors.Is(err, apperrors.ErrAlreadySettled) {
		return nil, s.markRefundDue(p, v.GatewayTxID, err)
	}
	if err != nil {
		return nil, err
	}
	if res.AlreadyVerified {
		return res, nil
	}

	s.logger.Info("Payment verified",
		zap.String("reference", reference),
		zap.String("kind", res.Payment.Kind),
		zap.String("commission", res.Commission.Commission.StringFixed(2)),
		zap.String("net", res.Commission.Net.StringFixed(2)),
	)
	s.recordPayment(res.Payment.Kind, "verified")
	if s.metrics != nil {
		s.metrics.RecordCommission(res.Commission.Service, res.Commission.Commission.InexactFloat64())
	}
	s.publish(notify.Event{
		Type:    notify.PaymentVerified,
		UserID:  res.Payment.PayerID,
		Subject: res.Payment.Reference,
		Data:    map[string]string{"kind": res.Payment.Kind, "amount": res.Payment.Amount.StringFixed(2)},
	})
	if res.Payment.Kind == store.KindSubscription {
		s.subscriptionRenewed(res.Payment.PayerID)
	}
	return res, nil
}

// markRefundDue parks a payment whose target was settled by another payment
// or cancelled while the patient was paying
func (s *Service) markRefundDue(p *store.Payment, gatewayTxID string, cause error) error {
	p.Status = store.PaymentRefundDue
	p.GatewayTxID = gatewayTxID
	if err := s.store.SavePayment(p); err != nil {
		return err
	}
	s.logger.Warn("Payment target already settled, refund due",
		zap.String("reference", p.Reference),
		zap.String("kind", p.Kind),
		zap.String("target_id", p.TargetID),
		zap.Error(cause),
	)
	s.recordPayment(p.Kind, "refund_due")
	return cause
}

func (s *Service) subscriptionRenewed(userID string) {
	sub, err := s.store.GetSubscription(userID)
	if err != nil || sub == nil {
		s.logger.Warn("Failed to load renewed subscription", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.publish(notify.Event{
		Type:    notify.SubscriptionRenewed,
		UserID:  userID,
		Subject: sub.Plan,
		Data:    map[string]string{"starts_at": sub.StartsAt.Format(time.RFC3339), "ends_at": sub.EndsAt.Format(time.RFC3339)},
	})
}

func (s *Service) alreadyVerified(p *store.Payment) (*VerifyResult, error) {
	rec, err := s.store.CommissionForPayment(p.ID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Payment: p, Commission: rec, AlreadyVerified: true}, nil
}

// settleTarget marks the paid entity and says who the payee is. A target
// that is no longer unpaid, or was cancelled, is not settled again.
func (s *Service) settleTarget(tx *store.Store, p *store.Payment) (payments.Service, string, string, error) {
	switch p.Kind {
	case store.KindAppointment:
		a, err := tx.GetAppointment(p.TargetID)
		if err != nil {
			return "", "", "", err
		}
		if a.BillingStatus != store.BillingUnpaid || appointments.Status(a.Status) == appointments.StatusCancelled {
			return "", "", "", apperrors.With(apperrors.ErrAlreadySettled, "appointment %s is %s/%s", a.ID, a.Status, a.BillingStatus)
		}
		a.BillingStatus = store.BillingPaid
		if err := tx.SaveAppointment(a); err != nil {
			return "", "", "", err
		}
		service := payments.ServiceConsultation
		if a.Telemedicine {
			service = payments.ServiceTelemedicine
		}
		return service, store.PayeeDoctor, a.DoctorID, nil

	case store.KindOrder:
		o, err := tx.GetOrder(p.TargetID)
		if err != nil {
			return "", "", "", err
		}
		if o.BillingStatus != store.BillingUnpaid || orders.Status(o.Status) == orders.StatusCancelled {
			return "", "", "", apperrors.With(apperrors.ErrAlreadySettled, "order %s is %s/%s", o.ID, o.Status, o.BillingStatus)
		}
		o.BillingStatus = store.BillingPaid
		if err := tx.SaveOrder(o); err != nil {
			return "", "", "", err
		}
		return payments.ServiceMedication, store.PayeePharmacy, o.PharmacyID, nil

	case store.KindSubscription:
		if err := s.renewSubscription(tx, p.PayerID, p.TargetID); err != nil {
			return "", "", "", err
		}
		return payments.ServiceSubscription, store.PayeePlatform, "", nil
	}
	return "", "", "", apperrors.With(apperrors.ErrBadRequest, "unknown payment kind %q", p.Kind)
}

// renewSubscription activates the plan or extends the running period
func (s *Service) renewSubscription(tx *store.Store, userID, plan string) error {
	_, period, err := payments.PlanPrice(s.rates, plan)
	if err != nil {
		return err
	}
	sub, err := tx.GetSubscription(userID)
	if err != nil {
		return err
	}

	now := s.now()
	var currentEnd *time.Time
	if sub == nil {
		sub = &store.Subscription{UserID: userID}
	} else if sub.Active && sub.Plan == plan {
		end := sub.EndsAt
		currentEnd = &end
	}
	start, end := payments.Extend(currentEnd, now, period)
	// a lapsed period restarts at now
	if currentEnd == nil || !start.Equal(*currentEnd) {
		sub.StartsAt = start
	}
	sub.Plan = plan
	sub.Period = period
	sub.Active = true
	sub.EndsAt = end
	return tx.SaveSubscription(sub)
}

func (s *Service) recordPayment(kind, result string) {
	if s.metrics != nil {
		s.metrics.RecordPayment(kind, result)
	}
}
