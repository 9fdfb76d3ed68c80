package workflow

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/insurance"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/store"
)

// ReviewClaim moves a submitted claim into review
func (s *Service) ReviewClaim(ctx context.Context, id string) (*store.InsuranceClaim, error) {
	claim, err := s.moveClaim(ctx, id, insurance.ClaimInReview, nil)
	if err != nil {
		return nil, err
	}
	s.recordClaim(claim)
	return claim, nil
}

// DecideClaim records the insurer's ruling. The resulting status follows
// from the approved amount: all of the claim is approved, part of it is
// partially approved, zero is denied. Limit reserved for the unapproved part
// goes back to the policy.
func (s *Service) DecideClaim(ctx context.Context, id string, approved decimal.Decimal, notes string) (*store.InsuranceClaim, error) {
	if err := s.text.Check("notes", notes); err != nil {
		return nil, err
	}
	var claim *store.InsuranceClaim
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		c, err := tx.GetClaim(id)
		if err != nil {
			return err
		}
		status, amount, err := insurance.Decide(c.ClaimedAmount, approved)
		if err != nil {
			return err
		}
		if !insurance.CanTransitionClaim(insurance.ClaimStatus(c.Status), status) {
			return apperrors.With(apperrors.ErrInvalidTransition, "claim %s -> %s", c.Status, status)
		}
		if err := s.releaseCover(tx, c.PolicyID, decimal.Zero, c.ClaimedAmount.Sub(amount)); err != nil {
			return err
		}

		decided := s.now()
		c.Status = string(status)
		c.ApprovedAmount = amount
		c.DecidedAt = &decided
		if notes != "" {
			c.Notes = notes
		}
		claim = c
		return tx.SaveClaim(c)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Claim decided",
		zap.String("claim_number", claim.ClaimNumber),
		zap.String("status", claim.Status),
		zap.String("approved", claim.ApprovedAmount.StringFixed(2)),
	)
	s.claimDecided(claim)
	return claim, nil
}

// PayClaim marks an approved claim as settled by the insurer
func (s *Service) PayClaim(ctx context.Context, id string) (*store.InsuranceClaim, error) {
	claim, err := s.moveClaim(ctx, id, insurance.ClaimPaid, func(c *store.InsuranceClaim) {
		paid := s.now()
		c.PaidAt = &paid
	})
	if err != nil {
		return nil, err
	}
	s.recordClaim(claim)
	return claim, nil
}

func (s *Service) moveClaim(ctx context.Context, id string, to insurance.ClaimStatus, mutate func(*store.InsuranceClaim)) (*store.InsuranceClaim, error) {
	var claim *store.InsuranceClaim
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		c, err := tx.GetClaim(id)
		if err != nil {
			return err
		}
		if !insurance.CanTransitionClaim(insurance.ClaimStatus(c.Status), to) {
			return apperrors.With(apperrors.ErrInvalidTransition, "claim %s -> %s", c.Status, to)
		}
		c.Status = string(to)
		if mutate != nil {
			mutate(c)
		}
		claim = c
		return tx.SaveClaim(c)
	})
	return claim, err
}

func (s *Service) recordClaim(c *store.InsuranceClaim) {
	s.recordTransition("claim", c.Status)
	if s.metrics != nil {
		s.metrics.RecordClaim(c.Status, c.ClaimedAmount.InexactFloat64())
	}
}

func (s *Service) claimDecided(c *store.InsuranceClaim) {
	s.recordClaim(c)
	s.publish(notify.Event{
		Type:    notify.ClaimDecided,
		UserID:  c.PatientID,
		Subject: c.ClaimNumber,
		Data: map[string]string{
			"status":   c.Status,
			"approved": c.ApprovedAmount.StringFixed(2),
		},
	})
}
