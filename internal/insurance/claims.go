package insurance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/money"
)

type ClaimStatus string

const (
	ClaimSubmitted         ClaimStatus = "submitted"
	ClaimInReview          ClaimStatus = "in_review"
	ClaimApproved          ClaimStatus = "approved"
	ClaimPartiallyApproved ClaimStatus = "partially_approved"
	ClaimDenied            ClaimStatus = "denied"
	ClaimPaid              ClaimStatus = "paid"
)

var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimSubmitted:         {ClaimInReview, ClaimApproved, ClaimPartiallyApproved, ClaimDenied},
	ClaimInReview:          {ClaimApproved, ClaimPartiallyApproved, ClaimDenied},
	ClaimApproved:          {ClaimPaid},
	ClaimPartiallyApproved: {ClaimPaid},
}

// CanTransitionClaim reports whether a claim may move from one status to another
func CanTransitionClaim(from, to ClaimStatus) bool {
	for _, s := range claimTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsDecided reports whether the insurer has ruled on the claim
func (s ClaimStatus) IsDecided() bool {
	switch s {
	case ClaimApproved, ClaimPartiallyApproved, ClaimDenied, ClaimPaid:
		return true
	}
	return false
}

// NewClaimNumber returns an identifier of the form CLM-YYYYMMDD-XXXXXXXX
func NewClaimNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("CLM-%s-%s", now.UTC().Format("20060102"), suffix)
}

// Decide maps an insurer's approved amount to the resulting claim status
func Decide(claimed, approved decimal.Decimal) (ClaimStatus, decimal.Decimal, error) {
	claimed = money.Quantize(claimed)
	approved = money.Quantize(approved)

	if approved.IsNegative() {
		return "", decimal.Zero, apperrors.With(apperrors.ErrNegativeAmount, "approved %s", approved.StringFixed(money.Places))
	}
	if approved.GreaterThan(claimed) {
		return "", decimal.Zero, apperrors.With(apperrors.ErrClaimOverApprove, "%s > %s",
			approved.StringFixed(money.Places), claimed.StringFixed(money.Places))
	}

	switch {
	case approved.IsZero():
		return ClaimDenied, approved, nil
	case approved.Equal(claimed):
		return ClaimApproved, approved, nil
	default:
		return ClaimPartiallyApproved, approved, nil
	}
}
