// Package orders holds the medication order state machine and prices order
// lines against a pharmacy's inventory.
package orders

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/money"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusPickedUp       Status = "picked_up"
	StatusCancelled      Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusReady, StatusCancelled},
	StatusReady:          {StatusOutForDelivery, StatusPickedUp},
	StatusOutForDelivery: {StatusDelivered},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusOutForDelivery,
		StatusDelivered, StatusPickedUp, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Fulfilled reports whether the patient has the medication
func (s Status) Fulfilled() bool {
	return s == StatusDelivered || s == StatusPickedUp
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to. Delivery requires the order to be a
// delivery order and pickup requires it not to be.
func Transition(from, to Status, delivery bool) error {
	if !to.Valid() {
		return apperrors.With(apperrors.ErrBadRequest, "unknown order status %q", to)
	}
	if !CanTransition(from, to) {
		return apperrors.With(apperrors.ErrInvalidTransition, "order %s -> %s", from, to)
	}
	if to == StatusOutForDelivery && !delivery {
		return apperrors.With(apperrors.ErrInvalidTransition, "order is for pickup")
	}
	if to == StatusPickedUp && delivery {
		return apperrors.With(apperrors.ErrInvalidTransition, "order is for delivery")
	}
	return nil
}

// Stock is one inventory entry of a pharmacy
type Stock struct {
	MedicationName string
	Price          decimal.Decimal
	Quantity       int
}

// Request is one prescribed medication to be priced
type Request struct {
	MedicationName string
	Quantity       int
}

// Line is a priced order line
type Line struct {
	MedicationName string          `json:"medication_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Total          decimal.Decimal `json:"total"`
}

// Quote is the result of pricing a prescription against an inventory
type Quote struct {
	Lines       []Line          `json:"lines"`
	Unavailable []string        `json:"unavailable,omitempty"`
	Total       decimal.Decimal `json:"total"`
}

// Price matches each request to the inventory by case-insensitive name.
// Items that are not stocked, or stocked below the requested quantity, are
// reported as unavailable and left out of the total. Requests naming the
// same medication draw on one balance.
func Price(reqs []Request, inventory []Stock) (*Quote, error) {
	byName := make(map[string]Stock, len(inventory))
	for _, s := range inventory {
		byName[normalize(s.MedicationName)] = s
	}

	q := &Quote{Total: decimal.Zero}
	for _, r := range reqs {
		qty := r.Quantity
		if qty <= 0 {
			qty = 1
		}
		key := normalize(r.MedicationName)
		s, ok := byName[key]
		if !ok || s.Quantity < qty {
			q.Unavailable = append(q.Unavailable, r.MedicationName)
			continue
		}
		s.Quantity -= qty
		byName[key] = s
		unit := money.Quantize(s.Price)
		line := Line{
			MedicationName: s.MedicationName,
			Quantity:       qty,
			UnitPrice:      unit,
			Total:          money.Quantize(unit.Mul(decimal.NewFromInt(int64(qty)))),
		}
		q.Lines = append(q.Lines, line)
		q.Total = q.Total.Add(line.Total)
	}

	if len(q.Lines) == 0 {
		return nil, apperrors.With(apperrors.ErrNothingInStock, "%d item(s) requested", len(reqs))
	}
	q.Total = money.Quantize(q.Total)
	return q, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
