package orders

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

func TestTransition(t *testing.T) {
	assert.NoError(t, Transition(StatusPending, StatusProcessing, false))
	assert.NoError(t, Transition(StatusProcessing, StatusCancelled, true))
	assert.NoError(t, Transition(StatusReady, StatusOutForDelivery, true))
	assert.NoError(t, Transition(StatusReady, StatusPickedUp, false))
	assert.NoError(t, Transition(StatusOutForDelivery, StatusDelivered, true))

	for _, tc := range []struct {
		from, to Status
		delivery bool
	}{
		{StatusReady, StatusCancelled, false},
		{StatusPending, StatusReady, false},
		{StatusReady, StatusOutForDelivery, false},
		{StatusReady, StatusPickedUp, true},
		{StatusDelivered, StatusPending, true},
	} {
		err := Transition(tc.from, tc.to, tc.delivery)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition), "%s -> %s", tc.from, tc.to)
	}

	assert.True(t, errors.Is(Transition(StatusPending, "lost", false), apperrors.ErrBadRequest))
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusReady.Terminal())
	assert.True(t, StatusPickedUp.Fulfilled())
	assert.False(t, StatusReady.Fulfilled())
}

func TestPrice(t *testing.T) {
	inventory := []Stock{
		{MedicationName: "Amoxicillin 500mg", Price: decimal.RequireFromString("1200.50"), Quantity: 40},
		{MedicationName: "Paracetamol", Price: decimal.RequireFromString("300"), Quantity: 2},
	}
	reqs := []Request{
		{MedicationName: "amoxicillin 500mg ", Quantity: 3},
		{MedicationName: "Paracetamol", Quantity: 5},
		{MedicationName: "Ibuprofen", Quantity: 1},
	}

	q, err := Price(reqs, inventory)
	require.NoError(t, err)
	require.Len(t, q.Lines, 1)
	assert.Equal(t, "Amoxicillin 500mg", q.Lines[0].MedicationName)
	assert.Equal(t, "3601.50", q.Lines[0].Total.StringFixed(2))
	assert.Equal(t, "3601.50", q.Total.StringFixed(2))
	assert.Equal(t, []string{"Paracetamol", "Ibuprofen"}, q.Unavailable)
}

func TestPrice_ZeroQuantityDefaultsToOne(t *testing.T) {
	q, err := Price(
		[]Request{{MedicationName: "Paracetamol"}},
		[]Stock{{MedicationName: "Paracetamol", Price: decimal.RequireFromString("300"), Quantity: 2}},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Lines[0].Quantity)
	assert.Equal(t, "300.00", q.Total.StringFixed(2))
}

func TestPrice_NothingInStock(t *testing.T) {
	_, err := Price([]Request{{MedicationName: "Ibuprofen", Quantity: 1}}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrNothingInStock))
}

func TestPrice_RepeatedMedicationSharesStock(t *testing.T) {
	inventory := []Stock{
		{MedicationName: "Amoxicillin", Price: decimal.RequireFromString("1200"), Quantity: 50},
		{MedicationName: "Paracetamol", Price: decimal.RequireFromString("300"), Quantity: 50},
	}
	reqs := []Request{
		{MedicationName: "Amoxicillin", Quantity: 30},
		{MedicationName: "amoxicillin", Quantity: 30},
		{MedicationName: "Paracetamol", Quantity: 1},
	}

	q, err := Price(reqs, inventory)
	require.NoError(t, err)
	require.Len(t, q.Lines, 2)
	assert.Equal(t, 30, q.Lines[0].Quantity)
	assert.Equal(t, "Paracetamol", q.Lines[1].MedicationName)
	assert.Equal(t, []string{"amoxicillin"}, q.Unavailable)
	assert.Equal(t, "36300.00", q.Total.StringFixed(2))

	// the original inventory is left alone
	assert.Equal(t, 50, inventory[0].Quantity)
}
