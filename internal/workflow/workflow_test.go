package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/appointments"
	"github.com/vitanips/vitanips-core/internal/config"
	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/insurance"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/orders"
	"github.com/vitanips/vitanips-core/internal/payments"
	"github.com/vitanips/vitanips-core/internal/pharmacy"
	"github.com/vitanips/vitanips-core/internal/rates"
	"github.com/vitanips/vitanips-core/internal/store"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	status string
	amount *decimal.Decimal
	err    error
}

func (g *fakeGateway) Verify(_ context.Context, ref string) (*payments.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	v := &payments.Verification{Reference: ref, GatewayTxID: "tx-1", Status: payments.TxSuccessful, Currency: "NGN"}
	if g.status != "" {
		v.Status = g.status
	}
	if g.amount != nil {
		v.Amount = *g.amount
	} else {
		v.Amount = decimal.NewFromInt(1_000_000)
	}
	return v, nil
}

type captureNotifier struct {
	events []notify.Event
}

func (c *captureNotifier) Publish(ev notify.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureNotifier) types() []string {
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *store.Store
	gateway  *fakeGateway
	events   *captureNotifier
	doctor   *store.Doctor
	pharmacy *store.Pharmacy
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) *fixture {
	st, err := store.New(config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gw := &fakeGateway{}
	svc := New(st, rates.NewStatic(rates.Default()), gw, Options{PrescriptionValidDays: 30, FreeFollowUpDays: 7}, zap.NewNop())
	svc.SetClock(func() time.Time { return testNow })
	events := &captureNotifier{}
	svc.SetNotifier(events)

	doc := &store.Doctor{Name: "Dr. Okafor", ConsultationFee: dec("15000"), FollowUpFee: dec("7500")}
	require.NoError(t, st.CreateDoctor(doc))

	ph := &store.Pharmacy{Name: "MedPlus Ikeja", Active: true, OffersDelivery: true, Latitude: 6.6018, Longitude: 3.3515}
	require.NoError(t, st.CreatePharmacy(ph))
	require.NoError(t, st.SaveInventoryItem(&store.InventoryItem{PharmacyID: ph.ID, MedicationName: "Amoxicillin", Price: dec("1200"), Quantity: 50}))
	require.NoError(t, st.SaveInventoryItem(&store.InventoryItem{PharmacyID: ph.ID, MedicationName: "Paracetamol", Price: dec("300"), Quantity: 50}))

	return &fixture{svc: svc, store: st, gateway: gw, events: events, doctor: doc, pharmacy: ph}
}

// completedAppointment books an appointment and walks it to completed
func (f *fixture) completedAppointment(t *testing.T, patientID string, start time.Time) *store.Appointment {
	ctx := context.Background()
	appt, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: patientID, DoctorID: f.doctor.ID, StartAt: start})
	require.NoError(t, err)
	for _, st := range []appointments.Status{appointments.StatusConfirmed, appointments.StatusInProgress, appointments.StatusCompleted} {
		appt, err = f.svc.TransitionAppointment(ctx, appt.ID, st)
		require.NoError(t, err)
	}
	return appt
}

func (f *fixture) prescription(t *testing.T, patientID string) *store.Prescription {
	appt := f.completedAppointment(t, patientID, testNow.Add(-2*time.Hour))
	rx, err := f.svc.IssuePrescription(context.Background(), IssueRequest{
		AppointmentID: appt.ID,
		Diagnosis:     "Acute sinusitis",
		Items: []PrescribedItem{
			{MedicationName: "Amoxicillin", Quantity: 10},
			{MedicationName: "Paracetamol", Quantity: 5},
		},
	})
	require.NoError(t, err)
	return rx
}

func TestBookAppointment_FeesAndSlots(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := testNow.Add(24 * time.Hour)

	appt, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: start})
	require.NoError(t, err)
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, 30, appt.DurationMins)
	assert.Equal(t, "15000.00", appt.Fee.StringFixed(2))

	_, err = f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat2", DoctorID: f.doctor.ID, StartAt: start.Add(15 * time.Minute)})
	assert.True(t, errors.Is(err, apperrors.ErrSlotTaken))

	emergency, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat2", DoctorID: f.doctor.ID, StartAt: start.Add(30 * time.Minute), ConsultType: appointments.ConsultEmergency})
	require.NoError(t, err)
	assert.Equal(t, "18000.00", emergency.Fee.StringFixed(2))

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, appointments.StatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat3", DoctorID: f.doctor.ID, StartAt: start})
	assert.NoError(t, err, "cancelled appointments free their slot")

	_, err = f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat3", DoctorID: f.doctor.ID, StartAt: start, ConsultType: "house_call"})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))
}

func TestBookAppointment_FreeFollowUp(t *testing.T) {
	f := setup(t)
	f.completedAppointment(t, "pat1", testNow.Add(-48*time.Hour))

	appt, err := f.svc.BookAppointment(context.Background(), BookRequest{
		PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: testNow.Add(time.Hour), ConsultType: appointments.ConsultFollowUp,
	})
	require.NoError(t, err)
	assert.True(t, appt.Fee.IsZero())
	assert.Equal(t, store.BillingWaived, appt.BillingStatus)

	// booked today but held ten days out, past the seven day window
	later, err := f.svc.BookAppointment(context.Background(), BookRequest{
		PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: testNow.AddDate(0, 0, 10), ConsultType: appointments.ConsultFollowUp,
	})
	require.NoError(t, err)
	assert.Equal(t, "7500.00", later.Fee.StringFixed(2))
	assert.Equal(t, store.BillingUnpaid, later.BillingStatus)
}

func TestTransitionAppointment_Invalid(t *testing.T) {
	f := setup(t)
	appt, err := f.svc.BookAppointment(context.Background(), BookRequest{PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: testNow.Add(time.Hour)})
	require.NoError(t, err)

	_, err = f.svc.TransitionAppointment(context.Background(), appt.ID, appointments.StatusCompleted)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	_, err = f.svc.TransitionAppointment(context.Background(), "nope", appointments.StatusConfirmed)
	assert.True(t, errors.Is(err, apperrors.ErrAppointmentNotFound))
}

func TestIssuePrescription_Rules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	open, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: testNow.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.svc.IssuePrescription(ctx, IssueRequest{AppointmentID: open.ID, Items: []PrescribedItem{{MedicationName: "Paracetamol"}}})
	assert.True(t, errors.Is(err, apperrors.ErrAppointmentIncomplete))

	done := f.completedAppointment(t, "pat1", testNow.Add(-3*time.Hour))
	_, err = f.svc.IssuePrescription(ctx, IssueRequest{AppointmentID: done.ID})
	assert.True(t, errors.Is(err, apperrors.ErrPrescriptionEmpty))

	_, err = f.svc.IssuePrescription(ctx, IssueRequest{AppointmentID: done.ID, Diagnosis: "flu\x00", Items: []PrescribedItem{{MedicationName: "Paracetamol"}}})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))

	rx, err := f.svc.IssuePrescription(ctx, IssueRequest{AppointmentID: done.ID, Items: []PrescribedItem{{MedicationName: "Paracetamol"}}})
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, 30), rx.ExpiresAt)
	assert.Equal(t, 1, rx.Items[0].Quantity)

	_, err = f.svc.IssuePrescription(ctx, IssueRequest{AppointmentID: done.ID, Items: []PrescribedItem{{MedicationName: "Paracetamol"}}})
	assert.True(t, errors.Is(err, apperrors.ErrPrescriptionExists))
}

func TestForwardPrescription_Uninsured(t *testing.T) {
	f := setup(t)
	rx := f.prescription(t, "pat1")

	res, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	require.NoError(t, err)
	assert.Equal(t, "13500.00", res.Order.Total.StringFixed(2))
	assert.Equal(t, "13500.00", res.Order.PatientCopay.StringFixed(2))
	assert.Nil(t, res.Claim)
	assert.Nil(t, res.Coverage)
	assert.Len(t, res.Order.Items, 2)

	got, err := f.store.GetPrescription(rx.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PrescriptionForwarded, got.Status)

	ph, err := f.store.GetPharmacy(f.pharmacy.ID)
	require.NoError(t, err)
	for _, inv := range ph.Inventory {
		if inv.MedicationName == "Amoxicillin" {
			assert.Equal(t, 40, inv.Quantity)
		}
	}

	_, err = f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	assert.True(t, errors.Is(err, apperrors.ErrPrescriptionForwarded))
}

func TestForwardPrescription_InsuredRaisesClaim(t *testing.T) {
	f := setup(t)
	policy := &store.InsurancePolicy{
		PatientID: "pat1", PolicyNumber: "AXA-001", PlanType: string(insurance.PlanPremium), Active: true,
		StartDate: testNow.AddDate(0, -1, 0), EndDate: testNow.AddDate(1, 0, 0),
	}
	require.NoError(t, f.store.CreatePolicy(policy))
	rx := f.prescription(t, "pat1")

	res, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID, Delivery: true})
	require.NoError(t, err)

	// premium covers 85% of medication
	require.NotNil(t, res.Coverage)
	assert.Equal(t, "11475.00", res.Order.CoveredAmount.StringFixed(2))
	assert.Equal(t, "2025.00", res.Order.PatientCopay.StringFixed(2))
	assert.True(t, res.Order.CoveredAmount.Add(res.Order.PatientCopay).Equal(res.Order.Total))

	require.NotNil(t, res.Claim)
	assert.Regexp(t, `^CLM-20260601-[0-9A-F]{8}$`, res.Claim.ClaimNumber)
	assert.Equal(t, "submitted", res.Claim.Status)
	assert.Equal(t, res.Claim.ID, *res.Order.ClaimID)
	assert.Contains(t, f.events.types(), notify.ClaimSubmitted)

	p, err := f.store.GetPolicy(policy.ID)
	require.NoError(t, err)
	assert.Equal(t, "11475.00", p.LimitUsed.StringFixed(2))
}

func TestForwardPrescription_HDHPDeductibleFirst(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.CreatePolicy(&store.InsurancePolicy{
		PatientID: "pat1", PolicyNumber: "HD-1", PlanType: string(insurance.PlanHDHP), Active: true,
		StartDate: testNow.AddDate(0, -1, 0), EndDate: testNow.AddDate(1, 0, 0),
		DeductibleMet: dec("45000"),
	}))
	rx := f.prescription(t, "pat1")

	res, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	require.NoError(t, err)

	// 5000 of deductible left, then 80% of the remaining 8500
	assert.Equal(t, "5000.00", res.Coverage.DeductibleApplied.StringFixed(2))
	assert.Equal(t, "6800.00", res.Order.CoveredAmount.StringFixed(2))
	assert.Equal(t, "6700.00", res.Order.PatientCopay.StringFixed(2))
}

func TestForwardPrescription_Expired(t *testing.T) {
	f := setup(t)
	rx := f.prescription(t, "pat1")
	f.svc.SetClock(func() time.Time { return testNow.AddDate(0, 0, 31) })

	_, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	assert.True(t, errors.Is(err, apperrors.ErrPrescriptionExpired))
}

func TestForwardPrescription_NothingInStock(t *testing.T) {
	f := setup(t)
	appt := f.completedAppointment(t, "pat1", testNow.Add(-2*time.Hour))
	rx, err := f.svc.IssuePrescription(context.Background(), IssueRequest{AppointmentID: appt.ID, Items: []PrescribedItem{{MedicationName: "Insulin", Quantity: 1}}})
	require.NoError(t, err)

	_, err = f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	assert.True(t, errors.Is(err, apperrors.ErrNothingInStock))

	got, err := f.store.GetPrescription(rx.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PrescriptionActive, got.Status, "failed forward leaves the prescription untouched")
}

func TestTransitionOrder_CancelRestocksAndDeniesClaim(t *testing.T) {
	tests := []struct {
		name          string
		plan          insurance.PlanType
		deductibleMet string
		metAfter      string
		claimed       bool
	}{
		// basic has no deductible; the claim reserves limit
		{"claim denied and limit returned", insurance.PlanBasic, "0", "0.00", true},
		// 5000 of deductible consumed, the rest claimed
		{"deductible returned with the claim", insurance.PlanHDHP, "45000", "50000.00", true},
		// the whole bill falls inside the deductible, so no claim is raised
		{"deductible returned without a claim", insurance.PlanHDHP, "0", "13500.00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			policy := &store.InsurancePolicy{
				PatientID: "pat1", PolicyNumber: "AXA-002", PlanType: string(tt.plan), Active: true,
				StartDate: testNow.AddDate(0, -1, 0), EndDate: testNow.AddDate(1, 0, 0),
				DeductibleMet: dec(tt.deductibleMet),
			}
			require.NoError(t, f.store.CreatePolicy(policy))
			rx := f.prescription(t, "pat1")
			res, err := f.svc.ForwardPrescription(ctx, ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
			require.NoError(t, err)
			assert.Equal(t, tt.claimed, res.Claim != nil)
			require.NotNil(t, res.Order.PolicyID)
			assert.Equal(t, policy.ID, *res.Order.PolicyID)

			p, err := f.store.GetPolicy(policy.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.metAfter, p.DeductibleMet.StringFixed(2))

			order, err := f.svc.TransitionOrder(ctx, res.Order.ID, orders.StatusCancelled)
			require.NoError(t, err)
			assert.Equal(t, "cancelled", order.Status)

			if tt.claimed {
				claim, err := f.store.GetClaim(res.Claim.ID)
				require.NoError(t, err)
				assert.Equal(t, "denied", claim.Status)
			}

			p, err = f.store.GetPolicy(policy.ID)
			require.NoError(t, err)
			assert.Equal(t, dec(tt.deductibleMet).StringFixed(2), p.DeductibleMet.StringFixed(2))
			assert.True(t, p.LimitUsed.IsZero())

			ph, err := f.store.GetPharmacy(f.pharmacy.ID)
			require.NoError(t, err)
			for _, inv := range ph.Inventory {
				assert.Equal(t, 50, inv.Quantity)
			}
		})
	}
}

func TestForwardPrescription_RepeatedMedication(t *testing.T) {
	f := setup(t)
	appt := f.completedAppointment(t, "pat1", testNow.Add(-2*time.Hour))
	rx, err := f.svc.IssuePrescription(context.Background(), IssueRequest{
		AppointmentID: appt.ID,
		Items: []PrescribedItem{
			{MedicationName: "Amoxicillin", Quantity: 30},
			{MedicationName: "amoxicillin", Quantity: 30},
			{MedicationName: "Paracetamol", Quantity: 1},
		},
	})
	require.NoError(t, err)

	res, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"amoxicillin"}, res.Unavailable)
	assert.Len(t, res.Order.Items, 2)
	assert.Equal(t, "36300.00", res.Order.Total.StringFixed(2))
}

func TestTransitionOrder_Lifecycle(t *testing.T) {
	f := setup(t)
	rx := f.prescription(t, "pat1")
	res, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	require.NoError(t, err)

	ctx := context.Background()
	for _, st := range []orders.Status{orders.StatusProcessing, orders.StatusReady, orders.StatusPickedUp} {
		_, err := f.svc.TransitionOrder(ctx, res.Order.ID, st)
		require.NoError(t, err)
	}
	_, err = f.svc.TransitionOrder(ctx, res.Order.ID, orders.StatusCancelled)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestClaimLifecycle(t *testing.T) {
	f := setup(t)
	policy := &store.InsurancePolicy{
		PatientID: "pat1", PolicyNumber: "AXA-003", PlanType: string(insurance.PlanStandard), Active: true,
		StartDate: testNow.AddDate(0, -1, 0), EndDate: testNow.AddDate(1, 0, 0),
	}
	require.NoError(t, f.store.CreatePolicy(policy))
	rx := f.prescription(t, "pat1")
	res, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	require.NoError(t, err)
	ctx := context.Background()

	// standard covers 70% of 13500
	assert.Equal(t, "9450.00", res.Claim.ClaimedAmount.StringFixed(2))

	_, err = f.svc.PayClaim(ctx, res.Claim.ID)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	_, err = f.svc.ReviewClaim(ctx, res.Claim.ID)
	require.NoError(t, err)

	_, err = f.svc.DecideClaim(ctx, res.Claim.ID, dec("10000"), "")
	assert.True(t, errors.Is(err, apperrors.ErrClaimOverApprove))

	claim, err := f.svc.DecideClaim(ctx, res.Claim.ID, dec("9000"), "formulary cap")
	require.NoError(t, err)
	assert.Equal(t, "partially_approved", claim.Status)
	assert.NotNil(t, claim.DecidedAt)

	p, err := f.store.GetPolicy(policy.ID)
	require.NoError(t, err)
	assert.Equal(t, "9000.00", p.LimitUsed.StringFixed(2))

	claim, err = f.svc.PayClaim(ctx, res.Claim.ID)
	require.NoError(t, err)
	assert.Equal(t, "paid", claim.Status)
	assert.NotNil(t, claim.PaidAt)
}

func TestVerifyPayment_AppointmentSplit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	appt, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: testNow.Add(time.Hour), Telemedicine: true})
	require.NoError(t, err)

	p, err := f.svc.InitiatePayment(ctx, PaymentRequest{Kind: store.KindAppointment, TargetID: appt.ID})
	require.NoError(t, err)
	assert.Equal(t, "pat1", p.PayerID)
	assert.Equal(t, "15000.00", p.Amount.StringFixed(2))

	res, err := f.svc.VerifyPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.False(t, res.AlreadyVerified)
	assert.Equal(t, store.PaymentSuccessful, res.Payment.Status)
	assert.Equal(t, "telemedicine", res.Commission.Service)
	assert.Equal(t, store.PayeeDoctor, res.Commission.PayeeType)
	assert.Equal(t, f.doctor.ID, res.Commission.PayeeID)
	assert.Equal(t, "2250.00", res.Commission.Commission.StringFixed(2))
	assert.Equal(t, "12750.00", res.Commission.Net.StringFixed(2))

	got, err := f.store.GetAppointment(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BillingPaid, got.BillingStatus)

	again, err := f.svc.VerifyPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.True(t, again.AlreadyVerified)
	assert.Equal(t, res.Commission.ID, again.Commission.ID)
	assert.Equal(t, 1, f.gateway.calls)

	recs, err := f.store.ListCommissions(store.PayeeDoctor, f.doctor.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestVerifyPayment_SettlesTargetOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	appt, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: testNow.Add(time.Hour)})
	require.NoError(t, err)

	first, err := f.svc.InitiatePayment(ctx, PaymentRequest{Kind: store.KindAppointment, TargetID: appt.ID})
	require.NoError(t, err)
	again, err := f.svc.InitiatePayment(ctx, PaymentRequest{Kind: store.KindAppointment, TargetID: appt.ID})
	require.NoError(t, err)
	assert.Equal(t, first.Reference, again.Reference, "an open checkout is reused")

	// a second checkout for the same bill, e.g. from another device
	dup := &store.Payment{
		Reference: "VN-SECOND", PayerID: "pat1", Kind: store.KindAppointment, TargetID: appt.ID,
		Amount: first.Amount, Currency: first.Currency,
	}
	require.NoError(t, f.store.CreatePayment(dup))

	_, err = f.svc.VerifyPayment(ctx, first.Reference)
	require.NoError(t, err)
	_, err = f.svc.VerifyPayment(ctx, dup.Reference)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadySettled))

	got, err := f.store.GetPaymentByReference(dup.Reference)
	require.NoError(t, err)
	assert.Equal(t, store.PaymentRefundDue, got.Status)
	assert.Equal(t, "tx-1", got.GatewayTxID)

	recs, err := f.store.ListCommissions(store.PayeeDoctor, f.doctor.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	calls := f.gateway.calls
	_, err = f.svc.VerifyPayment(ctx, dup.Reference)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadySettled))
	assert.Equal(t, calls, f.gateway.calls)
}

func TestVerifyPayment_CancelledOrderIsNotSettled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	rx := f.prescription(t, "pat1")
	fwd, err := f.svc.ForwardPrescription(ctx, ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	require.NoError(t, err)

	p, err := f.svc.InitiatePayment(ctx, PaymentRequest{Kind: store.KindOrder, TargetID: fwd.Order.ID})
	require.NoError(t, err)
	_, err = f.svc.TransitionOrder(ctx, fwd.Order.ID, orders.StatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.VerifyPayment(ctx, p.Reference)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadySettled))

	order, err := f.store.GetOrder(fwd.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BillingUnpaid, order.BillingStatus)

	recs, err := f.store.ListCommissions(store.PayeePharmacy, f.pharmacy.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestVerifyPayment_OrderPaysPharmacy(t *testing.T) {
	f := setup(t)
	rx := f.prescription(t, "pat1")
	fwd, err := f.svc.ForwardPrescription(context.Background(), ForwardRequest{PrescriptionID: rx.ID, PharmacyID: f.pharmacy.ID})
	require.NoError(t, err)

	p, err := f.svc.InitiatePayment(context.Background(), PaymentRequest{Kind: store.KindOrder, TargetID: fwd.Order.ID})
	require.NoError(t, err)
	res, err := f.svc.VerifyPayment(context.Background(), p.Reference)
	require.NoError(t, err)

	assert.Equal(t, store.PayeePharmacy, res.Commission.PayeeType)
	assert.Equal(t, f.pharmacy.ID, res.Commission.PayeeID)
	assert.Equal(t, "1350.00", res.Commission.Commission.StringFixed(2))
	assert.True(t, res.Commission.Commission.Add(res.Commission.Net).Equal(res.Commission.Gross))
}

func TestVerifyPayment_SubscriptionExtends(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := f.svc.InitiatePayment(ctx, PaymentRequest{PayerID: "pat1", Kind: store.KindSubscription, TargetID: "premium_monthly"})
		require.NoError(t, err)
		res, err := f.svc.VerifyPayment(ctx, p.Reference)
		require.NoError(t, err)
		assert.Equal(t, store.PayeePlatform, res.Commission.PayeeType)
		assert.True(t, res.Commission.Net.IsZero())
		assert.Equal(t, "5000.00", res.Commission.Commission.StringFixed(2))
	}

	sub, err := f.store.GetSubscription("pat1")
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, testNow.AddDate(0, 2, 0), sub.EndsAt.UTC())
	assert.Contains(t, f.events.types(), notify.SubscriptionRenewed)
}

func TestVerifyPayment_LapsedSubscriptionRestarts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// ended three days ago, not yet swept
	require.NoError(t, f.store.SaveSubscription(&store.Subscription{
		UserID: "pat1", Plan: "premium_monthly", Period: rates.PeriodMonthly, Active: true,
		StartsAt: testNow.AddDate(0, -1, -3), EndsAt: testNow.AddDate(0, 0, -3),
	}))

	p, err := f.svc.InitiatePayment(ctx, PaymentRequest{PayerID: "pat1", Kind: store.KindSubscription, TargetID: "premium_monthly"})
	require.NoError(t, err)
	_, err = f.svc.VerifyPayment(ctx, p.Reference)
	require.NoError(t, err)

	sub, err := f.store.GetSubscription("pat1")
	require.NoError(t, err)
	assert.Equal(t, testNow, sub.StartsAt.UTC())
	assert.Equal(t, testNow.AddDate(0, 1, 0), sub.EndsAt.UTC())
}

func TestVerifyPayment_GatewayOutcomes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	newPayment := func() *store.Payment {
		p, err := f.svc.InitiatePayment(ctx, PaymentRequest{PayerID: "pat1", Kind: store.KindSubscription, TargetID: "basic_monthly"})
		require.NoError(t, err)
		return p
	}

	f.gateway.err = apperrors.ErrGatewayDown
	_, err := f.svc.VerifyPayment(ctx, newPayment().Reference)
	assert.True(t, errors.Is(err, apperrors.ErrGatewayDown))
	f.gateway.err = nil

	short := dec("10")
	f.gateway.amount = &short
	_, err = f.svc.VerifyPayment(ctx, newPayment().Reference)
	assert.True(t, errors.Is(err, apperrors.ErrPaymentMismatch))
	f.gateway.amount = nil

	f.gateway.status = payments.TxFailed
	p := newPayment()
	_, err = f.svc.VerifyPayment(ctx, p.Reference)
	assert.True(t, errors.Is(err, apperrors.ErrPaymentFailed))
	got, err := f.store.GetPaymentByReference(p.Reference)
	require.NoError(t, err)
	assert.Equal(t, store.PaymentFailed, got.Status)

	_, err = f.svc.VerifyPayment(ctx, "VN-UNKNOWN")
	assert.True(t, errors.Is(err, apperrors.ErrPaymentNotFound))
}

func TestVerifyPayment_InFlight(t *testing.T) {
	f := setup(t)
	p, err := f.svc.InitiatePayment(context.Background(), PaymentRequest{PayerID: "pat1", Kind: store.KindSubscription, TargetID: "basic_monthly"})
	require.NoError(t, err)

	ok, err := f.store.AcquireKey("verify:"+p.Reference, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.VerifyPayment(context.Background(), p.Reference)
	assert.True(t, errors.Is(err, apperrors.ErrVerifyInFlight))
	assert.Equal(t, 0, f.gateway.calls)
}

func TestSweeps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	stale, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat1", DoctorID: f.doctor.ID, StartAt: testNow.Add(-3 * time.Hour)})
	require.NoError(t, err)
	recent, err := f.svc.BookAppointment(ctx, BookRequest{PatientID: "pat2", DoctorID: f.doctor.ID, StartAt: testNow.Add(-40 * time.Minute)})
	require.NoError(t, err)

	n, err := f.svc.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetAppointment(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, "no_show", got.Status)
	got, err = f.store.GetAppointment(recent.ID)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", got.Status)

	f.prescription(t, "pat3")
	f.svc.SetClock(func() time.Time { return testNow.AddDate(0, 0, 45) })
	expired, err := f.svc.ExpirePrescriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
}

func TestPredictVitalAndNearby(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i, v := range []float64{130, 128, 126, 124} {
		require.NoError(t, f.svc.RecordVital(ctx, &store.VitalReading{
			PatientID: "pat1", Kind: "Systolic", Value: v, RecordedAt: testNow.AddDate(0, 0, i),
		}))
	}
	pred, err := f.svc.PredictVital(ctx, "pat1", "systolic")
	require.NoError(t, err)
	assert.InDelta(t, -2, pred.Slope, 1e-9)
	assert.InDelta(t, 122, pred.Next, 1e-9)

	near, err := f.svc.NearbyPharmacies(ctx, pharmacy.Location{Latitude: 6.5244, Longitude: 3.3792}, 20)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "MedPlus Ikeja", near[0].Name)

	_, err = f.svc.NearbyPharmacies(ctx, pharmacy.Location{}, 0)
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))
}
