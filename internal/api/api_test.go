package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/config"
	"github.com/vitanips/vitanips-core/internal/metrics"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/payments"
	"github.com/vitanips/vitanips-core/internal/rates"
	"github.com/vitanips/vitanips-core/internal/store"
	"github.com/vitanips/vitanips-core/internal/workflow"
)

const testSecret = "test-secret"

type stubGateway struct{}

func (stubGateway) Verify(_ context.Context, ref string) (*payments.Verification, error) {
	return &payments.Verification{Reference: ref, Status: payments.TxPending}, nil
}

type testServer struct {
	*Server
	store *store.Store
}

func newTestServer(t *testing.T) *testServer {
	cfg := config.Default()
	cfg.Security.JWTSecret = testSecret

	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	svc := workflow.New(st, rates.NewStatic(rates.Default()), stubGateway{}, workflow.Options{
		PrescriptionValidDays: 30,
		FreeFollowUpDays:      7,
	}, logger)

	return &testServer{
		Server: New(cfg, st, svc, notify.NewHub(logger), metrics.New(), logger, "test"),
		store:  st,
	}
}

func (ts *testServer) do(t *testing.T, method, path, role, body string) (*http.Response, []byte) {
	return ts.doAs(t, method, path, role+"-1", role, body)
}

func (ts *testServer) doAs(t *testing.T, method, path, user, role, body string) (*http.Response, []byte) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := IssueToken(testSecret, user, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "GET", "/api/health", "", "")
	assert.Equal(t, 200, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "test", out["version"])
}

func TestCoverageQuote(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/quotes/coverage", "",
		`{"plan_type":"premium","service_type":"medication","total_amount":"13500"}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var out struct {
		CoveredAmount decimal.Decimal `json:"covered_amount"`
		PatientCopay  decimal.Decimal `json:"patient_copay"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.CoveredAmount.Equal(decimal.NewFromInt(11475)), out.CoveredAmount.String())
	assert.True(t, out.PatientCopay.Equal(decimal.NewFromInt(2025)), out.PatientCopay.String())
}

func TestCoverageQuote_UnknownPlan(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/quotes/coverage", "",
		`{"plan_type":"platinum","service_type":"medication","total_amount":"100"}`)
	assert.Equal(t, 422, resp.StatusCode)
	assert.Contains(t, string(body), "INS_001")
}

func TestCommissionQuote(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/quotes/commission", "", `{"service":"consultation","gross":"20000"}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var out struct {
		Commission decimal.Decimal `json:"commission"`
		Net        decimal.Decimal `json:"net"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Commission.Equal(decimal.NewFromInt(3000)), out.Commission.String())
	assert.True(t, out.Net.Equal(decimal.NewFromInt(17000)), out.Net.String())
}

func TestNearbyPharmacies_RequiresCoordinates(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "GET", "/api/pharmacies/nearby?lat=6.5", "", "")
	assert.Equal(t, 400, resp.StatusCode)

	require.NoError(t, ts.store.CreatePharmacy(&store.Pharmacy{Name: "HealthPlus Yaba", Active: true, Latitude: 6.5095, Longitude: 3.3711}))
	resp, body := ts.do(t, "GET", "/api/pharmacies/nearby?lat=6.5244&lng=3.3792&radius_km=5", "", "")
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "HealthPlus Yaba")
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "GET", "/api/appointments", "", "")
	assert.Equal(t, 401, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	bad, err := IssueToken("other-secret", "pat-1", RolePatient, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	resp, err = ts.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRoles(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "POST", "/api/orders/ord_x/status", RolePatient, `{"status":"processing"}`)
	assert.Equal(t, 403, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/claims/clm_x/review", RoleDoctor, "")
	assert.Equal(t, 403, resp.StatusCode)

	// admins pass every role check and hit the lookup
	resp, body := ts.do(t, "POST", "/api/claims/clm_x/review", RoleAdmin, "")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Contains(t, string(body), "CLM_001")
}

func TestAppointmentFlow(t *testing.T) {
	ts := newTestServer(t)

	doc := &store.Doctor{ID: "doctor-1", Name: "Dr. Adeyemi", ConsultationFee: decimal.NewFromInt(15000), FollowUpFee: decimal.NewFromInt(7500)}
	require.NoError(t, ts.store.CreateDoctor(doc))

	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute).Format(time.RFC3339)
	resp, body := ts.do(t, "POST", "/api/appointments", RolePatient,
		`{"patient_id":"someone-else","doctor_id":"`+doc.ID+`","start_at":"`+start+`"}`)
	require.Equal(t, 201, resp.StatusCode, string(body))

	var appt store.Appointment
	require.NoError(t, json.Unmarshal(body, &appt))
	assert.Equal(t, "patient-1", appt.PatientID)
	assert.True(t, appt.Fee.Equal(decimal.NewFromInt(15000)))

	// same slot again
	resp, body = ts.do(t, "POST", "/api/appointments", RolePatient,
		`{"doctor_id":"`+doc.ID+`","start_at":"`+start+`"}`)
	assert.Equal(t, 409, resp.StatusCode)
	assert.Contains(t, string(body), "APPT_004")

	resp, body = ts.do(t, "GET", "/api/appointments", RolePatient, "")
	require.Equal(t, 200, resp.StatusCode)
	var list []store.Appointment
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	// patients can cancel but not confirm
	resp, _ = ts.do(t, "POST", "/api/appointments/"+appt.ID+"/status", RolePatient, `{"status":"confirmed"}`)
	assert.Equal(t, 403, resp.StatusCode)

	resp, body = ts.do(t, "POST", "/api/appointments/"+appt.ID+"/prescription", RoleDoctor,
		`{"diagnosis":"flu","items":[{"medication_name":"Paracetamol","quantity":1}]}`)
	assert.Equal(t, 422, resp.StatusCode)
	assert.Contains(t, string(body), "APPT_003")

	resp, body = ts.do(t, "POST", "/api/appointments/"+appt.ID+"/status", RolePatient, `{"status":"cancelled"}`)
	require.Equal(t, 200, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"cancelled"`)

	resp, _ = ts.do(t, "POST", "/api/appointments/"+appt.ID+"/status", RoleDoctor, `{"status":"confirmed"}`)
	assert.Equal(t, 409, resp.StatusCode)
}

func TestOwnership(t *testing.T) {
	ts := newTestServer(t)

	doc := &store.Doctor{ID: "doctor-9", Name: "Dr. Bello", ConsultationFee: decimal.NewFromInt(15000)}
	require.NoError(t, ts.store.CreateDoctor(doc))
	ph := &store.Pharmacy{ID: "pharmacy-9", Name: "Alpha Pharmacy", Active: true}
	require.NoError(t, ts.store.CreatePharmacy(ph))
	require.NoError(t, ts.store.SaveInventoryItem(&store.InventoryItem{PharmacyID: ph.ID, MedicationName: "Paracetamol", Price: decimal.NewFromInt(300), Quantity: 10}))
	policy := &store.InsurancePolicy{
		PatientID: "patient-1", PolicyNumber: "POL-OWN", PlanType: "premium", Active: true,
		StartDate: time.Now().AddDate(0, -1, 0), EndDate: time.Now().AddDate(1, 0, 0),
	}
	require.NoError(t, ts.store.CreatePolicy(policy))

	start := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Minute).Format(time.RFC3339)
	resp, body := ts.do(t, "POST", "/api/appointments", RolePatient, `{"doctor_id":"doctor-9","start_at":"`+start+`"}`)
	require.Equal(t, 201, resp.StatusCode, string(body))
	var appt store.Appointment
	require.NoError(t, json.Unmarshal(body, &appt))
	for _, st := range []string{"confirmed", "in_progress", "completed"} {
		resp, body = ts.doAs(t, "POST", "/api/appointments/"+appt.ID+"/status", "doctor-9", RoleDoctor, `{"status":"`+st+`"}`)
		require.Equal(t, 200, resp.StatusCode, string(body))
	}

	rxBody := `{"diagnosis":"headache","items":[{"medication_name":"Paracetamol","quantity":2}]}`
	resp, _ = ts.do(t, "POST", "/api/appointments/"+appt.ID+"/prescription", RoleDoctor, rxBody)
	assert.Equal(t, 403, resp.StatusCode, "doctor-1 did not see this patient")
	resp, body = ts.doAs(t, "POST", "/api/appointments/"+appt.ID+"/prescription", "doctor-9", RoleDoctor, rxBody)
	require.Equal(t, 201, resp.StatusCode, string(body))
	var rx store.Prescription
	require.NoError(t, json.Unmarshal(body, &rx))

	fwdBody := `{"pharmacy_id":"pharmacy-9"}`
	resp, _ = ts.doAs(t, "POST", "/api/prescriptions/"+rx.ID+"/forward", "patient-2", RolePatient, fwdBody)
	assert.Equal(t, 403, resp.StatusCode)
	resp, _ = ts.do(t, "POST", "/api/prescriptions/"+rx.ID+"/forward", RolePharmacy, fwdBody)
	assert.Equal(t, 403, resp.StatusCode)
	resp, body = ts.do(t, "POST", "/api/prescriptions/"+rx.ID+"/forward", RolePatient, fwdBody)
	require.Equal(t, 201, resp.StatusCode, string(body))
	var fwd struct {
		Order store.MedicationOrder `json:"order"`
	}
	require.NoError(t, json.Unmarshal(body, &fwd))

	resp, _ = ts.do(t, "POST", "/api/orders/"+fwd.Order.ID+"/status", RolePharmacy, `{"status":"processing"}`)
	assert.Equal(t, 403, resp.StatusCode)
	resp, body = ts.doAs(t, "POST", "/api/orders/"+fwd.Order.ID+"/status", "pharmacy-9", RolePharmacy, `{"status":"processing"}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	resp, _ = ts.do(t, "GET", "/api/claims", RoleAdmin, "")
	assert.Equal(t, 400, resp.StatusCode)
	resp, body = ts.do(t, "GET", "/api/claims?policy_id="+policy.ID, RoleAdmin, "")
	require.Equal(t, 200, resp.StatusCode, string(body))
	var claims []store.InsuranceClaim
	require.NoError(t, json.Unmarshal(body, &claims))
	require.Len(t, claims, 1)
	assert.Equal(t, fwd.Order.ID, claims[0].OrderID)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, "GET", "/api/health", "", "")
	resp, body := ts.do(t, "GET", "/metrics", "", "")
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "vitanips_http_requests_total")
}
