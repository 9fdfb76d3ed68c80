package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/appointments"
	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/insurance"
	"github.com/vitanips/vitanips-core/internal/orders"
	"github.com/vitanips/vitanips-core/internal/payments"
	"github.com/vitanips/vitanips-core/internal/pharmacy"
	"github.com/vitanips/vitanips-core/internal/security"
	"github.com/vitanips/vitanips-core/internal/store"
	"github.com/vitanips/vitanips-core/internal/workflow"
)

// statusForCode maps error codes to HTTP statuses; codes not listed are 422
var statusForCode = map[string]int{
	"APPT_001": fiber.StatusNotFound,
	"RX_001":   fiber.StatusNotFound,
	"ORD_001":  fiber.StatusNotFound,
	"ORD_002":  fiber.StatusNotFound,
	"CLM_001":  fiber.StatusNotFound,
	"PAY_001":  fiber.StatusNotFound,
	"GEN_001":  fiber.StatusNotFound,
	"GEN_002":  fiber.StatusBadRequest,
	"APPT_002": fiber.StatusConflict,
	"APPT_004": fiber.StatusConflict,
	"RX_002":   fiber.StatusConflict,
	"RX_003":   fiber.StatusConflict,
	"PAY_006":  fiber.StatusConflict,
	"PAY_007":  fiber.StatusConflict,
	"PAY_002":  fiber.StatusPaymentRequired,
	"PAY_003":  fiber.StatusPaymentRequired,
	"PAY_004":  fiber.StatusServiceUnavailable,
	"AUTH_001": fiber.StatusUnauthorized,
	"AUTH_002": fiber.StatusForbidden,
}

// fail writes an error response. Coded errors carry their code and message;
// anything else is logged and reported as a 500.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	if !apperrors.IsAppError(err) {
		s.logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.String("error", security.Redact(err.Error())),
		)
		return c.Status(500).JSON(fiber.Map{"error": "internal error", "code": apperrors.ErrInternal.Code})
	}
	code := apperrors.GetCode(err)
	status, ok := statusForCode[code]
	if !ok {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": code})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(400).JSON(fiber.Map{"error": msg, "code": apperrors.ErrBadRequest.Code})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().Unix(),
	})
}

// ==================== Quotes ====================

func (s *Server) handleCoverageQuote(c *fiber.Ctx) error {
	var req coverageQuote
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	res, err := s.service.Coverage().Calculate(insurance.Request{
		PlanType:            insurance.PlanType(strings.ToLower(req.PlanType)),
		ServiceType:         insurance.ServiceType(strings.ToLower(req.ServiceType)),
		TotalAmount:         req.TotalAmount,
		DeductibleRemaining: req.DeductibleRemaining,
		LimitRemaining:      req.LimitRemaining,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleCommissionQuote(c *fiber.Ctx) error {
	var req commissionQuote
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	res, err := s.service.Commission().Calculate(payments.Service(strings.ToLower(req.Service)), req.Gross)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleNearbyPharmacies(c *fiber.Ctx) error {
	lat := c.QueryFloat("lat", 0)
	lng := c.QueryFloat("lng", 0)
	radius := c.QueryFloat("radius_km", 10)
	if c.Query("lat") == "" || c.Query("lng") == "" {
		return badRequest(c, "lat and lng are required")
	}

	res, err := s.service.NearbyPharmacies(c.UserContext(), pharmacy.Location{Latitude: lat, Longitude: lng}, radius)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

// ==================== Appointments ====================

func (s *Server) handleListAppointments(c *fiber.Ctx) error {
	appts, err := s.store.ListAppointments(currentUser(c), c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(appts)
}

func (s *Server) handleBookAppointment(c *fiber.Ctx) error {
	var req workflow.BookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	// patients always book for themselves
	if currentRole(c) == RolePatient || req.PatientID == "" {
		req.PatientID = currentUser(c)
	}

	appt, err := s.service.BookAppointment(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(appt)
}

func (s *Server) handleAppointmentStatus(c *fiber.Ctx) error {
	var req statusChange
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	appt, err := s.store.GetAppointment(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	to := appointments.Status(req.Status)
	// patients may only cancel their own appointments
	if currentRole(c) == RolePatient && (appt.PatientID != currentUser(c) || to != appointments.StatusCancelled) {
		return deny(c, apperrors.ErrForbidden, "patients may only cancel their own appointments")
	}

	appt, err = s.service.TransitionAppointment(c.UserContext(), appt.ID, to)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(appt)
}

func (s *Server) handleIssuePrescription(c *fiber.Ctx) error {
	var req workflow.IssueRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	appt, err := s.store.GetAppointment(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if currentRole(c) == RoleDoctor && appt.DoctorID != currentUser(c) {
		return deny(c, apperrors.ErrForbidden, "only the attending doctor may prescribe")
	}
	req.AppointmentID = appt.ID

	rx, err := s.service.IssuePrescription(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(rx)
}

func (s *Server) handleForwardPrescription(c *fiber.Ctx) error {
	var req workflow.ForwardRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	rx, err := s.store.GetPrescription(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	// the patient or the prescribing doctor
	switch user := currentUser(c); currentRole(c) {
	case RoleAdmin:
	case RolePatient:
		if rx.PatientID != user {
			return deny(c, apperrors.ErrForbidden, "not your prescription")
		}
	case RoleDoctor:
		if rx.DoctorID != user {
			return deny(c, apperrors.ErrForbidden, "not your prescription")
		}
	default:
		return deny(c, apperrors.ErrForbidden, "role "+currentRole(c)+" may not do this")
	}
	req.PrescriptionID = rx.ID

	res, err := s.service.ForwardPrescription(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(res)
}

// ==================== Orders ====================

func (s *Server) handleListOrders(c *fiber.Ctx) error {
	list, err := s.store.ListOrders(currentUser(c), c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(list)
}

func (s *Server) handleOrderStatus(c *fiber.Ctx) error {
	var req statusChange
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	order, err := s.store.GetOrder(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if currentRole(c) == RolePharmacy && order.PharmacyID != currentUser(c) {
		return deny(c, apperrors.ErrForbidden, "order belongs to another pharmacy")
	}

	order, err = s.service.TransitionOrder(c.UserContext(), order.ID, orders.Status(req.Status))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(order)
}

// ==================== Claims ====================

func (s *Server) handleListClaims(c *fiber.Ctx) error {
	policyID := c.Query("policy_id")
	if policyID == "" {
		return badRequest(c, "policy_id is required")
	}
	claims, err := s.store.ListClaims(policyID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(claims)
}

func (s *Server) handleReviewClaim(c *fiber.Ctx) error {
	claim, err := s.service.ReviewClaim(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(claim)
}

func (s *Server) handleDecideClaim(c *fiber.Ctx) error {
	var req claimDecision
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	claim, err := s.service.DecideClaim(c.UserContext(), c.Params("id"), req.ApprovedAmount, req.Notes)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(claim)
}

func (s *Server) handlePayClaim(c *fiber.Ctx) error {
	claim, err := s.service.PayClaim(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(claim)
}

// ==================== Payments ====================

func (s *Server) handleInitiatePayment(c *fiber.Ctx) error {
	var req workflow.PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	req.PayerID = currentUser(c)

	p, err := s.service.InitiatePayment(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(p)
}

func (s *Server) handleVerifyPayment(c *fiber.Ctx) error {
	res, err := s.service.VerifyPayment(c.UserContext(), c.Params("reference"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

// ==================== Vitals ====================

func (s *Server) handleRecordVital(c *fiber.Ctx) error {
	var req vitalInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if currentRole(c) == RolePatient || req.PatientID == "" {
		req.PatientID = currentUser(c)
	}

	v := &store.VitalReading{
		PatientID:  req.PatientID,
		Kind:       req.Kind,
		Value:      req.Value,
		Unit:       req.Unit,
		RecordedAt: req.RecordedAt,
	}
	if err := s.service.RecordVital(c.UserContext(), v); err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(v)
}

func (s *Server) handleVitalTrend(c *fiber.Ctx) error {
	patientID := currentUser(c)
	if q := c.Query("patient_id"); q != "" && currentRole(c) != RolePatient {
		patientID = q
	}

	pred, err := s.service.PredictVital(c.UserContext(), patientID, c.Params("kind"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(pred)
}

// ==================== WebSocket ====================

func (s *Server) handleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(string)
	unregister := s.hub.Register(userID, c)
	defer func() {
		unregister()
		c.Close()
	}()

	// notifications only flow outward; reads just detect the close
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			s.logger.Debug("WebSocket closed", zap.String("user_id", userID), zap.Error(err))
			return
		}
	}
}
