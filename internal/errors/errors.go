package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so wrapped sentinels
// still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigInvalid = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}
	ErrRatesInvalid  = &AppError{Code: "CONFIG_003", Message: "invalid rate table"}

	ErrUnknownPlan    = &AppError{Code: "INS_001", Message: "unknown insurance plan type"}
	ErrUnknownService = &AppError{Code: "INS_002", Message: "unknown service type"}
	ErrNegativeAmount = &AppError{Code: "INS_003", Message: "amount must not be negative"}

	ErrAppointmentNotFound   = &AppError{Code: "APPT_001", Message: "appointment not found"}
	ErrInvalidTransition     = &AppError{Code: "APPT_002", Message: "status transition not allowed"}
	ErrAppointmentIncomplete = &AppError{Code: "APPT_003", Message: "appointment is not completed"}
	ErrSlotTaken             = &AppError{Code: "APPT_004", Message: "doctor is not available at that time"}

	ErrPrescriptionNotFound  = &AppError{Code: "RX_001", Message: "prescription not found"}
	ErrPrescriptionExists    = &AppError{Code: "RX_002", Message: "appointment already has a prescription"}
	ErrPrescriptionForwarded = &AppError{Code: "RX_003", Message: "prescription already forwarded"}
	ErrPrescriptionExpired   = &AppError{Code: "RX_004", Message: "prescription expired"}
	ErrPrescriptionEmpty     = &AppError{Code: "RX_005", Message: "prescription has no items"}

	ErrOrderNotFound    = &AppError{Code: "ORD_001", Message: "medication order not found"}
	ErrPharmacyNotFound = &AppError{Code: "ORD_002", Message: "pharmacy not found"}
	ErrNothingInStock   = &AppError{Code: "ORD_003", Message: "pharmacy stocks none of the prescribed items"}

	ErrClaimNotFound    = &AppError{Code: "CLM_001", Message: "insurance claim not found"}
	ErrClaimOverApprove = &AppError{Code: "CLM_002", Message: "approved amount exceeds claimed amount"}

	ErrPaymentNotFound  = &AppError{Code: "PAY_001", Message: "payment not found"}
	ErrPaymentMismatch  = &AppError{Code: "PAY_002", Message: "gateway amount or currency does not match"}
	ErrPaymentFailed    = &AppError{Code: "PAY_003", Message: "payment was not successful"}
	ErrGatewayDown      = &AppError{Code: "PAY_004", Message: "payment gateway unavailable"}
	ErrUnknownPlanPrice = &AppError{Code: "PAY_005", Message: "unknown subscription plan"}
	ErrVerifyInFlight   = &AppError{Code: "PAY_006", Message: "payment verification already in progress"}
	ErrAlreadySettled   = &AppError{Code: "PAY_007", Message: "payment target is already settled or cancelled"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}
	ErrForbidden    = &AppError{Code: "AUTH_002", Message: "forbidden"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// With returns a copy of a sentinel carrying extra detail, keeping its code.
func With(sentinel *AppError, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: sentinel.Message + ": " + fmt.Sprintf(format, args...),
	}
}
