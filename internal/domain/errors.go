package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on Code so callers can use errors.Is against a constructed sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Stable machine codes returned to clients.
const (
	CodeNotFound                 = "NOT_FOUND"
	CodeConflict                 = "CONFLICT"
	CodeValidation               = "VALIDATION_ERROR"
	CodeInvalidState             = "INVALID_STATE"
	CodePaymentAmountInvalid     = "PAYMENT_AMOUNT_INVALID"
	CodeAmountExceedsBalance     = "PAYMENT_AMOUNT_EXCEEDS_REMAINING_BALANCE"
	CodeCallbackFieldsRequired   = "PAYMENT_CALLBACK_FIELDS_REQUIRED"
	CodeInvalidPaymentStatus     = "INVALID_PAYMENT_STATUS"
	CodeInvalidGatewaySignature  = "INVALID_GATEWAY_SIGNATURE"
	CodeSignatureSecretMissing   = "PAYMENT_SIGNATURE_SECRET_NOT_CONFIGURED"
	CodePaymentReplayDetected    = "PAYMENT_REPLAY_DETECTED"
	CodeLineItemAlreadyDemanded  = "FEE_LINE_ITEM_ALREADY_DEMANDED"
	CodeServiceVersionNotFound   = "SERVICE_VERSION_NOT_FOUND"
	CodeTransitionFailed         = "TRANSITION_FAILED"
	CodeTransitionNotFound       = "TRANSITION_NOT_FOUND"
	CodeGatewayUnavailable       = "GATEWAY_UNAVAILABLE"
	CodeInternal                 = "INTERNAL_ERROR"
	feeScheduleInvalidLinePrefix = "FEE_SCHEDULE_INVALID_LINE_"
)

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Message: msg, Status: 403}
}

func ErrInvalidState(msg string) *AppError {
	return &AppError{Code: CodeInvalidState, Message: msg, Status: 409}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// Ledger errors.

func ErrPaymentAmountInvalid() *AppError {
	return &AppError{Code: CodePaymentAmountInvalid, Message: "payment amount must be greater than zero", Status: 400}
}

func ErrAmountExceedsBalance(amount, remaining int64) *AppError {
	return &AppError{
		Code:    CodeAmountExceedsBalance,
		Message: fmt.Sprintf("payment amount %d exceeds remaining balance %d", amount, remaining),
		Status:  409,
	}
}

func ErrCallbackFieldsRequired() *AppError {
	return &AppError{Code: CodeCallbackFieldsRequired, Message: "gateway order id, payment id and status are required", Status: 400}
}

func ErrInvalidPaymentStatus(status string) *AppError {
	return &AppError{Code: CodeInvalidPaymentStatus, Message: fmt.Sprintf("unsupported payment status %q", status), Status: 400}
}

func ErrLineItemAlreadyDemanded(id string) *AppError {
	return &AppError{Code: CodeLineItemAlreadyDemanded, Message: fmt.Sprintf("fee line item %s is already part of a demand", id), Status: 409}
}

// Gateway security errors never say which part of the check failed.

func ErrInvalidGatewaySignature() *AppError {
	return &AppError{Code: CodeInvalidGatewaySignature, Message: "gateway signature verification failed", Status: 401}
}

func ErrSignatureSecretMissing() *AppError {
	return &AppError{Code: CodeSignatureSecretMissing, Message: "payment gateway signature secret is not configured", Status: 500}
}

func ErrPaymentReplayDetected() *AppError {
	return &AppError{Code: CodePaymentReplayDetected, Message: "gateway payment has already been applied", Status: 409}
}

func ErrGatewayUnavailable(cause error) *AppError {
	return &AppError{Code: CodeGatewayUnavailable, Message: "payment gateway unavailable", Status: 503, Cause: cause}
}

// Configuration and workflow errors.

func ErrServiceVersionNotFound(serviceKey string, version int) *AppError {
	return &AppError{
		Code:    CodeServiceVersionNotFound,
		Message: fmt.Sprintf("service %s version %d not found", serviceKey, version),
		Status:  404,
	}
}

// ErrFeeScheduleInvalidLine reports a malformed schedule line; line is 1-based.
func ErrFeeScheduleInvalidLine(line int, reason string) *AppError {
	return &AppError{
		Code:    fmt.Sprintf("%s%d", feeScheduleInvalidLinePrefix, line),
		Message: reason,
		Status:  422,
	}
}

func ErrTransitionFailed(msg string) *AppError {
	return &AppError{Code: CodeTransitionFailed, Message: msg, Status: 422}
}

// ErrTransitionNotFound is returned to callers that asked for a specific
// transition which does not leave the current state.
func ErrTransitionNotFound(msg string) *AppError {
	return &AppError{Code: CodeTransitionNotFound, Message: msg, Status: 409}
}

// CodeOf returns the AppError code carried by err, or "" when err is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
