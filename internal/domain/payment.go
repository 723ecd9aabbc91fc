package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMode distinguishes counter receipts from gateway payments.
type PaymentMode string

const (
	PaymentModeCounter PaymentMode = "COUNTER"
	PaymentModeGateway PaymentMode = "GATEWAY"
)

// PaymentStatus tracks the payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusVerified  PaymentStatus = "VERIFIED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Settled reports whether the payment has been credited to its demand.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusVerified
}

// Terminal reports whether no further status change is allowed.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusInitiated
}

// Payment represents a payments table row.
type Payment struct {
	ID               uuid.UUID     `json:"id"`
	ARN              string        `json:"arn"`
	DemandID         uuid.UUID     `json:"demand_id"`
	Mode             PaymentMode   `json:"mode"`
	Status           PaymentStatus `json:"status"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	ReceiptNumber    *string       `json:"receipt_number,omitempty"`
	ProviderName     *string       `json:"provider_name,omitempty"`
	GatewayOrderID   *string       `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string       `json:"gateway_payment_id,omitempty"`
	GatewaySignature *string       `json:"-"`
	FailureReason    *string       `json:"failure_reason,omitempty"`
	RecordedBy       *string       `json:"recorded_by,omitempty"`
	VerifiedBy       *string       `json:"verified_by,omitempty"`
	VerifiedAt       *time.Time    `json:"verified_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// RecordPaymentParams holds the input for RecordPayment.
type RecordPaymentParams struct {
	ARN            string
	DemandID       uuid.UUID
	Mode           PaymentMode
	Amount         int64
	Currency       string
	ReceiptNumber  string
	GatewayOrderID string
	RecordedBy     string
	ActorType      ActorType
}

// VerifyGatewayParams holds the input for VerifyGatewayPayment.
type VerifyGatewayParams struct {
	PaymentID        uuid.UUID
	GatewayPaymentID string
	GatewaySignature string
	VerifiedBy       string
	ActorType        ActorType
}

// CallbackPayload is the normalized body of a gateway webhook.
type CallbackPayload struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewaySignature string `json:"gateway_signature"`
	Status           string `json:"status"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

// PaymentResult is returned by every payment ledger operation.
type PaymentResult struct {
	Payment    *Payment   `json:"payment"`
	Demand     *FeeDemand `json:"demand"`
	Idempotent bool       `json:"idempotent"`
	// DemandPaid is true when this call moved the demand to PAID.
	DemandPaid bool          `json:"-"`
	Events     []OutboxDraft `json:"-"`
}
