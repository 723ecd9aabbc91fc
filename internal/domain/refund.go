package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus tracks the refund lifecycle.
type RefundStatus string

const (
	RefundRequested RefundStatus = "REQUESTED"
	RefundApproved  RefundStatus = "APPROVED"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundRejected  RefundStatus = "REJECTED"
)

// RefundRequest tracks a refund against a settled payment.
type RefundRequest struct {
	ID          uuid.UUID    `json:"id"`
	PaymentID   uuid.UUID    `json:"payment_id"`
	ARN         string       `json:"arn"`
	Amount      int64        `json:"amount"`
	Reason      string       `json:"reason"`
	Status      RefundStatus `json:"status"`
	RequestedBy string       `json:"requested_by"`
	DecidedBy   *string      `json:"decided_by,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// CreateRefundParams holds the input for CreateRefundRequest.
// Amount 0 means the full payment amount.
type CreateRefundParams struct {
	PaymentID   uuid.UUID
	Amount      int64
	Reason      string
	RequestedBy string
}

// RefundTransition is a single allowed status move.
type RefundTransition struct {
	From RefundStatus
	To   RefundStatus
}

var (
	RefundApprove = RefundTransition{From: RefundRequested, To: RefundApproved}
	RefundReject  = RefundTransition{From: RefundRequested, To: RefundRejected}
	RefundProcess = RefundTransition{From: RefundApproved, To: RefundProcessed}
)
