package domain

import (
	"time"

	"github.com/google/uuid"
)

// DemandStatus is derived from paid vs total and never set independently.
type DemandStatus string

const (
	DemandPending       DemandStatus = "PENDING"
	DemandPartiallyPaid DemandStatus = "PARTIALLY_PAID"
	DemandPaid          DemandStatus = "PAID"
)

// DeriveDemandStatus computes the status for the given paid/total amounts.
func DeriveDemandStatus(paid, total int64) DemandStatus {
	switch {
	case paid <= 0:
		return DemandPending
	case paid >= total:
		return DemandPaid
	default:
		return DemandPartiallyPaid
	}
}

// FeeLineItem is one assessed charge. Immutable once attached to a demand.
type FeeLineItem struct {
	ID          uuid.UUID  `json:"id"`
	ARN         string     `json:"arn"`
	HeadCode    string     `json:"head_code"`
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
	DemandID    *uuid.UUID `json:"demand_id,omitempty"`
	AssessedBy  *string    `json:"assessed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FeeLineInput is a line item to be assessed.
type FeeLineInput struct {
	HeadCode    string `json:"head_code" yaml:"headCode"`
	Description string `json:"description" yaml:"description"`
	Amount      int64  `json:"amount" yaml:"amount"`
}

// FeeDemand aggregates line items into a payable amount.
type FeeDemand struct {
	ID          uuid.UUID    `json:"id"`
	ARN         string       `json:"arn"`
	TotalAmount int64        `json:"total_amount"`
	PaidAmount  int64        `json:"paid_amount"`
	Status      DemandStatus `json:"status"`
	CreatedBy   *string      `json:"created_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Remaining returns the unpaid balance.
func (d *FeeDemand) Remaining() int64 {
	return d.TotalAmount - d.PaidAmount
}

// DemandDetail is the read-only view of a demand with its items and payments.
type DemandDetail struct {
	Demand    FeeDemand     `json:"demand"`
	LineItems []FeeLineItem `json:"line_items"`
	Payments  []Payment     `json:"payments"`
}

// CreateDemandParams holds the input for CreateDemand.
type CreateDemandParams struct {
	ARN         string
	LineItemIDs []uuid.UUID
	CreatedBy   string
}
