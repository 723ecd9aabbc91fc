package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit event types.
const (
	AuditApplicationCreated = "APPLICATION_CREATED"
	AuditDataUpdated        = "APPLICATION_DATA_UPDATED"
	AuditStateChanged       = "STATE_CHANGED"
	AuditFeesAssessed       = "FEES_ASSESSED"
	AuditDemandCreated      = "DEMAND_CREATED"
	AuditPaymentRecorded    = "PAYMENT_RECORDED"
	AuditPaymentVerified    = "PAYMENT_VERIFIED"
	AuditPaymentFailed      = "PAYMENT_FAILED"
	AuditRefundRequested    = "REFUND_REQUESTED"
	AuditRefundStatus       = "REFUND_STATUS_CHANGED"
)

// AuditEvent is an append-only record written in the same transaction as the action.
type AuditEvent struct {
	ID        uuid.UUID       `json:"id"`
	ARN       string          `json:"arn"`
	EventType string          `json:"event_type"`
	ActorType ActorType       `json:"actor_type"`
	ActorID   string          `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewAuditEvent builds an audit event with a marshalled payload.
func NewAuditEvent(arn, eventType string, actorType ActorType, actorID string, payload interface{}) AuditEvent {
	raw, _ := json.Marshal(payload)
	if raw == nil || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	return AuditEvent{
		ID:        uuid.New(),
		ARN:       arn,
		EventType: eventType,
		ActorType: actorType,
		ActorID:   actorID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
}
