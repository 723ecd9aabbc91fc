package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventApplicationCreated  EventType = "application.created"
	EventApplicationUpdated  EventType = "application.data.updated"
	EventApplicationState    EventType = "application.state.changed"
	EventFeesAssessed        EventType = "fee.assessed"
	EventDemandCreated       EventType = "fee.demand.created"
	EventPaymentRecorded     EventType = "payment.recorded"
	EventPaymentVerified     EventType = "payment.verified"
	EventPaymentFailed       EventType = "payment.failed"
	EventRefundRequested     EventType = "refund.requested"
	EventRefundStatusChanged EventType = "refund.status.changed"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateApplication AggregateType = "application"
	AggregateDemand      AggregateType = "demand"
	AggregatePayment     AggregateType = "payment"
	AggregateRefund      AggregateType = "refund"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}
