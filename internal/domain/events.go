package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// newDraft partitions every event by ARN so per-application ordering survives Kafka.
func newDraft(aggType AggregateType, aggID string, evtType EventType, arn string, payload interface{}) OutboxDraft {
	raw, _ := json.Marshal(payload)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: aggType,
		AggregateID:   aggID,
		EventType:     evtType,
		PartitionKey:  arn,
		Headers:       json.RawMessage(`{}`),
		Payload:       raw,
		OccurredAt:    time.Now(),
	}
}

// NewApplicationCreatedEvent is emitted when a draft application is created.
func NewApplicationCreatedEvent(app *Application) OutboxDraft {
	return newDraft(AggregateApplication, app.ARN, EventApplicationCreated, app.ARN, map[string]interface{}{
		"arn":             app.ARN,
		"service_key":     app.ServiceKey,
		"service_version": app.ServiceVersion,
		"authority_id":    app.AuthorityID,
		"state_id":        app.StateID,
	})
}

// NewApplicationUpdatedEvent is emitted after a successful optimistic data update.
func NewApplicationUpdatedEvent(arn string, rowVersion int64) OutboxDraft {
	return newDraft(AggregateApplication, arn, EventApplicationUpdated, arn, map[string]interface{}{
		"arn":         arn,
		"row_version": rowVersion,
	})
}

// NewStateChangedEvent is emitted by every applied workflow transition.
func NewStateChangedEvent(arn, transitionID, from, to string, actorType ActorType, actorID string) OutboxDraft {
	return newDraft(AggregateApplication, arn, EventApplicationState, arn, map[string]string{
		"arn":           arn,
		"transition_id": transitionID,
		"from_state":    from,
		"to_state":      to,
		"actor_type":    string(actorType),
		"actor_id":      actorID,
	})
}

// NewFeesAssessedEvent is emitted when line items are added to an application.
func NewFeesAssessedEvent(arn string, items []FeeLineItem) OutboxDraft {
	var total int64
	for _, it := range items {
		total += it.Amount
	}
	return newDraft(AggregateApplication, arn, EventFeesAssessed, arn, map[string]interface{}{
		"arn":        arn,
		"line_count": len(items),
		"total":      total,
	})
}

// NewDemandCreatedEvent is emitted when line items are rolled into a demand.
func NewDemandCreatedEvent(d *FeeDemand) OutboxDraft {
	return newDraft(AggregateDemand, d.ID.String(), EventDemandCreated, d.ARN, d)
}

// NewPaymentEvent is emitted for payment lifecycle changes.
func NewPaymentEvent(evtType EventType, p *Payment, d *FeeDemand) OutboxDraft {
	payload := map[string]interface{}{
		"payment_id": p.ID.String(),
		"arn":        p.ARN,
		"demand_id":  p.DemandID.String(),
		"mode":       p.Mode,
		"status":     p.Status,
		"amount":     p.Amount,
	}
	if d != nil {
		payload["demand_paid_amount"] = d.PaidAmount
		payload["demand_status"] = d.Status
	}
	return newDraft(AggregatePayment, p.ID.String(), evtType, p.ARN, payload)
}

// NewRefundEvent is emitted for refund lifecycle changes.
func NewRefundEvent(evtType EventType, r *RefundRequest) OutboxDraft {
	return newDraft(AggregateRefund, r.ID.String(), evtType, r.ARN, r)
}
